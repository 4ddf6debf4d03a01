// Package segment groups word-level ASR tokens into speaker utterances and
// derives per-speaker statistics from them.
//
// Segmentation is a deterministic fold over the token stream: an explicit
// accumulator value is threaded through each step, flushed into a completed
// utterance whenever the speaker changes or the text reaches sentence-terminal
// punctuation. The same token sequence always yields an identical utterance
// sequence — there is no dependence on wall-clock time, map iteration order,
// or concurrency.
package segment

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/interactlab/dyadscribe/pkg/types"
)

// ErrEmptyInput is returned by [Segment] when the token stream holds no tokens.
var ErrEmptyInput = errors.New("segment: no tokens to process")

// terminalRunes are the sentence-terminal punctuation marks that end an
// utterance: ASCII and their CJK full-width equivalents.
const terminalRunes = ".!?。！？"

// accumulator is the in-progress utterance threaded through the fold.
// A zero accumulator is fully empty: no speaker, no text, no offsets.
type accumulator struct {
	speaker    string
	speakerSet bool
	text       string
	start      float64
	end        float64
}

// emit converts the accumulator into a completed utterance.
func (a accumulator) emit() types.Utterance {
	return types.Utterance{
		SpeakerID: a.speaker,
		Text:      strings.TrimSpace(a.text),
		StartTime: a.start,
		EndTime:   a.end,
	}
}

// hasText reports whether the accumulator holds non-empty trimmed text.
func (a accumulator) hasText() bool {
	return strings.TrimSpace(a.text) != ""
}

// Segment folds an ordered token sequence into an ordered utterance sequence.
//
// Spacing tokens are skipped entirely. A speaker change flushes the current
// utterance with its end set to the incoming token's start offset; terminal
// punctuation flushes it and resets the speaker slot to unknown, so a
// continuation by the same physical speaker after a sentence boundary becomes
// a fresh, independently speaker-tagged utterance. A trailing accumulator
// with non-empty text is emitted at stream end regardless of missing terminal
// punctuation or speaker information.
//
// Returns [ErrEmptyInput] when tokens is empty.
func Segment(tokens []types.Token) ([]types.Utterance, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyInput
	}

	var (
		out []types.Utterance
		acc accumulator
	)

	for _, tok := range tokens {
		if tok.Kind == types.TokenSpacing {
			continue
		}

		if !acc.speakerSet {
			acc.speaker = tok.SpeakerID
			acc.speakerSet = true
			acc.start = tok.Start
		}

		if tok.SpeakerID != acc.speaker && acc.hasText() {
			acc.end = tok.Start
			out = append(out, acc.emit())
			acc = accumulator{
				speaker:    tok.SpeakerID,
				speakerSet: true,
				start:      tok.Start,
			}
		}

		acc.text = joinToken(acc.text, tok.Text)
		acc.end = tok.End

		if endsWithTerminal(tok.Text) && acc.hasText() {
			out = append(out, acc.emit())
			acc = accumulator{}
		}
	}

	if acc.hasText() {
		out = append(out, acc.emit())
	}

	return out, nil
}

// joinToken appends token text to the accumulated utterance text. Adjacent
// Latin-script words are separated with a single space; CJK text and
// punctuation join directly, matching how the ASR tokenises each script.
func joinToken(acc, tok string) string {
	if acc == "" || tok == "" {
		return acc + tok
	}
	prev, _ := utf8.DecodeLastRuneInString(acc)
	next, _ := utf8.DecodeRuneInString(tok)
	if spacedRune(prev) && spacedRune(next) {
		return acc + " " + tok
	}
	return acc + tok
}

// spacedRune reports whether r belongs to a script that separates words with
// spaces. CJK ideographs and punctuation do not.
func spacedRune(r rune) bool {
	if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// endsWithTerminal reports whether text ends with a sentence-terminal
// punctuation mark.
func endsWithTerminal(text string) bool {
	r, size := utf8.DecodeLastRuneInString(text)
	if size == 0 {
		return false
	}
	return strings.ContainsRune(terminalRunes, r)
}
