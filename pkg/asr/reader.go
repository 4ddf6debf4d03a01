// Package asr normalizes raw speech-recognition output into the ordered token
// stream consumed by the segmenter.
//
// ASR providers emit word-level results as JSON: a language tag plus a list of
// timestamped words, each carrying a kind ("word" or "spacing") and a
// diarization speaker guess. [Parse] decodes such a payload, validates every
// token, and restores stream order when the provider emitted words out of
// order.
package asr

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/interactlab/dyadscribe/pkg/types"
)

// TokenStream is a normalized recognition result: session-level metadata plus
// the ordered token sequence.
type TokenStream struct {
	// Language is the BCP-47 language tag reported by the provider.
	Language string

	// Tokens is the token sequence in stream order (ascending start offset).
	Tokens []types.Token
}

// rawPayload mirrors the provider wire format.
type rawPayload struct {
	Language string    `json:"language"`
	Words    []rawWord `json:"words"`
}

type rawWord struct {
	Text      string  `json:"text"`
	Kind      string  `json:"kind"`
	SpeakerID *string `json:"speaker_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// ParseFile reads and normalizes the recognition payload at path.
// It is a convenience wrapper around [Parse].
func ParseFile(path string) (*TokenStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asr: open %q: %w", path, err)
	}
	defer f.Close()

	stream, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("asr: parse %q: %w", path, err)
	}
	return stream, nil
}

// Parse decodes a raw recognition payload from r and returns a normalized
// [TokenStream]. Tokens with an unrecognised kind are rejected; a missing
// speaker guess becomes the empty speaker label. Words are stably sorted by
// start offset so downstream segmentation sees true stream order even when
// the provider interleaves channels.
func Parse(r io.Reader) (*TokenStream, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var raw rawPayload
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("asr: decode payload: %w", err)
	}

	tokens := make([]types.Token, 0, len(raw.Words))
	for i, w := range raw.Words {
		kind := types.TokenKind(w.Kind)
		if !kind.IsValid() {
			return nil, fmt.Errorf("asr: words[%d]: unknown token kind %q", i, w.Kind)
		}
		if w.End < w.Start {
			return nil, fmt.Errorf("asr: words[%d]: end %.3f precedes start %.3f", i, w.End, w.Start)
		}
		speaker := ""
		if w.SpeakerID != nil {
			speaker = *w.SpeakerID
		}
		tokens = append(tokens, types.Token{
			Text:      w.Text,
			Kind:      kind,
			SpeakerID: speaker,
			Start:     w.Start,
			End:       w.End,
		})
	}

	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].Start < tokens[j].Start
	})

	return &TokenStream{Language: raw.Language, Tokens: tokens}, nil
}
