package segment

import (
	"strings"

	"github.com/interactlab/dyadscribe/pkg/types"
)

// Statistics folds an utterance sequence into per-speaker descriptive
// statistics. It is a pure function: an empty utterance set yields an empty
// map, and the result is recomputable at any time from the utterance set.
//
// Character counts exclude sentence-terminal punctuation marks. Average
// durations are computed once after all utterances are folded in, so callers
// never observe an incrementally inconsistent average.
func Statistics(utterances []types.Utterance) map[string]types.SpeakerStatistics {
	stats := make(map[string]types.SpeakerStatistics, 4)

	for _, u := range utterances {
		s := stats[u.SpeakerID]
		s.SpeakerID = u.SpeakerID
		s.UtteranceCount++
		s.TotalDurationSeconds += u.EndTime - u.StartTime
		s.CharacterCount += countCharacters(u.Text)
		stats[u.SpeakerID] = s
	}

	for id, s := range stats {
		s.AvgUtteranceDurationSeconds = s.TotalDurationSeconds / float64(s.UtteranceCount)
		stats[id] = s
	}

	return stats
}

// countCharacters returns the number of runes in text, excluding
// sentence-terminal punctuation.
func countCharacters(text string) int {
	n := 0
	for _, r := range text {
		if strings.ContainsRune(terminalRunes, r) {
			continue
		}
		n++
	}
	return n
}
