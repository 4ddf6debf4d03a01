package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/interactlab/dyadscribe/pkg/types"
)

// roleResult is the validated Role Identification payload: one entry per
// distinct speaker identifier.
type roleResult struct {
	Speakers map[string]speakerRole `json:"speaker_identification"`
}

// speakerRole is one speaker's classified role plus the model's confidence.
type speakerRole struct {
	Role       string  `json:"role"`
	Confidence float64 `json:"confidence"`
}

// tagResult is the validated Tag Assignment payload: a mapping from utterance
// identifier to tag value.
type tagResult struct {
	Tags map[string]string `json:"utterance_tags"`
}

// decodeRoleResponse normalizes and validates a Role Identification payload.
// It returns the decoded result together with the normalized JSON text (code
// fences stripped) suitable for persisting on the session record. Missing or
// malformed fields surface as [ErrResponseParse].
func decodeRoleResponse(content string) (*roleResult, string, error) {
	cleaned := stripMarkdown(content)

	var r roleResult
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, "", fmt.Errorf("%w: decode role payload: %v", ErrResponseParse, err)
	}
	if len(r.Speakers) == 0 {
		return nil, "", fmt.Errorf("%w: missing or empty speaker_identification", ErrResponseParse)
	}
	for id, sr := range r.Speakers {
		if id == "" {
			return nil, "", fmt.Errorf("%w: empty speaker identifier", ErrResponseParse)
		}
		role := types.Role(strings.ToLower(sr.Role))
		if !role.IsValid() {
			return nil, "", fmt.Errorf("%w: speaker %q has invalid role %q", ErrResponseParse, id, sr.Role)
		}
		if sr.Confidence < 0 || sr.Confidence > 1 {
			return nil, "", fmt.Errorf("%w: speaker %q has confidence %v outside [0,1]", ErrResponseParse, id, sr.Confidence)
		}
	}
	return &r, cleaned, nil
}

// decodeTagResponse normalizes and validates a Tag Assignment payload against
// the set of known utterance identifiers. A tag referencing an unknown
// utterance or carrying an empty value surfaces as [ErrResponseParse].
func decodeTagResponse(content string, known map[string]bool) (*tagResult, error) {
	cleaned := stripMarkdown(content)

	var r tagResult
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("%w: decode tag payload: %v", ErrResponseParse, err)
	}
	if len(r.Tags) == 0 {
		return nil, fmt.Errorf("%w: missing or empty utterance_tags", ErrResponseParse)
	}
	for id, tag := range r.Tags {
		if !known[id] {
			return nil, fmt.Errorf("%w: tag references unknown utterance %q", ErrResponseParse, id)
		}
		if strings.TrimSpace(tag) == "" {
			return nil, fmt.Errorf("%w: utterance %q has empty tag", ErrResponseParse, id)
		}
		r.Tags[id] = strings.ToLower(strings.TrimSpace(tag))
	}
	return &r, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
