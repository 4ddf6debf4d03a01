package pipeline

import (
	"errors"
	"testing"
)

func TestDecodeRoleResponse(t *testing.T) {
	t.Parallel()

	t.Run("plain JSON", func(t *testing.T) {
		t.Parallel()
		r, raw, err := decodeRoleResponse(`{"speaker_identification":{"speaker_0":{"role":"CHILD","confidence":0.95}}}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sr, ok := r.Speakers["speaker_0"]
		if !ok {
			t.Fatal("speaker_0 missing from result")
		}
		if sr.Role != "CHILD" || sr.Confidence != 0.95 {
			t.Fatalf("unexpected speaker role: %+v", sr)
		}
		if raw == "" {
			t.Fatal("normalized raw payload is empty")
		}
	})

	t.Run("fenced JSON", func(t *testing.T) {
		t.Parallel()
		content := "```json\n{\"speaker_identification\":{\"speaker_1\":{\"role\":\"parent\",\"confidence\":0.8}}}\n```"
		r, raw, err := decodeRoleResponse(content)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := r.Speakers["speaker_1"]; !ok {
			t.Fatal("speaker_1 missing from result")
		}
		if raw[0] != '{' {
			t.Fatalf("raw payload not normalized: %q", raw)
		}
	})

	t.Run("not JSON", func(t *testing.T) {
		t.Parallel()
		_, _, err := decodeRoleResponse("I could not classify the speakers.")
		if !errors.Is(err, ErrResponseParse) {
			t.Fatalf("want ErrResponseParse, got %v", err)
		}
	})

	t.Run("missing speaker map", func(t *testing.T) {
		t.Parallel()
		_, _, err := decodeRoleResponse(`{"something_else": 1}`)
		if !errors.Is(err, ErrResponseParse) {
			t.Fatalf("want ErrResponseParse, got %v", err)
		}
	})

	t.Run("invalid role label", func(t *testing.T) {
		t.Parallel()
		_, _, err := decodeRoleResponse(`{"speaker_identification":{"speaker_0":{"role":"THERAPIST","confidence":0.9}}}`)
		if !errors.Is(err, ErrResponseParse) {
			t.Fatalf("want ErrResponseParse, got %v", err)
		}
	})

	t.Run("confidence out of range", func(t *testing.T) {
		t.Parallel()
		_, _, err := decodeRoleResponse(`{"speaker_identification":{"speaker_0":{"role":"CHILD","confidence":1.5}}}`)
		if !errors.Is(err, ErrResponseParse) {
			t.Fatalf("want ErrResponseParse, got %v", err)
		}
	})
}

func TestDecodeTagResponse(t *testing.T) {
	t.Parallel()

	known := map[string]bool{"utt-1": true, "utt-2": true}

	t.Run("valid payload normalizes tags", func(t *testing.T) {
		t.Parallel()
		r, err := decodeTagResponse(`{"utterance_tags":{"utt-1":"Labeled_Praise","utt-2":" question "}}`, known)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Tags["utt-1"] != "labeled_praise" {
			t.Fatalf("want labeled_praise, got %q", r.Tags["utt-1"])
		}
		if r.Tags["utt-2"] != "question" {
			t.Fatalf("want question, got %q", r.Tags["utt-2"])
		}
	})

	t.Run("unknown utterance id", func(t *testing.T) {
		t.Parallel()
		_, err := decodeTagResponse(`{"utterance_tags":{"utt-9":"question"}}`, known)
		if !errors.Is(err, ErrResponseParse) {
			t.Fatalf("want ErrResponseParse, got %v", err)
		}
	})

	t.Run("empty tag value", func(t *testing.T) {
		t.Parallel()
		_, err := decodeTagResponse(`{"utterance_tags":{"utt-1":"  "}}`, known)
		if !errors.Is(err, ErrResponseParse) {
			t.Fatalf("want ErrResponseParse, got %v", err)
		}
	})

	t.Run("empty mapping", func(t *testing.T) {
		t.Parallel()
		_, err := decodeTagResponse(`{"utterance_tags":{}}`, known)
		if !errors.Is(err, ErrResponseParse) {
			t.Fatalf("want ErrResponseParse, got %v", err)
		}
	})
}

func TestStripMarkdown(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n{\"a\":1}\n  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := stripMarkdown(tc.in); got != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}
