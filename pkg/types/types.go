// Package types defines the shared types used across all dyadscribe packages.
//
// These types form the lingua franca between the token reader, the segmenter,
// the analysis pipeline, and the persistence layer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

// TokenKind distinguishes the kinds of token an ASR provider emits.
type TokenKind string

const (
	// TokenWord is a recognised word (or punctuation attached to one).
	TokenWord TokenKind = "word"

	// TokenSpacing is an inter-word spacing marker. Spacing tokens carry no
	// speaker or textual content relevant to utterance output.
	TokenSpacing TokenKind = "spacing"
)

// IsValid reports whether k is a recognised token kind.
func (k TokenKind) IsValid() bool {
	return k == TokenWord || k == TokenSpacing
}

// Token is the minimal timestamped unit of speech recognition output: a word
// or a spacing marker with an associated speaker guess. Tokens are produced
// externally by the ASR provider and consumed once by the segmenter; they are
// never mutated.
type Token struct {
	// Text is the recognised content of the token.
	Text string

	// Kind classifies the token. Only TokenWord tokens contribute to utterances.
	Kind TokenKind

	// SpeakerID is the diarization speaker guess (e.g., "speaker_0").
	// May be empty when diarization briefly loses the speaker.
	SpeakerID string

	// Start is the token's start offset in seconds from recording start.
	Start float64

	// End is the token's end offset in seconds from recording start.
	End float64
}

// Role is the semantic role assigned to a speaker by the Role Identification
// stage of the analysis pipeline.
type Role string

const (
	RoleChild   Role = "child"
	RoleParent  Role = "parent"
	RoleUnknown Role = "unknown"
)

// IsValid reports whether r is a recognised role label.
func (r Role) IsValid() bool {
	switch r {
	case RoleChild, RoleParent, RoleUnknown:
		return true
	}
	return false
}

// Utterance is a contiguous span of text attributed to one speaker between
// recognised boundaries (a speaker change or sentence-terminal punctuation).
//
// Invariants: StartTime <= EndTime; Text is non-empty after trimming; the
// utterances of a session are totally ordered by StartTime. Role and Tag are
// empty until the corresponding pipeline stage commits.
type Utterance struct {
	// ID is the persistent identifier of the utterance. Empty for transient
	// utterances that have not been stored yet.
	ID string

	// SessionID links the utterance to its recording session.
	SessionID string

	// SpeakerID is the diarization speaker label the utterance is attributed to.
	SpeakerID string

	// Text is the concatenated token text of the utterance.
	Text string

	// StartTime is the utterance start offset in seconds from recording start.
	StartTime float64

	// EndTime is the utterance end offset in seconds from recording start.
	EndTime float64

	// Role is the speaker role assigned by Role Identification (lower-cased).
	Role Role

	// Tag is the DPICS behaviour tag assigned by Tag Assignment.
	Tag string
}

// SpeakerStatistics holds descriptive statistics for one speaker, derived
// from a session's utterance set. Statistics are a pure view — recomputable
// at any time, never persisted independently.
type SpeakerStatistics struct {
	SpeakerID                   string
	UtteranceCount              int
	TotalDurationSeconds        float64
	CharacterCount              int
	AvgUtteranceDurationSeconds float64
}

// SessionMode selects which PCIT interaction phase a session records.
type SessionMode string

const (
	// ModeCDI is the Child-Directed Interaction phase.
	ModeCDI SessionMode = "CDI"

	// ModePDI is the Parent-Directed Interaction phase.
	ModePDI SessionMode = "PDI"
)

// IsValid reports whether m is a recognised session mode.
func (m SessionMode) IsValid() bool {
	return m == ModeCDI || m == ModePDI
}

// Session is the recording session entity. The analysis pipeline reads and
// patches its aggregate fields; it never creates or deletes a Session.
type Session struct {
	// ID is the persistent session identifier.
	ID string

	// Mode is the PCIT phase this session records.
	Mode SessionMode

	// Language is the BCP-47 language tag of the recording (e.g., "zh-CN").
	Language string

	// RoleIdentificationJSON is the raw classification result persisted by
	// the Role Identification stage.
	RoleIdentificationJSON string

	// TagCounts aggregates per-tag utterance counts after Tag Assignment.
	TagCounts map[string]int

	// PCITCoding holds the downstream coding result (written externally).
	PCITCoding string

	// OverallScore is the downstream session score (written externally).
	OverallScore float64

	// CompetencyAnalysis holds the downstream competency narrative
	// (written externally).
	CompetencyAnalysis string
}
