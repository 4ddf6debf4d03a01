// Package store defines the persistence interface for sessions and utterances.
//
// The analysis pipeline treats persisted Session and Utterance records as
// externally owned resources it reads and patches; it holds no authoritative
// in-memory copy across stages. Patches carry only the fields to change —
// nil pointer fields are left untouched — so a stage never destroys data it
// did not itself write.
//
// Implementations must be safe for concurrent use: the pipeline issues the
// per-speaker and per-utterance patches of a stage concurrently.
package store

import (
	"context"
	"errors"

	"github.com/interactlab/dyadscribe/pkg/types"
)

// ErrNotFound is returned when a referenced session or utterance is absent.
var ErrNotFound = errors.New("store: record not found")

// UtterancePatch selects utterance fields to update. Nil fields are unchanged.
type UtterancePatch struct {
	Role *types.Role
	Tag  *string
}

// SessionPatch selects session aggregate fields to update. Nil fields are
// unchanged.
type SessionPatch struct {
	RoleIdentificationJSON *string
	TagCounts              map[string]int
	PCITCoding             *string
	OverallScore           *float64
	CompetencyAnalysis     *string
}

// Store is the persistence interface the pipeline and the ingest path depend on.
type Store interface {
	// GetSession returns the session record, or [ErrNotFound].
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// PatchSession applies patch to the session and returns the updated
	// record, or [ErrNotFound].
	PatchSession(ctx context.Context, sessionID string, patch SessionPatch) (*types.Session, error)

	// GetUtterances returns the session's utterances ordered by start time.
	// A session with no utterances yields an empty slice, not an error.
	GetUtterances(ctx context.Context, sessionID string) ([]types.Utterance, error)

	// PatchUtterance applies patch to one utterance and returns the updated
	// record, or [ErrNotFound].
	PatchUtterance(ctx context.Context, utteranceID string, patch UtterancePatch) (*types.Utterance, error)

	// PatchUtterancesBySpeaker applies patch to every utterance of the
	// session sharing speakerID and returns the number of records updated.
	PatchUtterancesBySpeaker(ctx context.Context, sessionID, speakerID string, patch UtterancePatch) (int64, error)

	// InsertUtterances stores freshly segmented utterances under sessionID.
	InsertUtterances(ctx context.Context, sessionID string, utterances []types.Utterance) error
}
