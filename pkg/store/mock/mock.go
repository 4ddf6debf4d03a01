// Package mock provides an in-memory test double for the store.Store interface.
//
// The mock behaves like a real store — patches mutate held records, so tests
// can verify idempotence and convergence across repeated stage runs — while
// error fields allow injecting failures for specific operations.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/interactlab/dyadscribe/pkg/store"
	"github.com/interactlab/dyadscribe/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store is a mock implementation of store.Store. Populate Sessions and
// Utterances before use; read call counters after the test. All methods are
// safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// Sessions holds session records keyed by ID.
	Sessions map[string]*types.Session

	// Utterances holds utterance records in insertion order.
	Utterances []types.Utterance

	// --- Injectable errors ---

	// GetSessionErr, if non-nil, is returned by GetSession.
	GetSessionErr error

	// GetUtterancesErr, if non-nil, is returned by GetUtterances.
	GetUtterancesErr error

	// PatchSessionErr, if non-nil, is returned by PatchSession.
	PatchSessionErr error

	// PatchUtteranceErr, if non-nil, is returned by PatchUtterance.
	PatchUtteranceErr error

	// PatchBySpeakerErr maps speaker IDs to errors returned by
	// PatchUtterancesBySpeaker for that speaker.
	PatchBySpeakerErr map[string]error

	// --- Call counters (read after test) ---

	GetSessionCalls     int
	GetUtterancesCalls  int
	PatchSessionCalls   int
	PatchUtteranceCalls int
	PatchBySpeakerCalls int
}

// New returns an empty mock store.
func New() *Store {
	return &Store{Sessions: map[string]*types.Session{}}
}

// GetSession implements store.Store.
func (s *Store) GetSession(_ context.Context, sessionID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetSessionCalls++

	if s.GetSessionErr != nil {
		return nil, s.GetSessionErr
	}
	sess, ok := s.Sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// PatchSession implements store.Store.
func (s *Store) PatchSession(_ context.Context, sessionID string, patch store.SessionPatch) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PatchSessionCalls++

	if s.PatchSessionErr != nil {
		return nil, s.PatchSessionErr
	}
	sess, ok := s.Sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.RoleIdentificationJSON != nil {
		sess.RoleIdentificationJSON = *patch.RoleIdentificationJSON
	}
	if patch.TagCounts != nil {
		sess.TagCounts = patch.TagCounts
	}
	if patch.PCITCoding != nil {
		sess.PCITCoding = *patch.PCITCoding
	}
	if patch.OverallScore != nil {
		sess.OverallScore = *patch.OverallScore
	}
	if patch.CompetencyAnalysis != nil {
		sess.CompetencyAnalysis = *patch.CompetencyAnalysis
	}
	cp := *sess
	return &cp, nil
}

// GetUtterances implements store.Store.
func (s *Store) GetUtterances(_ context.Context, sessionID string) ([]types.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetUtterancesCalls++

	if s.GetUtterancesErr != nil {
		return nil, s.GetUtterancesErr
	}
	var out []types.Utterance
	for _, u := range s.Utterances {
		if u.SessionID == sessionID {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

// PatchUtterance implements store.Store.
func (s *Store) PatchUtterance(_ context.Context, utteranceID string, patch store.UtterancePatch) (*types.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PatchUtteranceCalls++

	if s.PatchUtteranceErr != nil {
		return nil, s.PatchUtteranceErr
	}
	for i := range s.Utterances {
		if s.Utterances[i].ID != utteranceID {
			continue
		}
		applyPatch(&s.Utterances[i], patch)
		cp := s.Utterances[i]
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

// PatchUtterancesBySpeaker implements store.Store.
func (s *Store) PatchUtterancesBySpeaker(_ context.Context, sessionID, speakerID string, patch store.UtterancePatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PatchBySpeakerCalls++

	if err := s.PatchBySpeakerErr[speakerID]; err != nil {
		return 0, err
	}
	var n int64
	for i := range s.Utterances {
		if s.Utterances[i].SessionID == sessionID && s.Utterances[i].SpeakerID == speakerID {
			applyPatch(&s.Utterances[i], patch)
			n++
		}
	}
	return n, nil
}

// InsertUtterances implements store.Store. Inserted utterances without an ID
// are assigned a sequential one.
func (s *Store) InsertUtterances(_ context.Context, sessionID string, utterances []types.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range utterances {
		u.SessionID = sessionID
		if u.ID == "" {
			u.ID = fmt.Sprintf("utt-%d", len(s.Utterances)+1)
		}
		s.Utterances = append(s.Utterances, u)
	}
	return nil
}

func applyPatch(u *types.Utterance, patch store.UtterancePatch) {
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.Tag != nil {
		u.Tag = *patch.Tag
	}
}
