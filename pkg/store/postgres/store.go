// Package postgres provides a PostgreSQL-backed implementation of the
// dyadscribe persistence interface.
//
// Sessions and utterances live in two tables sharing a single
// [pgxpool.Pool]. Patch operations translate nil-field patch structs into
// dynamic UPDATE statements so that unset fields are never touched — the
// property the pipeline's retry contract relies on.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interactlab/dyadscribe/pkg/store"
	"github.com/interactlab/dyadscribe/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed session/utterance store.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, pings it, and runs
// [Migrate] to ensure all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSession inserts a new session record. Not part of [store.Store] —
// session lifecycle is owned externally — but exposed for the CLI ingest path.
func (s *Store) CreateSession(ctx context.Context, sess types.Session) error {
	const q = `
		INSERT INTO sessions (id, mode, language)
		VALUES ($1, $2, $3)`

	_, err := s.pool.Exec(ctx, q, sess.ID, sess.Mode, sess.Language)
	if err != nil {
		return fmt.Errorf("postgres store: create session: %w", err)
	}
	return nil
}

// GetSession implements [store.Store].
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	const q = `
		SELECT id, mode, language, role_identification, tag_counts,
		       pcit_coding, overall_score, competency_analysis
		FROM   sessions
		WHERE  id = $1`

	row := s.pool.QueryRow(ctx, q, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}
	return sess, nil
}

// PatchSession implements [store.Store]. Only non-nil patch fields are written.
func (s *Store) PatchSession(ctx context.Context, sessionID string, patch store.SessionPatch) (*types.Session, error) {
	args := []any{sessionID} // $1 = session id
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sets []string
	if patch.RoleIdentificationJSON != nil {
		sets = append(sets, "role_identification = "+next(*patch.RoleIdentificationJSON))
	}
	if patch.TagCounts != nil {
		buf, err := json.Marshal(patch.TagCounts)
		if err != nil {
			return nil, fmt.Errorf("postgres store: marshal tag counts: %w", err)
		}
		sets = append(sets, "tag_counts = "+next(buf))
	}
	if patch.PCITCoding != nil {
		sets = append(sets, "pcit_coding = "+next(*patch.PCITCoding))
	}
	if patch.OverallScore != nil {
		sets = append(sets, "overall_score = "+next(*patch.OverallScore))
	}
	if patch.CompetencyAnalysis != nil {
		sets = append(sets, "competency_analysis = "+next(*patch.CompetencyAnalysis))
	}
	if len(sets) == 0 {
		return s.GetSession(ctx, sessionID)
	}

	q := "UPDATE sessions SET " + strings.Join(sets, ", ") + "\n" +
		"WHERE id = $1\n" +
		"RETURNING id, mode, language, role_identification, tag_counts,\n" +
		"          pcit_coding, overall_score, competency_analysis"

	row := s.pool.QueryRow(ctx, q, args...)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: patch session: %w", err)
	}
	return sess, nil
}

// GetUtterances implements [store.Store]. Utterances are ordered by start time.
func (s *Store) GetUtterances(ctx context.Context, sessionID string) ([]types.Utterance, error) {
	const q = `
		SELECT id, session_id, speaker_id, text, start_time, end_time, role, tag
		FROM   utterances
		WHERE  session_id = $1
		ORDER  BY start_time`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get utterances: %w", err)
	}
	return collectUtterances(rows)
}

// PatchUtterance implements [store.Store].
func (s *Store) PatchUtterance(ctx context.Context, utteranceID string, patch store.UtterancePatch) (*types.Utterance, error) {
	args := []any{utteranceID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := patchSets(patch, next)
	if len(sets) == 0 {
		return nil, fmt.Errorf("postgres store: patch utterance: empty patch")
	}

	q := "UPDATE utterances SET " + strings.Join(sets, ", ") + "\n" +
		"WHERE id = $1\n" +
		"RETURNING id, session_id, speaker_id, text, start_time, end_time, role, tag"

	var u types.Utterance
	var role string
	err := s.pool.QueryRow(ctx, q, args...).Scan(
		&u.ID, &u.SessionID, &u.SpeakerID, &u.Text,
		&u.StartTime, &u.EndTime, &role, &u.Tag,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: patch utterance: %w", err)
	}
	u.Role = types.Role(role)
	return &u, nil
}

// PatchUtterancesBySpeaker implements [store.Store].
func (s *Store) PatchUtterancesBySpeaker(ctx context.Context, sessionID, speakerID string, patch store.UtterancePatch) (int64, error) {
	args := []any{sessionID, speakerID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := patchSets(patch, next)
	if len(sets) == 0 {
		return 0, fmt.Errorf("postgres store: patch by speaker: empty patch")
	}

	q := "UPDATE utterances SET " + strings.Join(sets, ", ") + "\n" +
		"WHERE session_id = $1 AND speaker_id = $2"

	ct, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres store: patch by speaker: %w", err)
	}
	return ct.RowsAffected(), nil
}

// InsertUtterances implements [store.Store]. All rows are written in one batch.
func (s *Store) InsertUtterances(ctx context.Context, sessionID string, utterances []types.Utterance) error {
	const q = `
		INSERT INTO utterances (session_id, speaker_id, text, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, u := range utterances {
		batch.Queue(q, sessionID, u.SpeakerID, u.Text, u.StartTime, u.EndTime)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range utterances {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres store: insert utterances: %w", err)
		}
	}
	return nil
}

// patchSets builds the SET clauses for an utterance patch.
func patchSets(patch store.UtterancePatch, next func(any) string) []string {
	var sets []string
	if patch.Role != nil {
		sets = append(sets, "role = "+next(string(*patch.Role)))
	}
	if patch.Tag != nil {
		sets = append(sets, "tag = "+next(*patch.Tag))
	}
	return sets
}

// scanSession scans one sessions row.
func scanSession(row pgx.Row) (*types.Session, error) {
	var (
		sess      types.Session
		mode      string
		tagCounts []byte
	)
	if err := row.Scan(
		&sess.ID, &mode, &sess.Language, &sess.RoleIdentificationJSON,
		&tagCounts, &sess.PCITCoding, &sess.OverallScore, &sess.CompetencyAnalysis,
	); err != nil {
		return nil, err
	}
	sess.Mode = types.SessionMode(mode)
	if len(tagCounts) > 0 {
		if err := json.Unmarshal(tagCounts, &sess.TagCounts); err != nil {
			return nil, fmt.Errorf("unmarshal tag counts: %w", err)
		}
	}
	return &sess, nil
}

// collectUtterances scans pgx rows into a slice of Utterance values.
func collectUtterances(rows pgx.Rows) ([]types.Utterance, error) {
	utts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Utterance, error) {
		var (
			u    types.Utterance
			role string
		)
		if err := row.Scan(
			&u.ID, &u.SessionID, &u.SpeakerID, &u.Text,
			&u.StartTime, &u.EndTime, &role, &u.Tag,
		); err != nil {
			return types.Utterance{}, err
		}
		u.Role = types.Role(role)
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if utts == nil {
		utts = []types.Utterance{}
	}
	return utts, nil
}
