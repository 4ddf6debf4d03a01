package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id                  TEXT         PRIMARY KEY,
    mode                TEXT         NOT NULL DEFAULT 'CDI',
    language            TEXT         NOT NULL DEFAULT '',
    role_identification TEXT         NOT NULL DEFAULT '',
    tag_counts          JSONB,
    pcit_coding         TEXT         NOT NULL DEFAULT '',
    overall_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    competency_analysis TEXT         NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);`

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id          TEXT             PRIMARY KEY DEFAULT gen_random_uuid()::text,
    session_id  TEXT             NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    speaker_id  TEXT             NOT NULL DEFAULT '',
    text        TEXT             NOT NULL,
    start_time  DOUBLE PRECISION NOT NULL,
    end_time    DOUBLE PRECISION NOT NULL,
    role        TEXT             NOT NULL DEFAULT '',
    tag         TEXT             NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_utterances_session_start
    ON utterances (session_id, start_time);

CREATE INDEX IF NOT EXISTS idx_utterances_session_speaker
    ON utterances (session_id, speaker_id);`

// Migrate creates all required tables and indexes if they do not exist.
// It is called automatically by [NewStore].
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlSessions, ddlUtterances} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
