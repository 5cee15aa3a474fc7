// Package postgres implements the persistence ports over PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens a pooled connection and verifies it
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// Schema creates the engine tables. hard_stop_state is a singleton row;
// policy_versions and audit_events are append-only ledgers.
const Schema = `
CREATE TABLE IF NOT EXISTS hard_stop_state (
	id                 INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	is_active          BOOLEAN NOT NULL DEFAULT FALSE,
	daily_loss         NUMERIC(18,2) NOT NULL DEFAULT 0,
	consecutive_losses INT NOT NULL DEFAULT 0,
	bankroll_percent   DOUBLE PRECISION NOT NULL DEFAULT 0,
	triggered_at       TIMESTAMPTZ,
	trigger_reason     TEXT,
	last_reset_at      TIMESTAMPTZ,
	revision           BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS policy_versions (
	seq           BIGSERIAL PRIMARY KEY,
	version_id    TEXT NOT NULL UNIQUE,
	config        JSONB NOT NULL,
	changed_by    TEXT NOT NULL,
	changed_at    TIMESTAMPTZ NOT NULL,
	is_restore    BOOLEAN NOT NULL DEFAULT FALSE,
	restored_from TEXT
);

CREATE TABLE IF NOT EXISTS policy_decisions (
	id                    TEXT PRIMARY KEY,
	trace_id              TEXT NOT NULL,
	prediction_id         TEXT NOT NULL,
	match_id              TEXT NOT NULL,
	status                TEXT NOT NULL,
	gate_results          JSONB NOT NULL,
	rationale             TEXT NOT NULL,
	confidence            DOUBLE PRECISION NOT NULL,
	edge                  DOUBLE PRECISION,
	drift_score           DOUBLE PRECISION NOT NULL,
	hard_stop_triggered   BOOLEAN NOT NULL DEFAULT FALSE,
	hard_stop_reason      TEXT,
	suggested_stake       DOUBLE PRECISION NOT NULL DEFAULT 0,
	model_version         TEXT NOT NULL,
	policy_config_version TEXT NOT NULL,
	executed_at           TIMESTAMPTZ NOT NULL,
	published_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_policy_decisions_trace ON policy_decisions (trace_id);
CREATE INDEX IF NOT EXISTS idx_policy_decisions_executed ON policy_decisions (executed_at DESC);

CREATE TABLE IF NOT EXISTS audit_events (
	seq         BIGSERIAL PRIMARY KEY,
	action      TEXT NOT NULL,
	actor_id    TEXT,
	actor_role  TEXT,
	target_id   TEXT,
	target_type TEXT,
	metadata    JSONB,
	trace_id    TEXT,
	ts          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events (action, ts DESC);
`

// EnsureSchema applies the schema idempotently
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	// Seed the singleton row so SELECT ... FOR UPDATE always finds it
	if _, err := db.ExecContext(ctx,
		`INSERT INTO hard_stop_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return fmt.Errorf("failed to seed hard stop state: %w", err)
	}
	return nil
}
