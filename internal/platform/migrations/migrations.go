// Package migrations holds the ordered DDL for the reward engine schema and
// applies it at startup. Statements are idempotent so repeated boots are safe.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS module_definitions (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		type          TEXT NOT NULL,
		rarity        TEXT,
		energy_cost   NUMERIC(20, 4) NOT NULL DEFAULT 0,
		dopamine_rate NUMERIC(20, 4) NOT NULL DEFAULT 0,
		effects       JSONB,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS owned_modules (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		definition_id TEXT NOT NULL REFERENCES module_definitions(id),
		level         INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
		enhancement   NUMERIC(20, 4) NOT NULL DEFAULT 0 CHECK (enhancement >= 0),
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS focus_sessions (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		task_id            TEXT,
		category           TEXT,
		planned_minutes    INTEGER NOT NULL CHECK (planned_minutes > 0),
		actual_minutes     INTEGER,
		status             TEXT NOT NULL,
		interruptions      INTEGER NOT NULL DEFAULT 0,
		assembly           JSONB,
		energy_generated   NUMERIC(20, 4),
		dopamine_generated NUMERIC(20, 4),
		started_at         TIMESTAMPTZ,
		ended_at           TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_focus_sessions_user ON focus_sessions (user_id)`,

	`CREATE INDEX IF NOT EXISTS idx_focus_sessions_status ON focus_sessions (status)`,

	`CREATE TABLE IF NOT EXISTS reward_balances (
		user_id           TEXT PRIMARY KEY,
		energy            NUMERIC(20, 4) NOT NULL DEFAULT 0 CHECK (energy >= 0),
		dopamine          NUMERIC(20, 4) NOT NULL DEFAULT 0 CHECK (dopamine >= 0),
		lifetime_energy   NUMERIC(20, 4) NOT NULL DEFAULT 0 CHECK (lifetime_energy >= 0),
		lifetime_dopamine NUMERIC(20, 4) NOT NULL DEFAULT 0 CHECK (lifetime_dopamine >= 0),
		updated_at        TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS reward_transactions (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		type           TEXT NOT NULL,
		energy_delta   NUMERIC(20, 4) NOT NULL,
		dopamine_delta NUMERIC(20, 4) NOT NULL,
		energy_after   NUMERIC(20, 4) NOT NULL,
		dopamine_after NUMERIC(20, 4) NOT NULL,
		reference      TEXT NOT NULL,
		metadata       JSONB,
		created_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (reference, type)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_reward_transactions_user ON reward_transactions (user_id, created_at DESC)`,
}

// Apply runs every migration statement in order against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
