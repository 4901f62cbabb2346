package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Migration is one forward-only schema step. Versions are applied in order
// and recorded in schema_migrations.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

var schema = []Migration{
	{Version: 1, Name: "create_xp_ledger", SQL: xpLedgerUp},
	{Version: 2, Name: "create_user_stats", SQL: userStatsUp},
	{Version: 3, Name: "create_wellness", SQL: wellnessUp},
	{Version: 4, Name: "widen_xp_columns", SQL: widenXPUp},
}

// migrationLockID is the advisory lock key that keeps the API and the worker
// from migrating at the same time.
const migrationLockID int64 = 0x6564755f6d6967 // "edu_mig"

// Migrator brings the database to the latest schema version.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: schema}
}

// Migrate applies every pending migration, each in its own transaction.
// The whole run holds a session advisory lock.
func (m *Migrator) Migrate(ctx context.Context) error {
	lockConn, err := m.conn.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %v", ErrMigrationFailed, err)
	}
	defer lockConn.Release()

	if _, err := lockConn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("%w: lock: %v", ErrMigrationFailed, err)
	}
	defer func() { _, _ = lockConn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID) }()

	if _, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
	}

	var current int
	if err := m.conn.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("%w: read version: %v", ErrMigrationFailed, err)
	}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const xpLedgerUp = `
-- Append-only XP ledger. user_id is NULL for anonymous awards.
CREATE TABLE IF NOT EXISTS xp_transactions (
    id UUID PRIMARY KEY,
    user_id TEXT,
    amount INTEGER NOT NULL,
    source VARCHAR(64) NOT NULL,
    source_id TEXT,
    description TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_amount CHECK (amount > 0),
    CONSTRAINT valid_source CHECK (length(source) > 0)
);

CREATE INDEX IF NOT EXISTS idx_xp_transactions_user_created
    ON xp_transactions(user_id, created_at DESC) WHERE user_id IS NOT NULL;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE USER STATS
// ══════════════════════════════════════════════════════════════════════════════

const userStatsUp = `
CREATE TABLE IF NOT EXISTS user_stats (
    user_id TEXT PRIMARY KEY,
    total_xp INTEGER NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    current_level_xp INTEGER NOT NULL DEFAULT 0,
    streak_days INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_level CHECK (level >= 1),
    CONSTRAINT valid_current_level_xp CHECK (current_level_xp >= 0 AND current_level_xp < 100),
    CONSTRAINT valid_streak CHECK (streak_days >= 0)
);

-- Leaderboard reads
CREATE INDEX IF NOT EXISTS idx_user_stats_total_xp ON user_stats(total_xp DESC, user_id);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE WELLNESS
// ══════════════════════════════════════════════════════════════════════════════

const wellnessUp = `
CREATE TABLE IF NOT EXISTS wellness_habits (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    habit_type VARCHAR(20) NOT NULL,
    target_value DOUBLE PRECISION NOT NULL DEFAULT 0,
    unit VARCHAR(32) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_habit_type CHECK (habit_type IN ('sleep', 'hydration', 'mindfulness', 'movement'))
);

CREATE INDEX IF NOT EXISTS idx_wellness_habits_user ON wellness_habits(user_id, created_at);

CREATE TABLE IF NOT EXISTS habit_logs (
    id UUID PRIMARY KEY,
    habit_id UUID NOT NULL REFERENCES wellness_habits(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    log_date DATE NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    notes TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_habit_day UNIQUE (habit_id, log_date)
);

CREATE INDEX IF NOT EXISTS idx_habit_logs_user_date ON habit_logs(user_id, log_date);
`


// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: WIDEN XP COLUMNS
// Totals go up to 2^53-1, past the INTEGER range.
// ══════════════════════════════════════════════════════════════════════════════

const widenXPUp = `
ALTER TABLE xp_transactions ALTER COLUMN amount TYPE BIGINT;

ALTER TABLE user_stats
    ALTER COLUMN total_xp TYPE BIGINT,
    ALTER COLUMN level TYPE BIGINT;
`
