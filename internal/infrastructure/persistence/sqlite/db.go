// Package sqlite implements the repositories on an embedded SQLite database
// through modernc.org/sqlite. The pool is capped at one connection, so every
// transaction, and therefore every stats update, runs serially.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// Fixed width keeps text comparison in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Open opens the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	// An idle :memory: connection must never be closed; it holds the data.
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

var schema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS xp_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		amount INTEGER NOT NULL CHECK (amount > 0),
		source TEXT NOT NULL,
		source_id TEXT,
		description TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_xp_transactions_user ON xp_transactions(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY,
		total_xp INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 1,
		current_level_xp INTEGER NOT NULL DEFAULT 0,
		streak_days INTEGER NOT NULL DEFAULT 0,
		last_activity_date TEXT,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_stats_total_xp ON user_stats(total_xp DESC, user_id)`,
	`CREATE TABLE IF NOT EXISTS wellness_habits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		habit_type TEXT NOT NULL,
		target_value REAL NOT NULL DEFAULT 0,
		unit TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wellness_habits_user ON wellness_habits(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS habit_logs (
		id TEXT PRIMARY KEY,
		habit_id TEXT NOT NULL REFERENCES wellness_habits(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		log_date TEXT NOT NULL,
		value REAL NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (habit_id, log_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_habit_logs_user_date ON habit_logs(user_id, log_date)`,
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isConstraint reports a UNIQUE, PRIMARY KEY or FOREIGN KEY violation.
func isConstraint(err error) bool {
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// isForeignKey reports a FOREIGN KEY violation only, not any constraint.
func isForeignKey(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	// Without extended result codes only the primary code is set.
	return se.Code() == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "FOREIGN KEY")
}

func storeError(domain, op string, err error) error {
	return shared.WrapError(domain, op, shared.ErrPersistence, "sqlite", err)
}
