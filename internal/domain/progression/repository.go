package progression

import (
	"context"
	"errors"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ErrStatsRead marks a failure while reading the current stats row inside
// StatsRepository.Update, before any write happened.
var ErrStatsRead = errors.New("progression: stats read failed")

// LedgerRepository stores XP transactions. Rows are never updated or deleted.
type LedgerRepository interface {
	// Append inserts one transaction.
	// Store failures are returned wrapped with shared.ErrPersistence.
	Append(ctx context.Context, tx *XpTransaction) error

	// ListByUser returns a user's transactions, newest first.
	ListByUser(ctx context.Context, userID shared.UserID, page shared.Pagination) ([]*XpTransaction, error)

	// AllByUser returns every transaction of a user, oldest first.
	AllByUser(ctx context.Context, userID shared.UserID) ([]*XpTransaction, error)

	// UserIDs returns the distinct non-anonymous users present in the ledger.
	UserIDs(ctx context.Context) ([]shared.UserID, error)
}

// StatsMutation computes the next stats row from the current one.
// exists is false when the user has no row yet; cur then holds the defaults.
// Returning an error aborts the update without writing.
type StatsMutation func(cur UserStats, exists bool) (UserStats, error)

// StatsRepository stores UserStats rows.
type StatsRepository interface {
	// Get returns the stats row of a user.
	// Returns shared.ErrStatsNotFound when the user has no row.
	Get(ctx context.Context, userID shared.UserID) (*UserStats, error)

	// Update reads the current row, applies mutate and writes the result.
	// Calls for the same user are serialized. A failure while reading is
	// wrapped with ErrStatsRead.
	Update(ctx context.Context, userID shared.UserID, mutate StatsMutation) (UserStats, error)

	// PutStreak writes only the streak columns, creating the row when missing.
	PutStreak(ctx context.Context, stats UserStats) error

	// Top returns rows ordered by total_xp descending.
	Top(ctx context.Context, limit int) ([]UserStats, error)

	// UserIDs returns every user that has a stats row.
	UserIDs(ctx context.Context) ([]shared.UserID, error)

	// Rank returns the user's position among all stats rows, ordered like Top.
	// Returns shared.ErrStatsNotFound when the user has no row.
	Rank(ctx context.Context, userID shared.UserID) (UserRank, error)
}
