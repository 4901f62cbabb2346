package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements progression.LedgerRepository for PostgreSQL.
type LedgerRepository struct {
	conn *Connection
}

var _ progression.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

const ledgerColumns = `id, user_id, amount, source, source_id, description, created_at`

// Append inserts one transaction.
func (r *LedgerRepository) Append(ctx context.Context, tx *progression.XpTransaction) error {
	query := `
		INSERT INTO xp_transactions (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.conn.Exec(ctx, query,
		tx.ID,
		nullString(tx.UserID.String()),
		tx.Amount,
		tx.Source,
		nullString(tx.SourceID),
		nullString(tx.Description),
		tx.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("progression", "Append", shared.ErrAlreadyExists, "transaction already exists", err)
		}
		return storeError("progression", "Append", err)
	}
	return nil
}

// ListByUser returns a page of a user's transactions, newest first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID shared.UserID, page shared.Pagination) ([]*progression.XpTransaction, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM xp_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.conn.Query(ctx, query, userID.String(), page.Limit, page.Offset)
	if err != nil {
		return nil, storeError("progression", "ListByUser", err)
	}
	return collectTransactions(rows, "ListByUser")
}

// AllByUser returns the whole history of a user, oldest first.
func (r *LedgerRepository) AllByUser(ctx context.Context, userID shared.UserID) ([]*progression.XpTransaction, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM xp_transactions
		WHERE user_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.conn.Query(ctx, query, userID.String())
	if err != nil {
		return nil, storeError("progression", "AllByUser", err)
	}
	return collectTransactions(rows, "AllByUser")
}

// UserIDs returns the distinct non-anonymous users of the ledger.
func (r *LedgerRepository) UserIDs(ctx context.Context) ([]shared.UserID, error) {
	return queryUserIDs(ctx, r.conn, `
		SELECT DISTINCT user_id FROM xp_transactions
		WHERE user_id IS NOT NULL AND user_id <> ''
		ORDER BY user_id
	`)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func collectTransactions(rows pgx.Rows, op string) ([]*progression.XpTransaction, error) {
	defer rows.Close()

	out := make([]*progression.XpTransaction, 0)
	for rows.Next() {
		var (
			tx                            progression.XpTransaction
			userID, sourceID, description *string
			createdAt                     time.Time
		)
		if err := rows.Scan(&tx.ID, &userID, &tx.Amount, &tx.Source, &sourceID, &description, &createdAt); err != nil {
			return nil, storeError("progression", op, err)
		}
		tx.UserID = shared.UserID(deref(userID))
		tx.SourceID = deref(sourceID)
		tx.Description = deref(description)
		tx.CreatedAt = createdAt.UTC()
		out = append(out, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("progression", op, err)
	}
	return out, nil
}

func queryUserIDs(ctx context.Context, q Querier, query string) ([]shared.UserID, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, storeError("progression", "UserIDs", err)
	}
	defer rows.Close()

	out := make([]shared.UserID, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("progression", "UserIDs", err)
		}
		out = append(out, shared.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("progression", "UserIDs", err)
	}
	return out, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
