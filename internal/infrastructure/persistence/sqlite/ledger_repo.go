package sqlite

import (
	"context"
	"database/sql"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// LedgerRepository implements progression.LedgerRepository.
type LedgerRepository struct {
	db *sql.DB
}

var _ progression.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, user_id, amount, source, source_id, description, created_at`

// Append inserts one transaction.
func (r *LedgerRepository) Append(ctx context.Context, tx *progression.XpTransaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO xp_transactions (`+ledgerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		nullString(tx.UserID.String()),
		tx.Amount,
		tx.Source,
		nullString(tx.SourceID),
		nullString(tx.Description),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isConstraint(err) {
			return shared.WrapError("progression", "Append", shared.ErrAlreadyExists, "transaction already exists", err)
		}
		return storeError("progression", "Append", err)
	}
	return nil
}

// ListByUser returns a page of transactions, newest first. Rows with the
// same timestamp come back in reverse insertion order.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID shared.UserID, page shared.Pagination) ([]*progression.XpTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM xp_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, userID.String(), page.Limit, page.Offset)
	if err != nil {
		return nil, storeError("progression", "ListByUser", err)
	}
	return collectTransactions(rows, "ListByUser")
}

// AllByUser returns the whole history of a user, oldest first.
func (r *LedgerRepository) AllByUser(ctx context.Context, userID shared.UserID) ([]*progression.XpTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM xp_transactions
		WHERE user_id = ?
		ORDER BY created_at, rowid
	`, userID.String())
	if err != nil {
		return nil, storeError("progression", "AllByUser", err)
	}
	return collectTransactions(rows, "AllByUser")
}

// UserIDs returns the distinct non-anonymous users of the ledger.
func (r *LedgerRepository) UserIDs(ctx context.Context) ([]shared.UserID, error) {
	return queryUserIDs(ctx, r.db, `
		SELECT DISTINCT user_id FROM xp_transactions
		WHERE user_id IS NOT NULL AND user_id <> ''
		ORDER BY user_id
	`)
}

func collectTransactions(rows *sql.Rows, op string) ([]*progression.XpTransaction, error) {
	defer rows.Close()

	out := make([]*progression.XpTransaction, 0)
	for rows.Next() {
		var (
			tx                            progression.XpTransaction
			userID, sourceID, description sql.NullString
			createdAt                     string
		)
		if err := rows.Scan(&tx.ID, &userID, &tx.Amount, &tx.Source, &sourceID, &description, &createdAt); err != nil {
			return nil, storeError("progression", op, err)
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, storeError("progression", op, err)
		}
		tx.UserID = shared.UserID(userID.String)
		tx.SourceID = sourceID.String
		tx.Description = description.String
		tx.CreatedAt = ts
		out = append(out, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("progression", op, err)
	}
	return out, nil
}

func queryUserIDs(ctx context.Context, db *sql.DB, query string) ([]shared.UserID, error) {
	rows, err := db.QueryContext(ctx, query)
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
