package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository implements progression.StatsRepository for PostgreSQL.
// Update locks the user's row for the length of a transaction.
type StatsRepository struct {
	conn *Connection
}

var _ progression.StatsRepository = (*StatsRepository)(nil)

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(conn *Connection) *StatsRepository {
	return &StatsRepository{conn: conn}
}

const statsColumns = `user_id, total_xp, level, current_level_xp, streak_days, last_activity_date, updated_at`

// Get returns the stats row of a user.
func (r *StatsRepository) Get(ctx context.Context, userID shared.UserID) (*progression.UserStats, error) {
	query := `SELECT ` + statsColumns + ` FROM user_stats WHERE user_id = $1`

	s, err := scanStats(r.conn.QueryRow(ctx, query, userID.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStatsNotFound
		}
		return nil, storeError("progression", "GetStats", err)
	}
	return &s, nil
}

// Update runs mutate against the locked row and writes its result.
func (r *StatsRepository) Update(ctx context.Context, userID shared.UserID, mutate progression.StatsMutation) (progression.UserStats, error) {
	var result progression.UserStats

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// Ensure the row exists so FOR UPDATE has something to lock.
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_stats (user_id, updated_at) VALUES ($1, NOW())
			ON CONFLICT (user_id) DO NOTHING
		`, userID.String())
		if err != nil {
			return readError(err)
		}
		exists := tag.RowsAffected() == 0

		cur, err := scanStats(tx.QueryRow(ctx,
			`SELECT `+statsColumns+` FROM user_stats WHERE user_id = $1 FOR UPDATE`,
			userID.String(),
		))
		if err != nil {
			return readError(err)
		}
		if !exists {
			cur = progression.NewUserStats(userID)
		}

		next, err := mutate(cur, exists)
		if err != nil {
			return err
		}
		next.UserID = userID

		_, err = tx.Exec(ctx, `
			UPDATE user_stats SET
				total_xp = $2,
				level = $3,
				current_level_xp = $4,
				streak_days = $5,
				last_activity_date = $6,
				updated_at = $7
			WHERE user_id = $1
		`,
			userID.String(),
			next.TotalXP,
			next.Level,
			next.CurrentLevelXP,
			next.StreakDays,
			dateArg(next.LastActivityDate),
			timestampArg(next.UpdatedAt),
		)
		if err != nil {
			return storeError("progression", "UpdateStats", err)
		}

		result = next
		return nil
	})
	if err != nil {
		return progression.UserStats{}, err
	}
	return result, nil
}

// PutStreak upserts only the streak columns.
func (r *StatsRepository) PutStreak(ctx context.Context, stats progression.UserStats) error {
	query := `
		INSERT INTO user_stats (user_id, streak_days, last_activity_date, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			streak_days = EXCLUDED.streak_days,
			last_activity_date = EXCLUDED.last_activity_date,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		stats.UserID.String(),
		stats.StreakDays,
		dateArg(stats.LastActivityDate),
		timestampArg(stats.UpdatedAt),
	)
	if err != nil {
		return storeError("progression", "PutStreak", err)
	}
	return nil
}

// Top returns the rows with the most XP. Ties are broken by user_id.
func (r *StatsRepository) Top(ctx context.Context, limit int) ([]progression.UserStats, error) {
	query := `
		SELECT ` + statsColumns + `
		FROM user_stats
		ORDER BY total_xp DESC, user_id
		LIMIT $1
	`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, storeError("progression", "TopStats", err)
	}
	defer rows.Close()

	out := make([]progression.UserStats, 0, limit)
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, storeError("progression", "TopStats", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("progression", "TopStats", err)
	}
	return out, nil
}

// Rank counts the rows ordered ahead of the user, ties broken by user_id.
func (r *StatsRepository) Rank(ctx context.Context, userID shared.UserID) (progression.UserRank, error) {
	query := `
		SELECT s.total_xp, s.streak_days,
			(SELECT COUNT(*) FROM user_stats o
			 WHERE o.total_xp > s.total_xp OR (o.total_xp = s.total_xp AND o.user_id < s.user_id)) + 1,
			(SELECT COUNT(*) FROM user_stats)
		FROM user_stats s
		WHERE s.user_id = $1
	`
	rank := progression.UserRank{UserID: userID.String()}
	err := r.conn.QueryRow(ctx, query, userID.String()).Scan(&rank.TotalXP, &rank.StreakDays, &rank.Rank, &rank.TotalUsers)
	if err != nil {
		if IsNoRows(err) {
			return progression.UserRank{}, shared.ErrStatsNotFound
		}
		return progression.UserRank{}, storeError("progression", "RankStats", err)
	}
	return rank, nil
}

// UserIDs returns every user with a stats row.
func (r *StatsRepository) UserIDs(ctx context.Context) ([]shared.UserID, error) {
	return queryUserIDs(ctx, r.conn, `SELECT user_id FROM user_stats ORDER BY user_id`)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanStats(row pgx.Row) (progression.UserStats, error) {
	var (
		s         progression.UserStats
		userID    string
		last      *time.Time
		updatedAt time.Time
	)
	err := row.Scan(&userID, &s.TotalXP, &s.Level, &s.CurrentLevelXP, &s.StreakDays, &last, &updatedAt)
	if err != nil {
		return progression.UserStats{}, err
	}
	s.UserID = shared.UserID(userID)
	if last != nil {
		s.LastActivityDate = shared.DateOf(*last, time.UTC)
	}
	s.UpdatedAt = updatedAt.UTC()
	return s, nil
}

func readError(err error) error {
	return fmt.Errorf("%w: %w", progression.ErrStatsRead, storeError("progression", "UpdateStats", err))
}

func dateArg(d shared.Date) interface{} {
	if d.IsZero() {
		return nil
	}
	return d.Time()
}

func timestampArg(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
