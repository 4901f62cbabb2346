package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// StatsRepository implements progression.StatsRepository. Update runs inside
// a transaction on the only pooled connection.
type StatsRepository struct {
	db *sql.DB
}

var _ progression.StatsRepository = (*StatsRepository)(nil)

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

const statsColumns = `user_id, total_xp, level, current_level_xp, streak_days, last_activity_date, updated_at`

// Get returns the stats row of a user.
func (r *StatsRepository) Get(ctx context.Context, userID shared.UserID) (*progression.UserStats, error) {
	s, err := scanStats(r.db.QueryRowContext(ctx,
		`SELECT `+statsColumns+` FROM user_stats WHERE user_id = ?`, userID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, shared.ErrStatsNotFound
		}
		return nil, storeError("progression", "GetStats", err)
	}
	return &s, nil
}

// Update reads the row, applies mutate and writes the result in one transaction.
func (r *StatsRepository) Update(ctx context.Context, userID shared.UserID, mutate progression.StatsMutation) (progression.UserStats, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return progression.UserStats{}, readError(err)
	}
	defer func() { _ = tx.Rollback() }()

	exists := true
	cur, err := scanStats(tx.QueryRowContext(ctx,
		`SELECT `+statsColumns+` FROM user_stats WHERE user_id = ?`, userID.String()))
	switch {
	case isNoRows(err):
		exists = false
		cur = progression.NewUserStats(userID)
	case err != nil:
		return progression.UserStats{}, readError(err)
	}

	next, err := mutate(cur, exists)
	if err != nil {
		return progression.UserStats{}, err
	}
	next.UserID = userID

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_stats (`+statsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_xp = excluded.total_xp,
			level = excluded.level,
			current_level_xp = excluded.current_level_xp,
			streak_days = excluded.streak_days,
			last_activity_date = excluded.last_activity_date,
			updated_at = excluded.updated_at
	`,
		userID.String(),
		next.TotalXP,
		next.Level,
		next.CurrentLevelXP,
		next.StreakDays,
		next.LastActivityDate,
		formatTime(next.UpdatedAt),
	)
	if err != nil {
		return progression.UserStats{}, storeError("progression", "UpdateStats", err)
	}
	if err := tx.Commit(); err != nil {
		return progression.UserStats{}, storeError("progression", "UpdateStats", err)
	}
	return next, nil
}

// PutStreak upserts only the streak columns.
func (r *StatsRepository) PutStreak(ctx context.Context, stats progression.UserStats) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_stats (user_id, streak_days, last_activity_date, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			streak_days = excluded.streak_days,
			last_activity_date = excluded.last_activity_date,
			updated_at = excluded.updated_at
	`,
		stats.UserID.String(),
		stats.StreakDays,
		stats.LastActivityDate,
		formatTime(stats.UpdatedAt),
	)
	if err != nil {
		return storeError("progression", "PutStreak", err)
	}
	return nil
}

// Top returns the rows with the most XP. Ties are broken by user_id.
func (r *StatsRepository) Top(ctx context.Context, limit int) ([]progression.UserStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+statsColumns+`
		FROM user_stats
		ORDER BY total_xp DESC, user_id
		LIMIT ?
	`, limit)
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
	rank := progression.UserRank{UserID: userID.String()}
	err := r.db.QueryRowContext(ctx, `
		SELECT s.total_xp, s.streak_days,
			(SELECT COUNT(*) FROM user_stats o
			 WHERE o.total_xp > s.total_xp OR (o.total_xp = s.total_xp AND o.user_id < s.user_id)) + 1,
			(SELECT COUNT(*) FROM user_stats)
		FROM user_stats s
		WHERE s.user_id = ?
	`, userID.String()).Scan(&rank.TotalXP, &rank.StreakDays, &rank.Rank, &rank.TotalUsers)
	if err != nil {
		if isNoRows(err) {
			return progression.UserRank{}, shared.ErrStatsNotFound
		}
		return progression.UserRank{}, storeError("progression", "RankStats", err)
	}
	return rank, nil
}

// UserIDs returns every user with a stats row.
func (r *StatsRepository) UserIDs(ctx context.Context) ([]shared.UserID, error) {
	return queryUserIDs(ctx, r.db, `SELECT user_id FROM user_stats ORDER BY user_id`)
}

func scanStats(row rowScanner) (progression.UserStats, error) {
	var (
		s         progression.UserStats
		userID    string
		updatedAt string
	)
	err := row.Scan(&userID, &s.TotalXP, &s.Level, &s.CurrentLevelXP, &s.StreakDays, &s.LastActivityDate, &updatedAt)
	if err != nil {
		return progression.UserStats{}, err
	}
	s.UserID = shared.UserID(userID)
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return progression.UserStats{}, err
	}
	return s, nil
}

func readError(err error) error {
	return fmt.Errorf("%w: %w", progression.ErrStatsRead, storeError("progression", "UpdateStats", err))
}
