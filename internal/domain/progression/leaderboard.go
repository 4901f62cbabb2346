package progression

import "context"

// MaxLeaderboardSize bounds every leaderboard read.
const MaxLeaderboardSize = 100

// LeaderboardEntry is one ranked row of the XP leaderboard.
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	UserID     string `json:"user_id"`
	TotalXP    int    `json:"total_xp"`
	Level      int    `json:"level"`
	StreakDays int    `json:"streak_days"`
}

// RankStats turns stats rows already ordered by total_xp into entries.
func RankStats(rows []UserStats) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		out = append(out, LeaderboardEntry{
			Rank:       i + 1,
			UserID:     row.UserID.String(),
			TotalXP:    row.TotalXP,
			Level:      LevelOf(row.TotalXP).Level,
			StreakDays: row.StreakDays,
		})
	}
	return out
}

// UserRank is one user's position on the leaderboard. Ties on total_xp are
// broken by user ID, the same order the leaderboard lists.
type UserRank struct {
	UserID     string `json:"user_id"`
	Rank       int    `json:"rank"`
	TotalXP    int    `json:"total_xp"`
	StreakDays int    `json:"streak_days"`
	TotalUsers int    `json:"total_users"`
}

// Percentile is the share of ranked users at or below this one, 0-100.
func (r UserRank) Percentile() float64 {
	if r.TotalUsers <= 0 || r.Rank <= 0 {
		return 0
	}
	return 100 - float64(r.Rank-1)/float64(r.TotalUsers)*100
}

// LeaderboardCache is a fast read model of the leaderboard.
type LeaderboardCache interface {
	// UpdateEntry raises one user's score; a lower total is ignored, so
	// award events delivered out of order cannot move a user down.
	UpdateEntry(ctx context.Context, entry LeaderboardEntry) error

	// SetEntry overwrites one user's score, e.g. after a stats rebuild.
	SetEntry(ctx context.Context, entry LeaderboardEntry) error

	// GetTop returns up to limit entries ordered by rank. An empty result
	// means the cache is cold.
	GetTop(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// Replace swaps the whole leaderboard atomically.
	Replace(ctx context.Context, entries []LeaderboardEntry) error

	// GetRank returns the user's position. found is false when the board is
	// cold or the user is not on it.
	GetRank(ctx context.Context, userID string) (rank UserRank, found bool, err error)
}
