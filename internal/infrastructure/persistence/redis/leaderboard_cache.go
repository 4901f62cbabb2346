package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
)

// ErrUserIDEmpty is returned when an entry has no user ID.
var ErrUserIDEmpty = errors.New("leaderboard_cache: user ID cannot be empty")

// DefaultLeaderboardTTL bounds how long a rebuilt leaderboard is served.
const DefaultLeaderboardTTL = 10 * time.Minute

// LeaderboardCache implements progression.LeaderboardCache with Redis.
//
// Layout:
//   - Sorted Set "leaderboard:xp:{board}" stores userID -> total_xp
//   - Hash "leaderboard:info:{board}" stores userID -> streak_days
//   - String "leaderboard:meta:{board}" marks the board as warm
//
// Single-entry updates are ignored while the board is cold, so a partial
// board is never served; the worker's rebuild warms it.
type LeaderboardCache struct {
	client redis.UniversalClient
	board  string
	ttl    time.Duration
}

var _ progression.LeaderboardCache = (*LeaderboardCache)(nil)

// NewLeaderboardCache creates a LeaderboardCache for the global board.
func NewLeaderboardCache(cache *Cache, ttl time.Duration) *LeaderboardCache {
	return newLeaderboardCache(cache.Client(), DefaultBoard, ttl)
}

func newLeaderboardCache(client redis.UniversalClient, board string, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = DefaultLeaderboardTTL
	}
	return &LeaderboardCache{client: client, board: board, ttl: ttl}
}

func (l *LeaderboardCache) keys() (xp, info, meta string) {
	return LeaderboardKey("xp", l.board), LeaderboardKey("info", l.board), LeaderboardKey("meta", l.board)
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// UpdateEntry raises one user's score on a warm board. O(log N).
// A lower total is ignored; SetEntry and Replace can move a user down.
func (l *LeaderboardCache) UpdateEntry(ctx context.Context, entry progression.LeaderboardEntry) error {
	return l.writeEntry(ctx, entry, true)
}

// SetEntry overwrites one user's score on a warm board.
func (l *LeaderboardCache) SetEntry(ctx context.Context, entry progression.LeaderboardEntry) error {
	return l.writeEntry(ctx, entry, false)
}

func (l *LeaderboardCache) writeEntry(ctx context.Context, entry progression.LeaderboardEntry, onlyHigher bool) error {
	if entry.UserID == "" {
		return ErrUserIDEmpty
	}
	xpKey, infoKey, metaKey := l.keys()

	warm, err := l.client.Exists(ctx, metaKey).Result()
	if err != nil {
		return fmt.Errorf("leaderboard_cache: check warm: %w", err)
	}
	if warm == 0 {
		return nil
	}

	pipe := l.client.Pipeline()
	pipe.ZAddArgs(ctx, xpKey, redis.ZAddArgs{
		GT:      onlyHigher,
		Members: []redis.Z{{Score: float64(entry.TotalXP), Member: entry.UserID}},
	})
	if entry.StreakDays > 0 || !onlyHigher {
		pipe.HSet(ctx, infoKey, entry.UserID, entry.StreakDays)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard_cache: update entry: %w", err)
	}
	return nil
}

// Replace swaps the whole board in one MULTI/EXEC.
func (l *LeaderboardCache) Replace(ctx context.Context, entries []progression.LeaderboardEntry) error {
	xpKey, infoKey, metaKey := l.keys()

	pipe := l.client.TxPipeline()
	pipe.Del(ctx, xpKey, infoKey)

	if len(entries) > 0 {
		members := make([]redis.Z, 0, len(entries))
		streaks := make([]interface{}, 0, len(entries)*2)
		for _, e := range entries {
			if e.UserID == "" {
				continue
			}
			members = append(members, redis.Z{Score: float64(e.TotalXP), Member: e.UserID})
			streaks = append(streaks, e.UserID, e.StreakDays)
		}
		if len(members) > 0 {
			pipe.ZAdd(ctx, xpKey, members...)
			pipe.HSet(ctx, infoKey, streaks...)
			pipe.Expire(ctx, xpKey, l.ttl)
			pipe.Expire(ctx, infoKey, l.ttl)
		}
	}
	pipe.Set(ctx, metaKey, time.Now().UTC().Format(time.RFC3339), l.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard_cache: replace: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetTop returns up to limit ranked entries, or nothing when the board is cold.
func (l *LeaderboardCache) GetTop(ctx context.Context, limit int) ([]progression.LeaderboardEntry, error) {
	if limit <= 0 || limit > progression.MaxLeaderboardSize {
		limit = progression.MaxLeaderboardSize
	}
	xpKey, infoKey, metaKey := l.keys()

	pipe := l.client.Pipeline()
	warmCmd := pipe.Exists(ctx, metaKey)
	rangeCmd := pipe.ZRevRangeWithScores(ctx, xpKey, 0, int64(limit-1))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("leaderboard_cache: get top: %w", err)
	}
	if warmCmd.Val() == 0 {
		return []progression.LeaderboardEntry{}, nil
	}

	zs := rangeCmd.Val()
	if len(zs) == 0 {
		return []progression.LeaderboardEntry{}, nil
	}

	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i] = fmt.Sprint(z.Member)
	}
	streaks, err := l.client.HMGet(ctx, infoKey, ids...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("leaderboard_cache: get streaks: %w", err)
	}

	return buildEntries(zs, streaks), nil
}

// GetRank computes the rank as the number of members ahead plus one. Members
// on the same score count as ahead when their ID sorts first.
func (l *LeaderboardCache) GetRank(ctx context.Context, userID string) (progression.UserRank, bool, error) {
	if userID == "" {
		return progression.UserRank{}, false, ErrUserIDEmpty
	}
	xpKey, infoKey, metaKey := l.keys()

	pipe := l.client.Pipeline()
	warmCmd := pipe.Exists(ctx, metaKey)
	scoreCmd := pipe.ZScore(ctx, xpKey, userID)
	cardCmd := pipe.ZCard(ctx, xpKey)
	streakCmd := pipe.HGet(ctx, infoKey, userID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return progression.UserRank{}, false, fmt.Errorf("leaderboard_cache: get rank: %w", err)
	}
	if warmCmd.Val() == 0 || errors.Is(scoreCmd.Err(), redis.Nil) {
		return progression.UserRank{}, false, nil
	}

	score := scoreCmd.Val()
	bound := strconv.FormatFloat(score, 'f', -1, 64)

	pipe = l.client.Pipeline()
	aboveCmd := pipe.ZCount(ctx, xpKey, "("+bound, "+inf")
	tiedCmd := pipe.ZRangeByScore(ctx, xpKey, &redis.ZRangeBy{Min: bound, Max: bound})
	if _, err := pipe.Exec(ctx); err != nil {
		return progression.UserRank{}, false, fmt.Errorf("leaderboard_cache: count ahead: %w", err)
	}

	ahead := int(aboveCmd.Val())
	for _, id := range tiedCmd.Val() {
		if id < userID {
			ahead++
		}
	}
	return progression.UserRank{
		UserID:     userID,
		Rank:       ahead + 1,
		TotalXP:    int(score),
		StreakDays: parseStreak(streakCmd.Val()),
		TotalUsers: int(cardCmd.Val()),
	}, true, nil
}

// buildEntries ranks members by score desc, then user ID asc, matching the
// store's ordering for ties inside the fetched window.
func buildEntries(zs []redis.Z, streaks []interface{}) []progression.LeaderboardEntry {
	out := make([]progression.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		total := int(z.Score)
		e := progression.LeaderboardEntry{
			UserID:  fmt.Sprint(z.Member),
			TotalXP: total,
			Level:   progression.LevelOf(total).Level,
		}
		if i < len(streaks) {
			e.StreakDays = parseStreak(streaks[i])
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalXP != out[j].TotalXP {
			return out[i].TotalXP > out[j].TotalXP
		}
		return out[i].UserID < out[j].UserID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func parseStreak(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
