package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
)

func newTestLeaderboard(t *testing.T) (*LeaderboardCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.URL = "redis://" + mr.Addr()
	cache, err := NewCache(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	return NewLeaderboardCache(cache, time.Minute), mr
}

func entry(user string, xp, streak int) progression.LeaderboardEntry {
	return progression.LeaderboardEntry{UserID: user, TotalXP: xp, StreakDays: streak}
}

func TestLeaderboardCache_ColdBoardIgnoresUpdates(t *testing.T) {
	lb, mr := newTestLeaderboard(t)
	ctx := context.Background()

	require.NoError(t, lb.UpdateEntry(ctx, entry("u1", 50, 1)))
	assert.False(t, mr.Exists(LeaderboardKey("xp", DefaultBoard)))

	top, err := lb.GetTop(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	_, found, err := lb.GetRank(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)

	assert.ErrorIs(t, lb.UpdateEntry(ctx, entry("", 10, 0)), ErrUserIDEmpty)
}

func TestLeaderboardCache_ReplaceWarmsBoard(t *testing.T) {
	lb, mr := newTestLeaderboard(t)
	ctx := context.Background()

	require.NoError(t, lb.Replace(ctx, []progression.LeaderboardEntry{
		entry("a", 40, 0), entry("d", 300, 2), entry("b", 300, 0), entry("c", 120, 5), entry("", 999, 0),
	}))
	assert.True(t, mr.Exists(LeaderboardKey("meta", DefaultBoard)))
	assert.Equal(t, time.Minute, mr.TTL(LeaderboardKey("xp", DefaultBoard)))

	top, err := lb.GetTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 4)
	assert.Equal(t, []string{"b", "d", "c", "a"}, []string{top[0].UserID, top[1].UserID, top[2].UserID, top[3].UserID})
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 2, top[1].StreakDays)
	assert.Equal(t, 4, top[1].Level)
	assert.Equal(t, 5, top[2].StreakDays)

	// A second Replace drops members that are gone.
	require.NoError(t, lb.Replace(ctx, []progression.LeaderboardEntry{entry("c", 130, 1)}))
	top, err = lb.GetTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "c", top[0].UserID)

	// Expiry turns the board cold again.
	mr.FastForward(2 * time.Minute)
	top, err = lb.GetTop(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestLeaderboardCache_UpdateEntryNeverLowersScore(t *testing.T) {
	lb, mr := newTestLeaderboard(t)
	ctx := context.Background()
	require.NoError(t, lb.Replace(ctx, []progression.LeaderboardEntry{entry("u1", 100, 0)}))

	require.NoError(t, lb.UpdateEntry(ctx, entry("u1", 150, 3)))
	// An older award event arriving late.
	require.NoError(t, lb.UpdateEntry(ctx, entry("u1", 120, 0)))
	require.NoError(t, lb.UpdateEntry(ctx, entry("u2", 10, 0)))

	score, err := mr.ZScore(LeaderboardKey("xp", DefaultBoard), "u1")
	require.NoError(t, err)
	assert.Equal(t, 150.0, score)

	top, err := lb.GetTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 150, top[0].TotalXP)
	assert.Equal(t, 3, top[0].StreakDays)
	assert.Equal(t, "u2", top[1].UserID)

	// A rebuild may lower the total and clear the streak.
	require.NoError(t, lb.SetEntry(ctx, entry("u1", 5, 0)))
	top, err = lb.GetTop(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "u2", top[0].UserID)
	assert.Equal(t, progression.LeaderboardEntry{Rank: 2, UserID: "u1", TotalXP: 5, Level: 1}, top[1])
}

func TestLeaderboardCache_GetRankMatchesGetTop(t *testing.T) {
	lb, _ := newTestLeaderboard(t)
	ctx := context.Background()
	require.NoError(t, lb.Replace(ctx, []progression.LeaderboardEntry{
		entry("a", 40, 0), entry("d", 300, 2), entry("b", 300, 0), entry("c", 120, 5),
	}))

	top, err := lb.GetTop(ctx, 10)
	require.NoError(t, err)
	for _, e := range top {
		rank, found, err := lb.GetRank(ctx, e.UserID)
		require.NoError(t, err)
		require.True(t, found, e.UserID)
		assert.Equal(t, e.Rank, rank.Rank, e.UserID)
		assert.Equal(t, e.TotalXP, rank.TotalXP)
		assert.Equal(t, e.StreakDays, rank.StreakDays)
		assert.Equal(t, 4, rank.TotalUsers)
	}

	_, found, err := lb.GetRank(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = lb.GetRank(ctx, "")
	assert.ErrorIs(t, err, ErrUserIDEmpty)
}

func TestLeaderboardCache_ServerDown(t *testing.T) {
	lb, mr := newTestLeaderboard(t)
	mr.Close()

	_, err := lb.GetTop(context.Background(), 10)
	assert.Error(t, err)
	_, _, err = lb.GetRank(context.Background(), "u1")
	assert.Error(t, err)
}
