package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/memory"
	"github.com/edusphere/edusphere-hub/pkg/circuitbreaker"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

var (
	now     = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func seedXP(t *testing.T, store *memory.Store, userID shared.UserID, amount int) {
	t.Helper()
	_, err := store.Stats.Update(context.Background(), userID, func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
		next, _ := cur.ApplyXP(amount, now)
		return next, nil
	})
	require.NoError(t, err)
}

func TestGetStats_DefaultsForUnknownUser(t *testing.T) {
	h := NewGetStatsHandler(memory.NewStore().Stats)

	dto, err := h.Handle(context.Background(), GetStatsQuery{UserID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, 0, dto.TotalXP)
	assert.Equal(t, 1, dto.Level)
	assert.Equal(t, 0, dto.StreakDays)
	assert.Equal(t, 100, dto.XPToNextLevel)
	assert.True(t, dto.LastActivityDate.IsZero())

	_, err = h.Handle(context.Background(), GetStatsQuery{UserID: " "})
	assert.True(t, shared.IsValidation(err))
}

func TestGetStats_ExistingRow(t *testing.T) {
	store := memory.NewStore()
	seedXP(t, store, "u1", 275)

	dto, err := NewGetStatsHandler(store.Stats).Handle(context.Background(), GetStatsQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 275, dto.TotalXP)
	assert.Equal(t, 3, dto.Level)
	assert.Equal(t, 75, dto.CurrentLevelXP)
	assert.Equal(t, 25, dto.XPToNextLevel)
}

func TestGetXPHistory_Paginates(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Ledger.Append(ctx, &progression.XpTransaction{
			ID: string(rune('a' + i)), UserID: "u1", Amount: 10, Source: "task", CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	h := NewGetXPHistoryHandler(store.Ledger)

	page, err := h.Handle(ctx, GetXPHistoryQuery{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, "e", page.Transactions[0].ID)
	assert.True(t, page.HasMore)

	last, err := h.Handle(ctx, GetXPHistoryQuery{UserID: "u1", Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, last.Transactions, 1)
	assert.False(t, last.HasMore)
}

func TestListHabits_GroupsLogsInRange(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	habit, err := wellness.NewHabit("h1", "u1", wellness.DefaultHabits()[0], now)
	require.NoError(t, err)
	other, err := wellness.NewHabit("h2", "u1", wellness.DefaultHabits()[1], now.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, store.Habits.CreateMany(ctx, []*wellness.Habit{habit, other}))

	today := shared.DateOf(now, time.UTC)
	for _, d := range []shared.Date{today, today.AddDays(-3), today.AddDays(-10)} {
		l, err := wellness.NewHabitLog(wellness.NewLogParams{ID: d.String(), Habit: habit, LogDate: d, Value: 7, Now: now})
		require.NoError(t, err)
		_, err = store.Logs.Upsert(ctx, l)
		require.NoError(t, err)
	}

	h := NewListHabitsHandler(store.Habits, store.Logs, timeutil.NewFixedClock(now), time.UTC)

	res, err := h.Handle(ctx, ListHabitsQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Habits, 2)
	assert.Len(t, res.Habits[0].Logs, 2)
	assert.NotNil(t, res.Habits[1].Logs)
	assert.Empty(t, res.Habits[1].Logs)
	assert.Equal(t, "2024-03-04", res.From.String())

	wide, err := h.Handle(ctx, ListHabitsQuery{UserID: "u1", From: "2024-02-01", To: "2024-03-10"})
	require.NoError(t, err)
	assert.Len(t, wide.Habits[0].Logs, 3)

	_, err = h.Handle(ctx, ListHabitsQuery{UserID: "u1", From: "2024-03-10", To: "2024-03-01"})
	assert.True(t, shared.IsValidation(err))
}

type fakeCache struct {
	entries []progression.LeaderboardEntry
	ranks   map[string]progression.UserRank
	err     error
	reads   int
}

func (c *fakeCache) GetRank(_ context.Context, userID string) (progression.UserRank, bool, error) {
	c.reads++
	if c.err != nil {
		return progression.UserRank{}, false, c.err
	}
	r, ok := c.ranks[userID]
	return r, ok, nil
}

func (c *fakeCache) UpdateEntry(context.Context, progression.LeaderboardEntry) error { return nil }
func (c *fakeCache) SetEntry(context.Context, progression.LeaderboardEntry) error    { return nil }
func (c *fakeCache) Replace(context.Context, []progression.LeaderboardEntry) error   { return nil }
func (c *fakeCache) GetTop(_ context.Context, limit int) ([]progression.LeaderboardEntry, error) {
	c.reads++
	if c.err != nil {
		return nil, c.err
	}
	if len(c.entries) > limit {
		return c.entries[:limit], nil
	}
	return c.entries, nil
}

func TestGetLeaderboard_FromStore(t *testing.T) {
	store := memory.NewStore()
	seedXP(t, store, "a", 40)
	seedXP(t, store, "b", 310)
	seedXP(t, store, "c", 120)

	h := NewGetLeaderboardHandler(store.Stats, nil, nil, timeutil.NewFixedClock(now), discard)
	res, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: 500})
	require.NoError(t, err)

	assert.Equal(t, SourceStore, res.Source)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, progression.LeaderboardEntry{Rank: 1, UserID: "b", TotalXP: 310, Level: 4}, res.Entries[0])
	assert.Equal(t, "a", res.Entries[2].UserID)
}

func TestGetLeaderboard_PrefersWarmCache(t *testing.T) {
	cache := &fakeCache{entries: []progression.LeaderboardEntry{{Rank: 1, UserID: "z", TotalXP: 900, Level: 10}}}
	h := NewGetLeaderboardHandler(memory.NewStore().Stats, cache, nil, nil, discard)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "z", res.Entries[0].UserID)
}

func TestGetLeaderboard_BreakerOpensOnCacheFailures(t *testing.T) {
	store := memory.NewStore()
	seedXP(t, store, "a", 40)
	cache := &fakeCache{err: errors.New("redis down")}
	breaker := circuitbreaker.CacheBreaker("leaderboard", nil)
	h := NewGetLeaderboardHandler(store.Stats, cache, breaker, nil, discard)

	for i := 0; i < 5; i++ {
		res, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, SourceStore, res.Source)
	}

	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 3, cache.reads)

	_, err := h.Handle(context.Background(), GetLeaderboardQuery{Limit: -1})
	assert.Error(t, err)
}

func TestGetUserRank_FromStore(t *testing.T) {
	store := memory.NewStore()
	seedXP(t, store, "a", 40)
	seedXP(t, store, "b", 310)
	seedXP(t, store, "c", 310)
	seedXP(t, store, "d", 120)

	h := NewGetUserRankHandler(store.Stats, nil, nil, discard)

	dto, err := h.Handle(context.Background(), GetUserRankQuery{UserID: "c"})
	require.NoError(t, err)
	assert.Equal(t, SourceStore, dto.Source)
	assert.Equal(t, 2, dto.Rank)
	assert.Equal(t, 4, dto.TotalUsers)
	assert.Equal(t, 75.0, dto.Percentile)
	assert.Equal(t, 4, dto.Level)
	assert.Equal(t, 10, dto.LevelProgress)
	assert.Equal(t, 90, dto.XPToNextLevel)

	// Same order as the leaderboard list.
	board, err := NewGetLeaderboardHandler(store.Stats, nil, nil, nil, discard).Handle(context.Background(), GetLeaderboardQuery{})
	require.NoError(t, err)
	for _, e := range board.Entries {
		dto, err := h.Handle(context.Background(), GetUserRankQuery{UserID: e.UserID})
		require.NoError(t, err)
		assert.Equal(t, e.Rank, dto.Rank, e.UserID)
	}
}

func TestGetUserRank_UnknownUser(t *testing.T) {
	h := NewGetUserRankHandler(memory.NewStore().Stats, nil, nil, discard)

	_, err := h.Handle(context.Background(), GetUserRankQuery{UserID: "ghost"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(context.Background(), GetUserRankQuery{UserID: "  "})
	assert.True(t, shared.IsValidation(err))
}

func TestGetUserRank_PrefersWarmCache(t *testing.T) {
	store := memory.NewStore()
	seedXP(t, store, "u1", 50)
	cache := &fakeCache{ranks: map[string]progression.UserRank{
		"u1": {UserID: "u1", Rank: 7, TotalXP: 250, TotalUsers: 20},
	}}
	h := NewGetUserRankHandler(store.Stats, cache, nil, discard)

	dto, err := h.Handle(context.Background(), GetUserRankQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, dto.Source)
	assert.Equal(t, 7, dto.Rank)
	assert.Equal(t, 3, dto.Level)
	assert.Equal(t, 50, dto.LevelProgress)

	// Missing from a warm board: the store answers.
	seedXP(t, store, "u2", 10)
	dto, err = h.Handle(context.Background(), GetUserRankQuery{UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, SourceStore, dto.Source)
	assert.Equal(t, 2, dto.Rank)
}

func TestGetUserRank_CacheFailureFallsBack(t *testing.T) {
	store := memory.NewStore()
	seedXP(t, store, "u1", 50)
	cache := &fakeCache{err: errors.New("redis down")}
	breaker := circuitbreaker.CacheBreaker("rank", nil)
	h := NewGetUserRankHandler(store.Stats, cache, breaker, discard)

	for i := 0; i < 5; i++ {
		dto, err := h.Handle(context.Background(), GetUserRankQuery{UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, SourceStore, dto.Source)
		assert.Equal(t, 1, dto.Rank)
	}
	assert.True(t, breaker.IsOpen())
}
