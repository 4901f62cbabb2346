// Package storetest holds behaviour tests shared by every repository
// implementation. Each store package calls Run from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
)

// Repositories is the set of repositories under test.
type Repositories struct {
	Ledger progression.LedgerRepository
	Stats  progression.StatsRepository
	Habits wellness.HabitRepository
	Logs   wellness.LogRepository
}

// Factory returns fresh, empty repositories.
type Factory func(t *testing.T) Repositories

var base = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

// Run executes the whole suite.
func Run(t *testing.T, factory Factory) {
	t.Run("LedgerAppendAndList", func(t *testing.T) { testLedger(t, factory(t)) })
	t.Run("StatsUpdateCreatesRow", func(t *testing.T) { testStatsUpdate(t, factory(t)) })
	t.Run("StatsConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, factory(t)) })
	t.Run("StatsMutationErrorAborts", func(t *testing.T) { testMutationError(t, factory(t)) })
	t.Run("StatsPutStreakKeepsXP", func(t *testing.T) { testPutStreak(t, factory(t)) })
	t.Run("StatsTopAndRank", func(t *testing.T) { testTop(t, factory(t)) })
	t.Run("HabitsCreateAndList", func(t *testing.T) { testHabits(t, factory(t)) })
	t.Run("LogUpsertOverwrites", func(t *testing.T) { testLogUpsert(t, factory(t)) })
}

func testLedger(t *testing.T, repos Repositories) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, repos.Ledger.Append(ctx, &progression.XpTransaction{
			ID: fmt.Sprintf("tx-%d", i), UserID: "u1", Amount: 10 * (i + 1), Source: "task",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repos.Ledger.Append(ctx, &progression.XpTransaction{
		ID: "anon", Amount: 99, Source: "game", CreatedAt: base,
	}))

	page, err := repos.Ledger.ListByUser(ctx, "u1", shared.NewPagination(2, 0))
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "tx-2", page[0].ID)
	assert.Equal(t, "tx-1", page[1].ID)

	all, err := repos.Ledger.AllByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 60, progression.SumAmounts(all))

	ids, err := repos.Ledger.UserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{"u1"}, ids)
}

func testStatsUpdate(t *testing.T, repos Repositories) {
	ctx := context.Background()

	_, err := repos.Stats.Get(ctx, "u1")
	assert.True(t, shared.IsNotFound(err))

	var sawExists bool
	updated, err := repos.Stats.Update(ctx, "u1", func(cur progression.UserStats, exists bool) (progression.UserStats, error) {
		sawExists = exists
		assert.Equal(t, 1, cur.Level)
		next, _ := cur.ApplyXP(150, base)
		return next, nil
	})
	require.NoError(t, err)
	assert.False(t, sawExists)
	assert.Equal(t, 150, updated.TotalXP)

	stored, err := repos.Stats.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 150, stored.TotalXP)
	assert.Equal(t, 2, stored.Level)
	assert.Equal(t, 50, stored.CurrentLevelXP)

	_, err = repos.Stats.Update(ctx, "u1", func(cur progression.UserStats, exists bool) (progression.UserStats, error) {
		sawExists = exists
		return cur, nil
	})
	require.NoError(t, err)
	assert.True(t, sawExists)
}

func testConcurrentUpdates(t *testing.T, repos Repositories) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Stats.Update(ctx, "u1", func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
				next, _ := cur.ApplyXP(10, base)
				return next, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	stored, err := repos.Stats.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, workers*10, stored.TotalXP)
}

func testMutationError(t *testing.T, repos Repositories) {
	ctx := context.Background()
	boom := fmt.Errorf("boom")

	_, err := repos.Stats.Update(ctx, "u1", func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
		return cur, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repos.Stats.Get(ctx, "u1")
	assert.True(t, shared.IsNotFound(err))
}

func testPutStreak(t *testing.T, repos Repositories) {
	ctx := context.Background()
	day := shared.NewDate(2024, 3, 10)

	_, err := repos.Stats.Update(ctx, "u1", func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
		next, _ := cur.ApplyXP(240, base)
		next.StreakDays = 6
		return next, nil
	})
	require.NoError(t, err)

	require.NoError(t, repos.Stats.PutStreak(ctx, progression.RecoveredStreak("u1", day)))
	require.NoError(t, repos.Stats.PutStreak(ctx, progression.RecoveredStreak("u2", day)))

	u1, err := repos.Stats.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 240, u1.TotalXP)
	assert.Equal(t, 1, u1.StreakDays)
	assert.Equal(t, day, u1.LastActivityDate)

	u2, err := repos.Stats.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, u2.TotalXP)
	assert.Equal(t, 1, u2.Level)
}

func testTop(t *testing.T, repos Repositories) {
	ctx := context.Background()
	for id, xp := range map[shared.UserID]int{"a": 50, "b": 300, "c": 120, "d": 300} {
		xp := xp
		_, err := repos.Stats.Update(ctx, id, func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
			next, _ := cur.ApplyXP(xp, base)
			return next, nil
		})
		require.NoError(t, err)
	}

	top, err := repos.Stats.Top(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, shared.UserID("b"), top[0].UserID)
	assert.Equal(t, shared.UserID("d"), top[1].UserID)
	assert.Equal(t, shared.UserID("c"), top[2].UserID)

	ids, err := repos.Stats.UserIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	// Rank agrees with the order of Top, ties included.
	for i, want := range []shared.UserID{"b", "d", "c", "a"} {
		rank, err := repos.Stats.Rank(ctx, want)
		require.NoError(t, err)
		assert.Equal(t, i+1, rank.Rank, want)
		assert.Equal(t, 4, rank.TotalUsers)
		assert.Equal(t, want.String(), rank.UserID)
	}
	rank, err := repos.Stats.Rank(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 120, rank.TotalXP)

	_, err = repos.Stats.Rank(ctx, "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func testHabits(t *testing.T, repos Repositories) {
	ctx := context.Background()

	var habits []*wellness.Habit
	for i, tpl := range wellness.DefaultHabits() {
		h, err := wellness.NewHabit(fmt.Sprintf("h-%d", i), "u1", tpl, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		habits = append(habits, h)
	}
	require.NoError(t, repos.Habits.CreateMany(ctx, habits))

	listed, err := repos.Habits.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listed, 4)
	assert.Equal(t, wellness.HabitSleep, listed[0].HabitType)

	got, err := repos.Habits.GetByID(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, wellness.HabitHydration, got.HabitType)
	assert.Equal(t, 8.0, got.TargetValue)
	assert.Equal(t, "glasses", got.Unit)

	_, err = repos.Habits.GetByID(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func testLogUpsert(t *testing.T, repos Repositories) {
	ctx := context.Background()
	habit, err := wellness.NewHabit("h-1", "u1", wellness.DefaultHabits()[1], base)
	require.NoError(t, err)
	require.NoError(t, repos.Habits.CreateMany(ctx, []*wellness.Habit{habit}))

	day := shared.NewDate(2024, 3, 10)
	first, err := wellness.NewHabitLog(wellness.NewLogParams{ID: "l-1", Habit: habit, LogDate: day, Value: 3, Notes: "morning", Now: base})
	require.NoError(t, err)
	_, err = repos.Logs.Upsert(ctx, first)
	require.NoError(t, err)

	second, err := wellness.NewHabitLog(wellness.NewLogParams{ID: "l-2", Habit: habit, LogDate: day, Value: 5, Now: base.Add(time.Hour)})
	require.NoError(t, err)
	stored, err := repos.Logs.Upsert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "l-1", stored.ID)
	assert.Equal(t, 5.0, stored.Value)
	assert.Equal(t, "", stored.Notes)

	prev, err := wellness.NewHabitLog(wellness.NewLogParams{ID: "l-3", Habit: habit, LogDate: day.AddDays(-1), Value: 8, Now: base})
	require.NoError(t, err)
	_, err = repos.Logs.Upsert(ctx, prev)
	require.NoError(t, err)

	logs, err := repos.Logs.ListByUser(ctx, "u1", shared.LastNDays(day, 7))
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, day.AddDays(-1), logs[0].LogDate)
	assert.Equal(t, 5.0, logs[1].Value)

	dates, err := repos.Logs.LogDates(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []shared.Date{day.AddDays(-1), day}, dates)
}
