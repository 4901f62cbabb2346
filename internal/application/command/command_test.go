package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/memory"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

var (
	start    = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	discard  = slog.New(slog.NewTextHandler(io.Discard, nil))
	errStore = errors.New("connection refused")
)

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

// failingStats wraps a stats repository and fails selected calls.
type failingStats struct {
	progression.StatsRepository
	updateErr error
	putErr    error
}

func (f *failingStats) Update(ctx context.Context, userID shared.UserID, mutate progression.StatsMutation) (progression.UserStats, error) {
	if f.updateErr != nil {
		return progression.UserStats{}, f.updateErr
	}
	return f.StatsRepository.Update(ctx, userID, mutate)
}

func (f *failingStats) PutStreak(ctx context.Context, stats progression.UserStats) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.StatsRepository.PutStreak(ctx, stats)
}

type fixture struct {
	store     *memory.Store
	clock     *timeutil.FixedClock
	publisher *recordingPublisher
	award     *AwardXPHandler
	logHabit  *LogHabitHandler
	tracker   *StreakTracker
}

func newFixture(stats progression.StatsRepository) *fixture {
	f := &fixture{
		store:     memory.NewStore(),
		clock:     timeutil.NewFixedClock(start),
		publisher: &recordingPublisher{},
	}
	if stats == nil {
		stats = f.store.Stats
	}
	f.award = NewAwardXPHandler(f.store.Ledger, stats, f.publisher, f.clock, discard)
	f.tracker = NewStreakTracker(stats, f.publisher, f.clock, time.UTC, discard)
	f.logHabit = NewLogHabitHandler(f.store.Habits, f.store.Logs, f.tracker, f.publisher, f.clock, time.UTC, discard)
	return f
}

func (f *fixture) habit(t *testing.T, userID shared.UserID) *wellness.Habit {
	t.Helper()
	h, err := wellness.NewHabit(fmt.Sprintf("h-%s", userID), userID, wellness.DefaultHabits()[1], start)
	require.NoError(t, err)
	require.NoError(t, f.store.Habits.CreateMany(context.Background(), []*wellness.Habit{h}))
	return h
}

func value(v float64) *float64 { return &v }

// ══════════════════════════════════════════════════════════════════════════════
// AWARD
// ══════════════════════════════════════════════════════════════════════════════

func TestAwardXP_CreatesStatsLazily(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	res, err := f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: 50, Source: "focus_session"})
	require.NoError(t, err)
	assert.Equal(t, 50, res.TotalXP)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 50, res.CurrentLevelXP)
	assert.False(t, res.LevelUp)
	assert.NotEmpty(t, res.Transaction.ID)

	res, err = f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: 60, Source: "task"})
	require.NoError(t, err)
	assert.Equal(t, 110, res.TotalXP)
	assert.Equal(t, 2, res.Level)
	assert.Equal(t, 10, res.CurrentLevelXP)
	assert.True(t, res.LevelUp)

	assert.Equal(t, []shared.EventType{
		shared.EventXPAwarded, shared.EventXPAwarded, shared.EventLevelUp,
	}, f.publisher.types())
}

func TestAwardXP_TotalEqualsLedgerSum(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	for _, amount := range []int{25, 50, 10, 30, 45} {
		_, err := f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: amount, Source: "task"})
		require.NoError(t, err)
	}

	txs, err := f.store.Ledger.AllByUser(ctx, "u1")
	require.NoError(t, err)
	stats, err := f.store.Stats.Get(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, progression.SumAmounts(txs), stats.TotalXP)
	assert.Equal(t, 160, stats.TotalXP)
	assert.NoError(t, stats.Validate())
}

func TestAwardXP_ValidationWritesNothing(t *testing.T) {
	f := newFixture(nil)

	_, err := f.award.Handle(context.Background(), AwardXPCommand{UserID: "u1", Amount: 0, Source: "task"})
	assert.True(t, shared.IsValidation(err))

	_, err = f.award.Handle(context.Background(), AwardXPCommand{UserID: "u1", Amount: 10})
	assert.True(t, shared.IsValidation(err))

	assert.Zero(t, f.store.Ledger.Len())
}

func TestAwardXP_RejectsTotalOverflowBeforeAppend(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.store.Stats.Update(ctx, "u1", func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
		next, _ := cur.ApplyXP(progression.MaxTotalXP-5, start)
		return next, nil
	})
	require.NoError(t, err)

	_, err = f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: 10, Source: "task"})
	require.ErrorIs(t, err, shared.ErrTotalXPOverflow)
	assert.True(t, shared.IsValidation(err))
	assert.False(t, shared.IsPartialApply(err))
	assert.Zero(t, f.store.Ledger.Len())

	stats, err := f.store.Stats.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, progression.MaxTotalXP-5, stats.TotalXP)

	res, err := f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: 5, Source: "task"})
	require.NoError(t, err)
	assert.Equal(t, progression.MaxTotalXP, res.TotalXP)
	assert.Equal(t, 1, f.store.Ledger.Len())
}

func TestAwardXP_RejectsOversizedAmount(t *testing.T) {
	f := newFixture(nil)

	_, err := f.award.Handle(context.Background(), AwardXPCommand{UserID: "u1", Amount: math.MaxInt, Source: "task"})
	require.ErrorIs(t, err, shared.ErrAmountTooLarge)
	assert.True(t, shared.IsValidation(err))
	assert.Zero(t, f.store.Ledger.Len())
}

func TestAwardXP_Anonymous(t *testing.T) {
	f := newFixture(nil)

	res, err := f.award.Handle(context.Background(), AwardXPCommand{Amount: 30, Source: "game"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalXP)
	assert.Equal(t, 1, res.Level)
	assert.False(t, res.LevelUp)
	assert.Equal(t, 1, f.store.Ledger.Len())

	ids, _ := f.store.Stats.UserIDs(context.Background())
	assert.Empty(t, ids)
	assert.Empty(t, f.publisher.types())
}

func TestAwardXP_PartialApply(t *testing.T) {
	f := newFixture(&failingStats{updateErr: shared.WrapError("progression", "UpdateStats", shared.ErrPersistence, "write failed", errStore)})

	res, err := f.award.Handle(context.Background(), AwardXPCommand{UserID: "u1", Amount: 20, Source: "task"})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, shared.IsPartialApply(err))
	assert.True(t, shared.IsPersistence(err))

	var partial *PartialApplyError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 20, partial.Transaction.Amount)
	assert.Equal(t, 1, f.store.Ledger.Len())
}

func TestAwardXP_ConcurrentAwardsAreNotLost(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: 10, Source: "task"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := f.store.Stats.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, stats.TotalXP)
}

// ══════════════════════════════════════════════════════════════════════════════
// HABIT LOG + STREAK
// ══════════════════════════════════════════════════════════════════════════════

func TestLogHabit_UpsertAndStreak(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	habit := f.habit(t, "u1")

	first, err := f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, Value: value(4)})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", first.Log.LogDate.String())
	require.NotNil(t, first.Streak)
	assert.Equal(t, progression.StreakCreated, first.Streak.Outcome)
	assert.Equal(t, 1, first.Streak.Stats.StreakDays)

	second, err := f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, UserID: "u1", Value: value(8), Notes: "done"})
	require.NoError(t, err)
	assert.Equal(t, first.Log.ID, second.Log.ID)
	assert.Equal(t, 8.0, second.Log.Value)
	assert.Equal(t, progression.StreakUnchanged, second.Streak.Outcome)
	assert.Equal(t, 1, second.Streak.Stats.StreakDays)

	f.clock.AddDays(1)
	third, err := f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, Value: value(0)})
	require.NoError(t, err)
	assert.Equal(t, progression.StreakIncremented, third.Streak.Outcome)
	assert.Equal(t, 2, third.Streak.Stats.StreakDays)

	f.clock.AddDays(3)
	fourth, err := f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, Value: value(1)})
	require.NoError(t, err)
	assert.Equal(t, progression.StreakReset, fourth.Streak.Outcome)
	assert.Equal(t, 1, fourth.Streak.Stats.StreakDays)
	assert.Equal(t, "2024-03-14", fourth.Streak.Stats.LastActivityDate.String())
}

func TestLogHabit_StreakKeepsXP(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	habit := f.habit(t, "u1")

	_, err := f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: 130, Source: "task"})
	require.NoError(t, err)
	res, err := f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, Value: value(2)})
	require.NoError(t, err)

	assert.Equal(t, progression.StreakReset, res.Streak.Outcome)
	assert.Equal(t, 130, res.Streak.Stats.TotalXP)
	assert.Equal(t, 2, res.Streak.Stats.Level)
}

func TestLogHabit_ExplicitLogDateDoesNotMoveStreakDay(t *testing.T) {
	f := newFixture(nil)
	habit := f.habit(t, "u1")

	res, err := f.logHabit.Handle(context.Background(), LogHabitCommand{HabitID: habit.ID, Value: value(3), LogDate: "2024-03-01"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", res.Log.LogDate.String())
	assert.Equal(t, "2024-03-10", res.Streak.Stats.LastActivityDate.String())
}

func TestLogHabit_Errors(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	habit := f.habit(t, "u1")

	_, err := f.logHabit.Handle(ctx, LogHabitCommand{Value: value(1)})
	assert.ErrorIs(t, err, shared.ErrHabitIDRequired)

	_, err = f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID})
	assert.ErrorIs(t, err, shared.ErrHabitValueRequired)

	_, err = f.logHabit.Handle(ctx, LogHabitCommand{HabitID: "missing", Value: value(1)})
	assert.True(t, shared.IsNotFound(err))

	_, err = f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, UserID: "intruder", Value: value(1)})
	assert.ErrorIs(t, err, shared.ErrHabitNotOwned)

	_, err = f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, Value: value(1), LogDate: "yesterday"})
	assert.True(t, shared.IsValidation(err))

	ids, _ := f.store.Stats.UserIDs(ctx)
	assert.Empty(t, ids)
}

func TestStreakTracker_RecoversFromReadFailure(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	_, err := f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: 70, Source: "task"})
	require.NoError(t, err)

	broken := &failingStats{
		StatsRepository: f.store.Stats,
		updateErr:       fmt.Errorf("select stats: %w", progression.ErrStatsRead),
	}
	tracker := NewStreakTracker(broken, nil, f.clock, time.UTC, discard)

	upd, err := tracker.Update(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, progression.StreakRecovered, upd.Outcome)
	assert.Equal(t, 1, upd.Stats.StreakDays)

	stored, err := f.store.Stats.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 70, stored.TotalXP)
	assert.Equal(t, 1, stored.StreakDays)
	assert.Equal(t, "2024-03-10", stored.LastActivityDate.String())
}

func TestLogHabit_StreakFailureIsAWarning(t *testing.T) {
	broken := &failingStats{updateErr: errStore}
	f := newFixture(broken)
	broken.StatsRepository = f.store.Stats
	habit := f.habit(t, "u1")

	res, err := f.logHabit.Handle(context.Background(), LogHabitCommand{HabitID: habit.ID, Value: value(5)})
	require.NoError(t, err)
	assert.Nil(t, res.Streak)
	assert.Contains(t, res.StreakWarning, "connection refused")
	assert.Equal(t, 5.0, res.Log.Value)
}

func TestStreakTracker_UsesServiceTimezone(t *testing.T) {
	store := memory.NewStore()
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	clock := timeutil.NewFixedClock(time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC))
	tracker := NewStreakTracker(store.Stats, nil, clock, almaty, discard)

	upd, err := tracker.Update(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-11", upd.Stats.LastActivityDate.String())
}

// ══════════════════════════════════════════════════════════════════════════════
// HABITS + REBUILD
// ══════════════════════════════════════════════════════════════════════════════

func TestEnsureDefaultHabits_Idempotent(t *testing.T) {
	store := memory.NewStore()
	h := NewEnsureDefaultHabitsHandler(store.Habits, timeutil.NewFixedClock(start))
	ctx := context.Background()

	first, err := h.Handle(ctx, EnsureDefaultHabitsCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 4, first.Created)

	second, err := h.Handle(ctx, EnsureDefaultHabitsCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Len(t, second.Habits, 4)

	_, err = h.Handle(ctx, EnsureDefaultHabitsCommand{})
	assert.True(t, shared.IsValidation(err))
}

func TestCreateHabits(t *testing.T) {
	store := memory.NewStore()
	h := NewCreateHabitsHandler(store.Habits, nil)
	ctx := context.Background()

	created, err := h.Handle(ctx, CreateHabitsCommand{UserID: "u1", Habits: []wellness.HabitTemplate{
		{HabitType: wellness.HabitSleep, TargetValue: 7, Unit: "hours"},
		{HabitType: wellness.HabitMovement, TargetValue: 45, Unit: "minutes"},
	}})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	_, err = h.Handle(ctx, CreateHabitsCommand{UserID: "u1", Habits: []wellness.HabitTemplate{
		{HabitType: wellness.HabitSleep, TargetValue: 7},
		{HabitType: "juggling", TargetValue: 1},
	}})
	assert.True(t, shared.IsValidation(err))

	listed, _ := store.Habits.ListByUser(ctx, "u1")
	assert.Len(t, listed, 2)
}

func TestRebuildStats_RepairsDrift(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	habit := f.habit(t, "u1")

	_, err := f.award.Handle(ctx, AwardXPCommand{UserID: "u1", Amount: 80, Source: "task"})
	require.NoError(t, err)
	_, err = f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, Value: value(1)})
	require.NoError(t, err)
	f.clock.AddDays(1)
	_, err = f.logHabit.Handle(ctx, LogHabitCommand{HabitID: habit.ID, Value: value(1)})
	require.NoError(t, err)

	// simulate a lost stats write
	_, err = f.store.Stats.Update(ctx, "u1", func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
		cur.TotalXP, cur.Level, cur.CurrentLevelXP = 0, 1, 0
		return cur, nil
	})
	require.NoError(t, err)

	h := NewRebuildStatsHandler(f.store.Ledger, f.store.Logs, f.store.Stats, f.publisher, f.clock, discard)
	res, err := h.Handle(ctx, RebuildStatsCommand{UserID: "u1"})
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, 0, res.Before.TotalXP)
	assert.Equal(t, 80, res.After.TotalXP)
	assert.Equal(t, 2, res.After.StreakDays)
	assert.Equal(t, "2024-03-11", res.After.LastActivityDate.String())

	again, err := h.Handle(ctx, RebuildStatsCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, again.Changed)
}

func TestClaimReward_UsesCatalogAmount(t *testing.T) {
	f := newFixture(nil)
	claim := NewClaimRewardHandler(f.award)
	ctx := context.Background()

	res, err := claim.Handle(ctx, ClaimRewardCommand{UserID: "u1", Key: "game_sequence", Level: 3})
	require.NoError(t, err)
	assert.Equal(t, 35, res.Transaction.Amount)
	assert.Equal(t, progression.SourceGame, res.Transaction.Source)
	assert.Equal(t, "game_sequence", res.Transaction.SourceID)
	assert.Equal(t, 35, res.TotalXP)

	res, err = claim.Handle(ctx, ClaimRewardCommand{UserID: "u1", Key: "focus_session", Level: 9, SourceID: "sess-1"})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Transaction.Amount)
	assert.Equal(t, "sess-1", res.Transaction.SourceID)
	assert.Equal(t, 85, res.TotalXP)
}

func TestClaimReward_Errors(t *testing.T) {
	f := newFixture(nil)
	claim := NewClaimRewardHandler(f.award)
	ctx := context.Background()

	_, err := claim.Handle(ctx, ClaimRewardCommand{UserID: "u1", Key: "jackpot"})
	assert.ErrorIs(t, err, shared.ErrRewardNotFound)
	assert.True(t, shared.IsNotFound(err))

	_, err = claim.Handle(ctx, ClaimRewardCommand{UserID: "u1", Key: "game_sequence", Level: progression.MaxRewardLevel + 1})
	assert.True(t, shared.IsValidation(err))

	assert.Zero(t, f.store.Ledger.Len())
}
