package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Repositories {
		db, err := Open(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		return storetest.Repositories{
			Ledger: NewLedgerRepository(db),
			Stats:  NewStatsRepository(db),
			Habits: NewHabitRepository(db),
			Logs:   NewLogRepository(db),
		}
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, Migrate(ctx, db))
}

func TestLedger_DuplicateID(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	repo := NewLedgerRepository(db)
	tx := &progression.XpTransaction{ID: "tx-1", UserID: "u1", Amount: 5, Source: "task"}
	require.NoError(t, repo.Append(ctx, tx))

	err = repo.Append(ctx, tx)
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestLogUpsert_OnlyForeignKeyMeansMissingHabit(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	habit, err := wellness.NewHabit("h-1", "u1", wellness.DefaultHabits()[1], now)
	require.NoError(t, err)
	logs := NewLogRepository(db)

	orphan := &wellness.HabitLog{ID: "l-0", HabitID: "gone", UserID: "u1", LogDate: shared.NewDate(2024, 3, 10), Value: 1, CreatedAt: now, UpdatedAt: now}
	_, err = logs.Upsert(ctx, orphan)
	assert.ErrorIs(t, err, shared.ErrHabitNotFound)

	require.NoError(t, NewHabitRepository(db).CreateMany(ctx, []*wellness.Habit{habit}))
	first, err := wellness.NewHabitLog(wellness.NewLogParams{ID: "l-1", Habit: habit, LogDate: shared.NewDate(2024, 3, 10), Value: 3, Now: now})
	require.NoError(t, err)
	_, err = logs.Upsert(ctx, first)
	require.NoError(t, err)

	// Same primary key on another day is a different constraint.
	clash, err := wellness.NewHabitLog(wellness.NewLogParams{ID: "l-1", Habit: habit, LogDate: shared.NewDate(2024, 3, 11), Value: 4, Now: now})
	require.NoError(t, err)
	_, err = logs.Upsert(ctx, clash)
	require.Error(t, err)
	assert.False(t, shared.IsNotFound(err))
	assert.True(t, shared.IsPersistence(err))
}

func TestStats_ReadFailureIsMarked(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	repo := NewStatsRepository(db)
	require.NoError(t, db.Close())

	_, err = repo.Update(ctx, "u1", func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
		return cur, nil
	})
	assert.ErrorIs(t, err, progression.ErrStatsRead)
	assert.True(t, shared.IsPersistence(err))
}
