package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/application/command"
	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/memory"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

var (
	start   = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type fakeCache struct {
	mu       sync.Mutex
	replaced []progression.LeaderboardEntry
	err      error
}

func (c *fakeCache) UpdateEntry(context.Context, progression.LeaderboardEntry) error { return nil }
func (c *fakeCache) SetEntry(context.Context, progression.LeaderboardEntry) error    { return nil }

func (c *fakeCache) GetRank(context.Context, string) (progression.UserRank, bool, error) {
	return progression.UserRank{}, false, nil
}

func (c *fakeCache) GetTop(context.Context, int) ([]progression.LeaderboardEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced, nil
}

func (c *fakeCache) Replace(_ context.Context, entries []progression.LeaderboardEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.replaced = entries
	return nil
}

func seed(t *testing.T, store *memory.Store, userID shared.UserID, amounts ...int) {
	t.Helper()
	ctx := context.Background()
	for i, amount := range amounts {
		tx, err := progression.NewTransaction(progression.NewTransactionParams{
			ID:        fmt.Sprintf("%s-%d", userID, i),
			UserID:    userID,
			Amount:    amount,
			Source:    "task",
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.NoError(t, store.Ledger.Append(ctx, tx))
	}
}

func TestRebuildLeaderboard_ReplacesCache(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for id, total := range map[shared.UserID]int{"amy": 250, "bob": 90, "cat": 250} {
		total := total
		_, err := store.Stats.Update(ctx, id, func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
			next, _ := cur.ApplyXP(total, start)
			return next, nil
		})
		require.NoError(t, err)
	}

	cache := &fakeCache{}
	job := NewRebuildLeaderboardJob(store.Stats, cache, discard, DefaultRebuildLeaderboardConfig())
	require.NoError(t, job.Run(ctx))

	require.Len(t, cache.replaced, 3)
	assert.Equal(t, "amy", cache.replaced[0].UserID)
	assert.Equal(t, 1, cache.replaced[0].Rank)
	assert.Equal(t, "cat", cache.replaced[1].UserID)
	assert.Equal(t, 3, cache.replaced[0].Level)
	assert.Equal(t, "bob", cache.replaced[2].UserID)
}

func TestRebuildLeaderboard_Errors(t *testing.T) {
	store := memory.NewStore()

	job := NewRebuildLeaderboardJob(store.Stats, nil, discard, DefaultRebuildLeaderboardConfig())
	assert.Error(t, job.Run(context.Background()))

	boom := errors.New("redis down")
	job = NewRebuildLeaderboardJob(store.Stats, &fakeCache{err: boom}, discard, RebuildLeaderboardConfig{})
	assert.ErrorIs(t, job.Run(context.Background()), boom)
	assert.Equal(t, progression.MaxLeaderboardSize, job.config.Size)
}

func TestReconcileStats_RepairsDrift(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	seed(t, store, "amy", 40, 70)
	seed(t, store, "bob", 10)

	// Stats row that no longer matches its ledger.
	_, err := store.Stats.Update(ctx, "bob", func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
		next, _ := cur.ApplyXP(500, start)
		return next, nil
	})
	require.NoError(t, err)
	// Stats row with no ledger rows at all.
	_, err = store.Stats.Update(ctx, "zed", func(cur progression.UserStats, _ bool) (progression.UserStats, error) {
		next, _ := cur.ApplyXP(5, start)
		return next, nil
	})
	require.NoError(t, err)

	rebuilder := command.NewRebuildStatsHandler(store.Ledger, store.Logs, store.Stats, nil, timeutil.NewFixedClock(start), discard)
	job := NewReconcileStatsJob(store.Ledger, store.Stats, rebuilder, discard)

	report, err := job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Users)
	assert.Equal(t, 3, report.Changed)
	assert.Zero(t, report.Failed)

	amy, err := store.Stats.Get(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, 110, amy.TotalXP)
	assert.Equal(t, 2, amy.Level)

	bob, err := store.Stats.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 10, bob.TotalXP)

	zed, err := store.Stats.Get(ctx, "zed")
	require.NoError(t, err)
	assert.Zero(t, zed.TotalXP)

	report, err = job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Changed)
}

type flakyRebuilder struct {
	calls int
	err   error
}

func (f *flakyRebuilder) Handle(_ context.Context, _ command.RebuildStatsCommand) (*command.RebuildStatsResult, error) {
	f.calls++
	return nil, f.err
}

func TestReconcileStats_CountsFailures(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "amy", 40)

	plain := &flakyRebuilder{err: errors.New("bad row")}
	report, err := NewReconcileStatsJob(store.Ledger, store.Stats, plain, discard).Reconcile(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, plain.calls)

	persistent := &flakyRebuilder{err: fmt.Errorf("stats: %w", shared.ErrPersistence)}
	_, err = NewReconcileStatsJob(store.Ledger, store.Stats, persistent, discard).Reconcile(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, persistent.calls)
}
