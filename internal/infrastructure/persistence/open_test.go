package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

func TestOpen_Memory(t *testing.T) {
	repos, err := Open(context.Background(), Options{Driver: DriverMemory}, nil)
	require.NoError(t, err)
	defer repos.Close()

	assert.Equal(t, DriverMemory, repos.Driver)
	assert.NoError(t, repos.Ping(context.Background()))
}

func TestOpen_SQLiteInMemory(t *testing.T) {
	ctx := context.Background()
	repos, err := Open(ctx, Options{Driver: DriverSQLite, SQLitePath: ":memory:"}, nil)
	require.NoError(t, err)
	defer repos.Close()

	require.NoError(t, repos.Ping(ctx))

	stats, err := repos.Stats.Update(ctx, shared.UserID("amy"), func(cur progression.UserStats, exists bool) (progression.UserStats, error) {
		assert.False(t, exists)
		next, _ := cur.ApplyXP(40, time.Now().UTC())
		return next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 40, stats.TotalXP)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}
