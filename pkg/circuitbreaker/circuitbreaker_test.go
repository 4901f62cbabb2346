package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errCache = errors.New("redis: connection refused")

func fail(context.Context) error    { return errCache }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []State
	cb := CacheBreaker("leaderboard", func(_ string, _, to State) {
		transitions = append(transitions, to)
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errCache)
	}

	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := New("cache", WithFailureThreshold(1), WithSuccessThreshold(1), WithTimeout(time.Second))
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.True(t, cb.IsClosed())
}

func TestCircuitBreaker_FallbackWhenOpen(t *testing.T) {
	cb := New("cache", WithFailureThreshold(1))
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)

	usedFallback := false
	err := cb.ExecuteWithFallback(ctx, succeed, func(err error) error {
		usedFallback = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, usedFallback)
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	miss := errors.New("cache miss")
	cb := New("cache", WithFailureThreshold(1), WithIsFailure(func(err error) bool {
		return !errors.Is(err, miss)
	}))

	_ = cb.Execute(context.Background(), func(context.Context) error { return miss })
	assert.True(t, cb.IsClosed())
	assert.Equal(t, 1, cb.Counts().TotalSuccesses)
}
