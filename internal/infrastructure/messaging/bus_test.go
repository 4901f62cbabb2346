package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	at      = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
)

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: discard, EnableMetrics: true})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("u1", "tx1", 10, "task", 10, 1, at)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 100, at)))

	assert.Equal(t, []shared.EventType{shared.EventXPAwarded}, typed)
	assert.Equal(t, []shared.EventType{shared.EventXPAwarded, shared.EventLevelUp}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
	assert.Equal(t, int64(2), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncRecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: discard, EnableMetrics: true})

	var calls atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventHabitLogged, func(shared.Event) error {
		calls.Add(1)
		panic("boom")
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewHabitLoggedEvent("u1", "h1", "2024-03-10", 1, at)))
	}
	bus.Wait()

	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, int64(5), bus.Metrics().Snapshot().HandlerFailures)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 100, at)), ErrEventBusClosed)
}

// fakeRedis fans every published message out to all subscribers.
type fakeRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
	fail bool
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("redis down")
	}
	for _, ch := range f.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (f *fakeRedis) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	f.subs = append(f.subs, ch)
	return ch, nil
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisEventBus_DeliversAcrossInstances(t *testing.T) {
	redis := &fakeRedis{}
	local := InMemoryEventBusConfig{Logger: discard}

	a, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, InstanceID: "a", LocalBusConfig: local, Logger: discard})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, InstanceID: "b", LocalBusConfig: local, Logger: discard})
	require.NoError(t, err)
	defer b.Close()

	var (
		mu       sync.Mutex
		seenByA  int
		received shared.Event
	)
	require.NoError(t, a.Subscribe(shared.EventXPAwarded, func(shared.Event) error {
		mu.Lock()
		seenByA++
		mu.Unlock()
		return nil
	}))
	require.NoError(t, b.Subscribe(shared.EventXPAwarded, func(e shared.Event) error {
		mu.Lock()
		received = e
		mu.Unlock()
		return nil
	}))

	event := shared.NewXPAwardedEvent("u1", "tx1", 40, "task", 140, 2, at)
	event.BaseEvent = event.BaseEvent.WithCorrelationID("req-1")
	require.NoError(t, a.Publish(event))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seenByA, "own message must not be replayed")
	assert.Equal(t, "u1", received.AggregateID())
	assert.Equal(t, float64(140), received.Payload()["total_xp"])
	assert.True(t, at.Equal(received.OccurredAt()))
}

func TestRedisEventBus_RedisFailureStillDeliversLocally(t *testing.T) {
	redis := &fakeRedis{fail: true}
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, LocalBusConfig: InMemoryEventBusConfig{Logger: discard}, Logger: discard})
	require.NoError(t, err)
	defer bus.Close()

	var got int
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error {
		got++
		return nil
	}))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 100, at)))
	assert.Equal(t, 1, got)
}

func TestEnvelope_RoundTripKeepsCorrelation(t *testing.T) {
	event := shared.NewStreakUpdatedEvent("u1", 3, "incremented", at)
	event.BaseEvent = event.BaseEvent.WithCorrelationID("req-9")

	data, err := encodeEnvelope("i1", event)
	require.NoError(t, err)

	env, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "i1", env.InstanceID)
	assert.Equal(t, "req-9", env.CorrelationID)
	assert.Equal(t, shared.EventStreakUpdated, env.event().EventType())

	_, err = decodeEnvelope([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrEventNotSupported)
}
