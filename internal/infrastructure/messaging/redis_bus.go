package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "edusphere:events"

// RedisClient is the slice of Redis Pub/Sub the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one received Pub/Sub message, or a subscription error.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

type RedisEventBusConfig struct {
	Client RedisClient
	// ChannelName defaults to DefaultChannel.
	ChannelName string
	// InstanceID tags outgoing messages so an instance skips its own echo.
	// Generated when empty.
	InstanceID     string
	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers locally like InMemoryEventBus and mirrors every
// event to a Redis channel; events from other instances are replayed on the
// local bus. The API applies XP and the worker rebuilds stats, so each
// process sees the other's events this way.
type RedisEventBus struct {
	local    *InMemoryEventBus
	client   RedisClient
	channel  string
	instance string
	logger   *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	loop   sync.WaitGroup
	closed atomic.Bool
}

var _ shared.EventBus = (*RedisEventBus)(nil)

// NewRedisEventBus subscribes to the channel before returning.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = DefaultChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	b := &RedisEventBus{
		local:    NewInMemoryEventBus(cfg.LocalBusConfig),
		client:   cfg.Client,
		channel:  cfg.ChannelName,
		instance: cfg.InstanceID,
		logger:   cfg.Logger.With("component", "redis_event_bus", "instance_id", cfg.InstanceID),
		ctx:      ctx,
		stop:     stop,
	}

	messages, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		stop()
		return nil, fmt.Errorf("start subscriber: %w", err)
	}
	b.loop.Add(1)
	go b.receive(messages)
	return b, nil
}

func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish never fails because of Redis: the error is logged and local
// handlers still run.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.closed.Load() {
		return ErrEventBusClosed
	}

	data, err := encodeEnvelope(b.instance, event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.logger.Error("failed to publish to redis", "event_type", event.EventType(), "error", err)
	}
	return b.local.Publish(event)
}

func (b *RedisEventBus) receive(messages <-chan RedisMessage) {
	defer b.loop.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.replay(msg)
		}
	}
}

func (b *RedisEventBus) replay(msg RedisMessage) {
	if msg.Err != nil {
		b.logger.Error("redis subscription error", "error", msg.Err)
		return
	}
	env, err := decodeEnvelope([]byte(msg.Payload))
	if err != nil {
		b.logger.Error("failed to decode event", "error", err)
		return
	}
	if env.InstanceID == b.instance {
		return
	}
	if err := b.local.Publish(env.event()); err != nil {
		b.logger.Error("failed to process remote event", "event_type", env.Type, "error", err)
	}
}

// Close stops receiving, then drains the local bus. The client is owned by
// the caller.
func (b *RedisEventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.stop()
	b.loop.Wait()
	err := b.local.Close()
	b.logger.Info("redis event bus closed")
	return err
}

func (b *RedisEventBus) Metrics() *EventBusMetrics { return b.local.Metrics() }
