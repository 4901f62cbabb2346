package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/edusphere/edusphere-hub/internal/infrastructure/messaging"
)

// PubSub adapts Cache to messaging.RedisClient.
type PubSub struct {
	cache *Cache

	mu   sync.Mutex
	subs []*redis.PubSub
}

var _ messaging.RedisClient = (*PubSub)(nil)

// NewPubSub creates a new PubSub adapter.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache}
}

// Publish implements messaging.RedisClient.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.cache.Publish(ctx, channel, message)
}

// Subscribe implements messaging.RedisClient. The returned channel is closed
// when ctx is done or the subscription is closed.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.cache.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so early publishes are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					_ = sub.Close()
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes every subscription. The underlying Cache stays open.
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
