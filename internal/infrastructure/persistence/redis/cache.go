// Package redis implements the Redis side of the gamification service: the
// leaderboard read model and the Pub/Sub transport of the event bus.
// Cache owns the client; LeaderboardCache keeps ranked XP totals in a
// sorted set; PubSub adapts the client to messaging.RedisEventBus.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheConnection    = errors.New("cache: connection failed")
	ErrCacheSerialization = errors.New("cache: serialization failed")
	ErrCacheKeyEmpty      = errors.New("cache: key cannot be empty")
)

// Config: a URL such as redis://:secret@localhost:6379/0 replaces
// Host, Port, Password and DB. Pool and timeout fields apply either way.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int // per command, handled by go-redis

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() (*redis.Options, error) {
	opts := &redis.Options{Addr: c.Addr(), Password: c.Password, DB: c.DB}
	if c.URL != "" {
		var err error
		if opts, err = redis.ParseURL(c.URL); err != nil {
			return nil, fmt.Errorf("%w: parse url: %v", ErrCacheConnection, err)
		}
	}
	opts.PoolSize, opts.MinIdleConns, opts.MaxRetries = c.PoolSize, c.MinIdleConns, c.MaxRetries
	opts.DialTimeout, opts.ReadTimeout, opts.WriteTimeout = c.DialTimeout, c.ReadTimeout, c.WriteTimeout
	return opts, nil
}

// Cache owns the go-redis client shared by the leaderboard and Pub/Sub.
type Cache struct {
	client *redis.Client
}

// NewCache fails with ErrCacheConnection unless Redis answers a ping
// within DialTimeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Publish sends strings and byte slices unchanged and JSON-encodes the rest.
func (c *Cache) Publish(ctx context.Context, channel string, message any) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	var payload any = message
	if _, raw := message.(string); !raw {
		if _, raw = message.([]byte); !raw {
			data, err := json.Marshal(message)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
			}
			payload = data
		}
	}
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe is live on return; the caller closes the subscription.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}

// Keys are "leaderboard:{kind}:{board}" with kind xp, info or meta.
const (
	PrefixLeaderboard = "leaderboard:"
	DefaultBoard      = "global"
)

func LeaderboardKey(kind, board string) string {
	if board == "" {
		board = DefaultBoard
	}
	return PrefixLeaderboard + kind + ":" + board
}
