// Package main - точка входа HTTP API EduSphere.
//
// Сервер принимает начисления XP и отметки привычек, отдаёт статистику,
// историю, лидерборд и каталог наград. Хранилище выбирается
// конфигурацией (postgres, sqlite или память), Redis опционален.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/edusphere/edusphere-hub/config"
	"github.com/edusphere/edusphere-hub/internal/application/command"
	"github.com/edusphere/edusphere-hub/internal/application/eventhandler"
	"github.com/edusphere/edusphere-hub/internal/application/query"
	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/messaging"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/postgres"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/redis"
	httpserver "github.com/edusphere/edusphere-hub/internal/interface/http"
	"github.com/edusphere/edusphere-hub/internal/interface/http/handlers"
	"github.com/edusphere/edusphere-hub/pkg/circuitbreaker"
	"github.com/edusphere/edusphere-hub/pkg/logger"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting EduSphere API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Location.String(),
		"driver", cfg.Database.Driver,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	repos, err := persistence.Open(ctx, storeOptions(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		log.Info("closing store...")
		repos.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache       *redis.Cache
		leaderboardCache progression.LeaderboardCache
		breaker          *circuitbreaker.CircuitBreaker
	)
	if !cfg.Redis.Disabled {
		redisCache, err = redis.NewCache(ctx, redisConfig(cfg))
		if err != nil {
			if cfg.Events.Backend == config.EventsRedis {
				return fmt.Errorf("redis is required by the event bus: %w", err)
			}
			log.Warn("failed to connect to Redis, leaderboard cache disabled", "error", err)
		} else {
			defer redisCache.Close()
			log.Info("Redis connection established")
			if cfg.Features.IsEnabled(config.FeatureLeaderboardCache) {
				leaderboardCache = redis.NewLeaderboardCache(redisCache, cfg.Gamification.LeaderboardCacheTTL)
				breaker = circuitbreaker.CacheBreaker("leaderboard_cache", func(name string, from, to circuitbreaker.State) {
					log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
				})
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, closeBus, err := setupEventBus(cfg, redisCache, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = closeBus()
	}()

	if leaderboardCache != nil && cfg.Features.IsEnabled(config.FeatureEvents) {
		onAwarded := eventhandler.NewOnXPAwardedHandler(leaderboardCache, log)
		for _, et := range []shared.EventType{shared.EventXPAwarded, shared.EventStatsRebuilt} {
			if err := bus.Subscribe(et, onAwarded.Handle); err != nil {
				return fmt.Errorf("subscribe %s: %w", et, err)
			}
		}
	}

	var publisher shared.EventPublisher = bus
	if !cfg.Features.IsEnabled(config.FeatureEvents) {
		publisher = nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.SystemClock{}
	loc := cfg.App.Location

	streak := command.NewStreakTracker(repos.Stats, publisher, clock, loc, log)

	award := command.NewAwardXPHandler(repos.Ledger, repos.Stats, publisher, clock, log)
	deps := httpserver.Dependencies{
		AwardXP:             award,
		ClaimReward:         command.NewClaimRewardHandler(award),
		LogHabit:            command.NewLogHabitHandler(repos.Habits, repos.Logs, streak, publisher, clock, loc, log),
		CreateHabits:        command.NewCreateHabitsHandler(repos.Habits, clock),
		EnsureDefaultHabits: command.NewEnsureDefaultHabitsHandler(repos.Habits, clock),
		RebuildStats:        command.NewRebuildStatsHandler(repos.Ledger, repos.Logs, repos.Stats, publisher, clock, log),

		GetStats:       query.NewGetStatsHandler(repos.Stats),
		GetXPHistory:   query.NewGetXPHistoryHandler(repos.Ledger),
		ListHabits:     query.NewListHabitsHandler(repos.Habits, repos.Logs, clock, loc),
		GetLeaderboard: query.NewGetLeaderboardHandler(repos.Stats, leaderboardCache, breaker, clock, log),
		GetUserRank:    query.NewGetUserRankHandler(repos.Stats, leaderboardCache, breaker, log),

		DefaultHabitsOnList: func(userID string) bool {
			return cfg.Features.IsEnabledForUser(config.FeatureDefaultHabits, userID)
		},

		Logger: logger.NewFromConfig(cfg.Observability.LogLevel, cfg.Observability.LogFormat),
	}

	deps.Auth, err = handlers.NewAPIKeyAuth(cfg.HTTP.APIKeyHeader, cfg.HTTP.APIKeyHashes)
	if err != nil {
		return fmt.Errorf("failed to configure API keys: %w", err)
	}
	if !deps.Auth.Enabled() {
		log.Warn("API key authentication disabled, no key hashes configured")
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("store", handlers.NewPingCheck(repos))
	if redisCache != nil {
		// Без Redis-шины события не доходят до воркера, кеш же только ускоряет чтение.
		if cfg.Events.Backend == config.EventsRedis {
			health.AddCheck("redis", handlers.NewPingCheck(redisCache))
		} else {
			health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
		}
	}
	deps.HealthChecker = health

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpConfig.Version = cfg.App.Version

	server := httpserver.NewServer(httpConfig, deps)
	errCh := server.StartAsync()
	log.Info("EduSphere API is running", "address", httpConfig.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает slog: JSON в production, текст в разработке.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() || cfg.Observability.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func slogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func storeOptions(cfg *config.Config) persistence.Options {
	return persistence.Options{
		Driver:     cfg.Database.Driver,
		URL:        cfg.Database.URL,
		SQLitePath: cfg.Database.SQLitePath,
		Pool: postgres.PoolOptions{
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		},
		RetryOnStartup: cfg.Database.RetryOnStartup,
	}
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

// setupEventBus returns the configured bus and its close function.
func setupEventBus(cfg *config.Config, cache *redis.Cache, log *slog.Logger) (shared.EventBus, func() error, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.AsyncMode = cfg.Events.Async
	local.WorkerPoolSize = cfg.Events.MaxWorkers
	local.Logger = log

	if cfg.Events.Backend != config.EventsRedis {
		bus := messaging.NewInMemoryEventBus(local)
		return bus, bus.Close, nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         redis.NewPubSub(cache),
		ChannelName:    cfg.Events.Channel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, nil, err
	}
	return bus, bus.Close, nil
}
