// Package main - точка входа для фоновых процессов (Worker) EduSphere.
//
// Worker отвечает за периодические задачи:
//   - Пересборка лидерборда в Redis из таблицы статистики
//   - Сверка статистики пользователей с журналом XP и логами привычек
//
// Флаг -run-once <job> выполняет одну задачу и завершает процесс.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edusphere/edusphere-hub/config"
	"github.com/edusphere/edusphere-hub/internal/application/command"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/messaging"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/postgres"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/redis"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/scheduler"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/scheduler/jobs"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	runOnce := flag.String("run-once", "", "run a single job by name and exit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *runOnce); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runOnce string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting EduSphere Worker",
		"env", cfg.App.Environment,
		"driver", cfg.Database.Driver,
		"timezone", cfg.App.Location.String(),
	)

	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("worker is running against a private in-memory store, jobs see no API data")
	}

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
	var redisCache *redis.Cache
	if !cfg.Redis.Disabled {
		redisCache, err = redis.NewCache(ctx, redisConfig(cfg))
		if err != nil {
			log.Warn("failed to connect to Redis, leaderboard rebuild disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// События пересборки статистики уходят в Redis, чтобы API обновил кеш.
	// ─────────────────────────────────────────────────────────────────────────
	var publisher shared.EventPublisher
	if redisCache != nil && cfg.Events.Backend == config.EventsRedis && cfg.Features.IsEnabled(config.FeatureEvents) {
		local := messaging.DefaultInMemoryEventBusConfig()
		local.Logger = log
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(redisCache),
			ChannelName:    cfg.Events.Channel,
			LocalBusConfig: local,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
		defer func() { _ = bus.Close() }()
		publisher = bus
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SCHEDULER И ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log
	schedConfig.Timezone = cfg.App.Location
	schedConfig.TickInterval = cfg.Scheduler.TickInterval
	schedConfig.RunOnStart = cfg.Scheduler.RunOnStart
	sched := scheduler.NewScheduler(schedConfig)

	rebuilder := command.NewRebuildStatsHandler(repos.Ledger, repos.Logs, repos.Stats, publisher, timeutil.SystemClock{}, log)
	reconcile := jobs.NewReconcileStatsJob(repos.Ledger, repos.Stats, rebuilder, log)
	if err := sched.Register(reconcile, scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileStatsInterval)); err != nil {
		return fmt.Errorf("register %s: %w", reconcile.Name(), err)
	}

	if redisCache != nil {
		board := redis.NewLeaderboardCache(redisCache, cfg.Gamification.LeaderboardCacheTTL)
		rebuild := jobs.NewRebuildLeaderboardJob(repos.Stats, board, log, jobs.RebuildLeaderboardConfig{
			Size:    cfg.Gamification.LeaderboardLimit,
			Timeout: cfg.Scheduler.JobTimeout,
		})
		if err := sched.Register(rebuild, scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildLeaderboardInterval)); err != nil {
			return fmt.Errorf("register %s: %w", rebuild.Name(), err)
		}
	}

	for _, info := range sched.ListJobs() {
		log.Info("job registered", "job", info.Name, "schedule", info.Schedule)
	}

	if runOnce != "" {
		return runSingleJob(ctx, sched, runOnce, cfg.Scheduler.JobTimeout, log)
	}

	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, nothing to do")
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("EduSphere Worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	select {
	case err := <-stopped:
		if err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Error("failed to stop scheduler", "error", err)
			return err
		}
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("scheduler did not stop in time")
	}

	log.Info("shutdown completed successfully")
	return nil
}

// runSingleJob выполняет задачу вне расписания и возвращает её ошибку.
func runSingleJob(ctx context.Context, sched *scheduler.Scheduler, name string, timeout time.Duration, log *slog.Logger) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := sched.RunNow(ctx, name)
	if result != nil {
		log.Info("job finished",
			"job", result.JobName,
			"success", result.Success,
			"duration", result.Duration.String(),
		)
	}
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug || cfg.Observability.LogLevel == "debug" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() || cfg.Observability.LogFormat == "json" {
		// JSON формат для production (лучше для агрегаторов логов)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
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
