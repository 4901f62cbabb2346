// Package persistence picks the store backend at startup and hands the
// processes one set of repositories, whatever the driver.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/memory"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/postgres"
	"github.com/edusphere/edusphere-hub/internal/infrastructure/persistence/sqlite"
	"github.com/edusphere/edusphere-hub/pkg/retry"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Options selects and tunes the backend.
type Options struct {
	Driver     string
	URL        string
	SQLitePath string
	Pool       postgres.PoolOptions

	// RetryOnStartup retries the first Postgres connection with backoff.
	RetryOnStartup bool
}

// Repositories is the set of stores used by the application layer.
type Repositories struct {
	Driver string
	Ledger progression.LedgerRepository
	Stats  progression.StatsRepository
	Habits wellness.HabitRepository
	Logs   wellness.LogRepository

	ping  func(ctx context.Context) error
	close func()
}

// Ping checks the backend. The memory store is always healthy.
func (r *Repositories) Ping(ctx context.Context) error {
	if r.ping == nil {
		return nil
	}
	return r.ping(ctx)
}

// Close releases the backend's connections.
func (r *Repositories) Close() {
	if r.close != nil {
		r.close()
	}
}

// Open connects to the configured backend and brings its schema up to date.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Repositories, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "persistence", "driver", opts.Driver)

	switch opts.Driver {
	case DriverPostgres:
		return openPostgres(ctx, opts, logger)
	case DriverSQLite:
		return openSQLite(ctx, opts, logger)
	case DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		store := memory.NewStore()
		return &Repositories{
			Driver: DriverMemory,
			Ledger: store.Ledger,
			Stats:  store.Stats,
			Habits: store.Habits,
			Logs:   store.Logs,
		}, nil
	default:
		return nil, fmt.Errorf("persistence: unknown driver %q", opts.Driver)
	}
}

func openPostgres(ctx context.Context, opts Options, logger *slog.Logger) (*Repositories, error) {
	connect := func(ctx context.Context) (*postgres.Connection, error) {
		return postgres.NewConnectionFromURL(ctx, opts.URL, opts.Pool)
	}

	var (
		conn *postgres.Connection
		err  error
	)
	if opts.RetryOnStartup {
		retrier := retry.StartupRetrier(func(attempt int, err error, delay time.Duration) {
			logger.Warn("database not ready, retrying", "attempt", attempt, "delay", delay, "error", err)
		})
		err = retrier.Do(ctx, func(ctx context.Context) error {
			var connErr error
			conn, connErr = connect(ctx)
			return connErr
		})
	} else {
		conn, err = connect(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	migrator := postgres.NewMigrator(conn)
	if err := migrator.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("postgres ready")

	return &Repositories{
		Driver: DriverPostgres,
		Ledger: postgres.NewLedgerRepository(conn),
		Stats:  postgres.NewStatsRepository(conn),
		Habits: postgres.NewHabitRepository(conn),
		Logs:   postgres.NewLogRepository(conn),
		ping:   conn.Ping,
		close:  conn.Close,
	}, nil
}

func openSQLite(ctx context.Context, opts Options, logger *slog.Logger) (*Repositories, error) {
	db, err := sqlite.Open(ctx, opts.SQLitePath)
	if err != nil {
		return nil, err
	}
	logger.Info("sqlite ready", "path", opts.SQLitePath)

	return &Repositories{
		Driver: DriverSQLite,
		Ledger: sqlite.NewLedgerRepository(db),
		Stats:  sqlite.NewStatsRepository(db),
		Habits: sqlite.NewHabitRepository(db),
		Logs:   sqlite.NewLogRepository(db),
		ping:   db.PingContext,
		close:  func() { _ = db.Close() },
	}, nil
}
