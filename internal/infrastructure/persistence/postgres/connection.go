// Package postgres implements the PostgreSQL persistence layer: the XP
// ledger, the per-user stats rows and the wellness habits with their logs.
// Stats writes are serialized per user with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

var (
	ErrConnectionClosed  = errors.New("postgres: connection pool is closed")
	ErrMigrationFailed   = errors.New("postgres: migration failed")
	ErrTransactionFailed = errors.New("postgres: transaction failed")
)

// PoolOptions tunes the pgx pool. Zero fields take the value from
// DefaultPoolOptions.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

func orDefault[T int32 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

func (o PoolOptions) apply(cfg *pgxpool.Config) {
	d := DefaultPoolOptions()
	cfg.MaxConns = orDefault(o.MaxConns, d.MaxConns)
	cfg.MinConns = orDefault(o.MinConns, d.MinConns)
	cfg.MaxConnLifetime = orDefault(o.MaxConnLifetime, d.MaxConnLifetime)
	cfg.MaxConnIdleTime = orDefault(o.MaxConnIdleTime, d.MaxConnIdleTime)
	cfg.HealthCheckPeriod = orDefault(o.HealthCheckPeriod, d.HealthCheckPeriod)
}

// Connection owns the pool. After Close every call fails with
// ErrConnectionClosed instead of reaching a closed pool.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewConnectionFromURL fails unless the database answers a ping.
func NewConnectionFromURL(ctx context.Context, databaseURL string, opts PoolOptions) (*Connection, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}
	opts.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool}, nil
}

func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

func (c *Connection) live() (*pgxpool.Pool, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.pool, nil
}

func (c *Connection) Ping(ctx context.Context) error {
	pool, err := c.live()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// ════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ════════════════════════════════════════════════════════════════════════════

type TxOptions struct {
	IsoLevel   pgx.TxIsoLevel
	AccessMode pgx.TxAccessMode
}

// DefaultTxOptions is read committed: stats updates take row locks, which
// is enough without serializable isolation.
func DefaultTxOptions() TxOptions {
	return TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}
}

// WithTx commits when fn returns nil. An error or a panic in fn rolls back;
// the panic is re-raised afterwards.
func (c *Connection) WithTx(ctx context.Context, opts TxOptions, fn func(pgx.Tx) error) error {
	pool, err := c.live()
	if err != nil {
		return err
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: opts.IsoLevel, AccessMode: opts.AccessMode})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailed, err)
	}
	committed = true
	return nil
}

// Querier is satisfied by *Connection and pgx.Tx, so query helpers run
// inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	pool, err := c.live()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pool.Exec(ctx, sql, args...)
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	pool, err := c.live()
	if err != nil {
		return nil, err
	}
	return pool.Query(ctx, sql, args...)
}

// QueryRow on a closed connection surfaces the pool's own error at Scan.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

// ════════════════════════════════════════════════════════════════════════════
// ERRORS FROM THE DRIVER
// ════════════════════════════════════════════════════════════════════════════

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports SQLSTATE 23505, e.g. a reused transaction id.
func IsUniqueViolation(err error) bool { return sqlState(err) == "23505" }

// IsForeignKeyViolation reports SQLSTATE 23503, e.g. a log for a deleted habit.
func IsForeignKeyViolation(err error) bool { return sqlState(err) == "23503" }

func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// storeError wraps a driver error as a domain persistence failure.
func storeError(domain, op string, err error) error {
	return shared.WrapError(domain, op, shared.ErrPersistence, "postgres", err)
}
