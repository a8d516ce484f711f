// Package postgres implements the PostgreSQL backends of the study timer:
// a single-row snapshot table for the session and the completed-session log.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConnectionClosed is returned by every call made after Close.
var ErrConnectionClosed = errors.New("postgres: connection pool is closed")

// ══════════════════════════════════════════════════════════════════════════════
// POOL CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Options tune the pool on top of what the database URL specifies.
type Options struct {
	// MaxConns caps the pool unless the URL sets pool_max_conns.
	MaxConns int32

	// MaxConnLifetime recycles connections (default: 1h).
	MaxConnLifetime time.Duration
}

// PoolConfig parses databaseURL and applies opts. The timer needs very few
// connections: one snapshot writer plus the history recorder.
func PoolConfig(databaseURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}

	if !strings.Contains(databaseURL, "pool_max_conns") {
		cfg.MaxConns = 4
		if opts.MaxConns > 0 {
			cfg.MaxConns = opts.MaxConns
		}
	}

	cfg.MaxConnLifetime = time.Hour
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	return cfg, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Connection is a pgx pool that refuses work once closed.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewConnection opens the pool and pings the server.
func NewConnection(ctx context.Context, databaseURL string, opts Options) (*Connection, error) {
	cfg, err := PoolConfig(databaseURL, opts)
	if err != nil {
		return nil, err
	}

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

// Close closes the pool. Subsequent calls are no-ops.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// Ping checks that the server answers.
func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

// Exec runs a statement that returns no rows.
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}
	return c.pool.Exec(ctx, sql, args...)
}

// Query runs a statement that returns rows.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.pool.Query(ctx, sql, args...)
}

// QueryRow runs a statement that returns at most one row.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.closed.Load() {
		return closedRow{}
	}
	return c.pool.QueryRow(ctx, sql, args...)
}

type closedRow struct{}

func (closedRow) Scan(...any) error { return ErrConnectionClosed }

// inTx runs fn inside a transaction and commits when fn returns nil.
func (c *Connection) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// POOL STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// PoolStats is a point-in-time view of the pool for /metrics.
type PoolStats struct {
	TotalConns      int32         `json:"total_conns"`
	IdleConns       int32         `json:"idle_conns"`
	AcquiredConns   int32         `json:"acquired_conns"`
	MaxConns        int32         `json:"max_conns"`
	AcquireCount    int64         `json:"acquire_count"`
	AcquireDuration time.Duration `json:"acquire_duration_ns"`
	Closed          bool          `json:"closed,omitempty"`
}

// Stats returns pool statistics.
func (c *Connection) Stats() PoolStats {
	if c.closed.Load() {
		return PoolStats{Closed: true}
	}

	st := c.pool.Stat()
	return PoolStats{
		TotalConns:      st.TotalConns(),
		IdleConns:       st.IdleConns(),
		AcquiredConns:   st.AcquiredConns(),
		MaxConns:        st.MaxConns(),
		AcquireCount:    st.AcquireCount(),
		AcquireDuration: st.AcquireDuration(),
	}
}
