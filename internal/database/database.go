// Package database provides the PostgreSQL connection pool and schema migrations
// backing the postgres record store.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/helixir/clinical-trial-extractor/internal/config"
)

// ApplicationName is reported to PostgreSQL in pg_stat_activity.
const ApplicationName = "clinical-trial-extractor"

// HealthCheckTimeout bounds the ping issued by Health.
const HealthCheckTimeout = 5 * time.Second

// HealthStatus is the store health reported by /readyz.
type HealthStatus struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	TotalConns int32  `json:"total_conns"`
	IdleConns  int32  `json:"idle_conns"`
	MaxConns   int32  `json:"max_conns"`
}

// Healthy reports whether the last ping succeeded.
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

// DBTX is an interface that both *pgxpool.Pool and pgx.Tx satisfy.
// This allows repositories to work with both direct pool connections and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// DB is the service's connection pool. Query methods come from the embedded pool.
type DB struct {
	*pgxpool.Pool
	logger zerolog.Logger
}

var _ DBTX = (*DB)(nil)

// New opens the connection pool described by cfg and verifies it with a ping.
func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := newPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := NewFromPool(pool, logger)
	db.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", cfg.MaxConns).
		Msg("database connection pool established")
	return db, nil
}

// newPoolConfig translates cfg into pgxpool settings without connecting.
func newPoolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	poolConfig.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	return poolConfig, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool, logger zerolog.Logger) *DB {
	return &DB{Pool: pool, logger: logger.With().Str("component", "database").Logger()}
}

// Close closes the pool. It is safe to call on a DB without a pool.
func (db *DB) Close() {
	if db.Pool == nil {
		return
	}
	db.Pool.Close()
	db.logger.Info().Msg("database connection pool closed")
}

// Health pings the database with HealthCheckTimeout and reports pool statistics.
func (db *DB) Health(ctx context.Context) HealthStatus {
	stat := db.Stat()
	health := HealthStatus{
		Status:     "healthy",
		TotalConns: stat.TotalConns(),
		IdleConns:  stat.IdleConns(),
		MaxConns:   stat.MaxConns(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := db.Ping(pingCtx)
	health.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}

// WithTransaction runs fn in a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic; fn's error is returned as is.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, db.Pool, fn)
	if err != nil && ctx.Err() != nil {
		db.logger.Warn().Err(err).Msg("transaction interrupted by context")
	}
	return err
}

// LockKeyTx takes a transaction-scoped advisory lock on the hash of key.
// The lock is released when the transaction ends.
func LockKeyTx(ctx context.Context, tx DBTX, key string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
