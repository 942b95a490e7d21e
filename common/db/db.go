package db

import (
	"context"
	"fmt"
	"time"

	"github.com/casemirror/dataflow/common/config"
	"github.com/casemirror/dataflow/common/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps pgxpool with common operations
type DB struct {
	*pgxpool.Pool
	name string
	log  *logger.Logger
}

// PoolSettings sizes a connection pool
type PoolSettings struct {
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// New creates the document store connection pool
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	return Open(ctx, "document-store", cfg.DatabaseURL(), PoolSettings{
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		MaxLifetime: cfg.Database.MaxLifetime,
	}, log)
}

// NewSource creates a connection pool for one legacy relational source.
// The pool is owned by whoever calls this and must be closed by them.
func NewSource(ctx context.Context, src config.SourceConfig, log *logger.Logger) (*DB, error) {
	return Open(ctx, src.Name, src.URL, PoolSettings{
		MaxConns:    src.MaxConns,
		MinConns:    src.MinConns,
		MaxIdleTime: 10 * time.Minute,
		MaxLifetime: time.Hour,
	}, log)
}

// Open creates a named connection pool and verifies it with a ping
func Open(ctx context.Context, name, url string, settings PoolSettings, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL for %s: %w", name, err)
	}

	poolConfig.MaxConns = int32(settings.MaxConns)
	poolConfig.MinConns = int32(settings.MinConns)
	if settings.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = settings.MaxLifetime
	}
	if settings.MaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = settings.MaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool for %s: %w", name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}

	log.Info("database connected", "pool", name, "host", poolConfig.ConnConfig.Host, "db", poolConfig.ConnConfig.Database)

	return &DB{
		Pool: pool,
		name: name,
		log:  log,
	}, nil
}

// Name returns the pool name used in logs and errors
func (db *DB) Name() string {
	return db.name
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.log.Info("closing database connection pool", "pool", db.name)
	db.Pool.Close()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}
