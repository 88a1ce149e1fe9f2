package staging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// PoolConfig configures the PostgreSQL connection pool.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewPool parses the URL, applies pool sizing, connects and pings.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Options selects and configures a storage backend.
type Options struct {
	Backend    string
	Pool       PoolConfig // postgres
	Schema     string     // postgres
	SQLitePath string     // sqlite
	Prefix     string
	Fixture    *Fixture // sqlite and memory: seeded before use
}

// Open creates the configured store. The returned close function
// releases its connections.
func Open(ctx context.Context, opts Options) (Store, func(), error) {
	switch strings.ToLower(opts.Backend) {
	case BackendPostgres, "":
		pool, err := NewPool(ctx, opts.Pool)
		if err != nil {
			return nil, nil, err
		}
		store := NewPostgresStore(pool, opts.Schema, opts.Prefix)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case BackendSQLite:
		store, err := OpenSQLite(opts.SQLitePath, opts.Prefix)
		if err != nil {
			return nil, nil, err
		}
		if opts.Fixture != nil {
			if err := store.Seed(ctx, opts.Fixture); err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, func() { store.Close() }, nil

	case BackendMemory:
		store := NewMemoryStore()
		if opts.Fixture != nil {
			store = NewMemoryStoreFromFixture(opts.Fixture)
		}
		return store, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
