package seenset

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool for the shared seen-set table.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is a Set backed by a shared Postgres table. This is the side table
// the distributed queue uses so concurrent producers on different machines
// never both enqueue the same new URL.
type Postgres struct {
	pool  pgxPool
	table string
}

// NewPostgres connects a pool and ensures the seen-set table exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("seenset.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "seen_items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &Postgres{pool: pool, table: table}
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (item TEXT PRIMARY KEY, added_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
		table,
	)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create seen-set table: %w", err)
	}
	return s, nil
}

// NewPostgresWithPool constructs a Set from an existing pool (primarily for testing).
func NewPostgresWithPool(pool pgxPool, table string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "seen_items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// Add implements Set. ON CONFLICT DO NOTHING makes the check-and-insert a
// single atomic statement across all producers.
func (s *Postgres) Add(ctx context.Context, item string) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (item) VALUES ($1) ON CONFLICT (item) DO NOTHING`, s.table,
	), item)
	if err != nil {
		return false, fmt.Errorf("insert seen item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Contains implements Set.
func (s *Postgres) Contains(ctx context.Context, item string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE item = $1)`, s.table,
	), item).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query seen item: %w", err)
	}
	return exists, nil
}

// Len implements Set.
func (s *Postgres) Len(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s`, s.table,
	)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count seen items: %w", err)
	}
	return n, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	s.pool.Close()
}
