package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool for the record table.
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

// PostgresStore appends records to a table as JSONB payloads. Keeping the
// payload schemaless means record extractors can evolve their fields without
// a migration; downstream consumers query into the JSONB.
type PostgresStore struct {
	pool  pgxPool
	table string
}

// NewPostgres connects a pool and ensures the record table exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("extract.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "extracted_records"
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

	s := &PostgresStore{pool: pool, table: table}
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id BIGSERIAL PRIMARY KEY, payload JSONB NOT NULL, created_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
		table,
	)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create record table: %w", err)
	}
	return s, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresWithPool(pool pgxPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "extracted_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// Write implements pipeline.ExtractStore. Records insert one at a time so a
// failure reports exactly how many landed.
func (s *PostgresStore) Write(ctx context.Context, records ...pipeline.Record) (int, error) {
	written := 0
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return written, fmt.Errorf("%w: marshal record: %v", pipeline.ErrStoreWrite, err)
		}
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (payload) VALUES ($1)`, s.table,
		), payload); err != nil {
			return written, fmt.Errorf("%w: insert record: %v", pipeline.ErrStoreWrite, err)
		}
		written++
	}
	return written, nil
}

// Len reports the total number of stored records.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s`, s.table,
	)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
