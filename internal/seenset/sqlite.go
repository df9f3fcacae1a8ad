package seenset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// SQLite database driver (CGO-free).
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS seen_items (
	item TEXT PRIMARY KEY,
	added_at TEXT NOT NULL DEFAULT (datetime('now'))
);`

// SQLite is a durable Set backed by a local SQLite file. It survives process
// restarts, which makes browse/harvest sessions resumable on one machine
// without provisioning shared infrastructure.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open seen-set database: %w", err)
	}

	// A single connection avoids writer lock conflicts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create seen-set schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Add implements Set using INSERT OR IGNORE, so the check-and-insert is a
// single atomic statement.
func (s *SQLite) Add(ctx context.Context, item string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen_items (item) VALUES (?)", item)
	if err != nil {
		return false, fmt.Errorf("insert seen item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Contains implements Set.
func (s *SQLite) Contains(ctx context.Context, item string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM seen_items WHERE item = ?", item).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen item: %w", err)
	}
	return true, nil
}

// Len implements Set.
func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM seen_items").Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen items: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
