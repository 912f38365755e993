// Package postgres provides a Postgres-backed fetch ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/listinglab/pagepull/internal/fetch"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool backing the ledger.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store is a fetch.StateStore persisting one row per page task. Marking
// a task fetched is a single UPDATE, so the database serializes
// concurrent writers for us.
type Store struct {
	pool  pool
	table string
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "page_tasks"
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "page_tasks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Initialize recreates the ledger table contents from the given tasks.
func (s *Store) Initialize(ctx context.Context, tasks []fetch.PageTask) error {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		url TEXT PRIMARY KEY,
		page_index INTEGER NOT NULL,
		fetched BOOLEAN NOT NULL DEFAULT FALSE,
		fetched_at TIMESTAMPTZ
	)`, s.table)
	if _, err := s.pool.Exec(ctx, create); err != nil {
		return fmt.Errorf("%w: create ledger table: %v", fetch.ErrStateCorrupt, err)
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", s.table)); err != nil {
		return fmt.Errorf("%w: reset ledger table: %v", fetch.ErrStateCorrupt, err)
	}
	insert := fmt.Sprintf(
		"INSERT INTO %s (url, page_index, fetched) VALUES ($1, $2, FALSE)", s.table)
	for _, t := range tasks {
		if _, err := s.pool.Exec(ctx, insert, t.URL, t.PageIndex); err != nil {
			return fmt.Errorf("insert ledger row %s: %w", t.URL, err)
		}
	}
	return nil
}

// ListUnfetched returns unfetched tasks in original pagination order.
func (s *Store) ListUnfetched(ctx context.Context) ([]fetch.PageTask, error) {
	query := fmt.Sprintf(
		"SELECT url, page_index, fetched, fetched_at FROM %s WHERE fetched = FALSE ORDER BY page_index",
		s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query ledger: %v", fetch.ErrStateCorrupt, err)
	}
	defer rows.Close()

	var tasks []fetch.PageTask
	for rows.Next() {
		var t fetch.PageTask
		if err := rows.Scan(&t.URL, &t.PageIndex, &t.Fetched, &t.FetchedAt); err != nil {
			return nil, fmt.Errorf("%w: scan ledger row: %v", fetch.ErrStateCorrupt, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate ledger rows: %v", fetch.ErrStateCorrupt, err)
	}
	return tasks, nil
}

// MarkFetched marks the URL fetched. Re-marking is a no-op; the WHERE
// clause keeps the first timestamp.
func (s *Store) MarkFetched(ctx context.Context, url string) error {
	update := fmt.Sprintf(
		"UPDATE %s SET fetched = TRUE, fetched_at = NOW() WHERE url = $1 AND fetched = FALSE",
		s.table)
	tag, err := s.pool.Exec(ctx, update, url)
	if err != nil {
		return fmt.Errorf("mark fetched %s: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		exists := fmt.Sprintf("SELECT url FROM %s WHERE url = $1", s.table)
		rows, err := s.pool.Query(ctx, exists, url)
		if err != nil {
			return fmt.Errorf("check ledger row %s: %w", url, err)
		}
		defer rows.Close()
		if !rows.Next() {
			return fmt.Errorf("%w: %s", fetch.ErrTaskNotFound, url)
		}
	}
	return nil
}
