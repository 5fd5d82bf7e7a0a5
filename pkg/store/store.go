// Package store reads the internal admin hierarchy and persists location
// mappings. SQLite (modernc.org/sqlite) and Postgres (lib/pq) are supported
// through database/sql; every query is parameterized.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Drivers.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// DefaultTimeout bounds each store call when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	Timeout      time.Duration
	MaxOpenConns int
}

// Store wraps the database holding admin_units and the engine's own tables.
type Store struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
}

// Open connects, pings and ensures the engine's tables exist. The host-owned
// admin_units table is never created here.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = SQLite
	}
	dsn := opts.DSN
	switch driver {
	case SQLite:
		if dsn == "" {
			return nil, fmt.Errorf("open store: empty sqlite path")
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
		}
	case Postgres:
	default:
		return nil, fmt.Errorf("open store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}

	s := &Store{db: db, driver: driver, timeout: opts.Timeout}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}

	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close ferme la connexion.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string { return s.driver }

// Ping checks the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS location_mappings (
		external_id           BIGINT NOT NULL,
		location_type         TEXT NOT NULL,
		internal_id           TEXT,
		external_code         TEXT NOT NULL DEFAULT '',
		internal_code         TEXT NOT NULL DEFAULT '',
		external_name         TEXT NOT NULL,
		internal_name         TEXT NOT NULL DEFAULT '',
		country_code          TEXT NOT NULL DEFAULT '',
		admin_path            TEXT NOT NULL DEFAULT '',
		parent_external_id    BIGINT,
		population            BIGINT NOT NULL DEFAULT 0,
		elevation             INTEGER,
		feature_code          TEXT NOT NULL DEFAULT '',
		latitude              DOUBLE PRECISION,
		longitude             DOUBLE PRECISION,
		is_matched            BOOLEAN NOT NULL DEFAULT FALSE,
		match_method          TEXT NOT NULL DEFAULT '',
		score                 DOUBLE PRECISION NOT NULL DEFAULT 0,
		distance_km           DOUBLE PRECISION,
		unmatched_reason      TEXT NOT NULL DEFAULT '',
		suggested_internal_id TEXT,
		suggested_name        TEXT NOT NULL DEFAULT '',
		created_at            BIGINT NOT NULL,
		run_id                TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (external_id, location_type)
	)`,
	`CREATE INDEX IF NOT EXISTS location_mappings_review
		ON location_mappings (location_type, is_matched)`,
	`CREATE INDEX IF NOT EXISTS location_mappings_run
		ON location_mappings (location_type, run_id)`,
	`CREATE INDEX IF NOT EXISTS location_mappings_internal
		ON location_mappings (internal_id)`,
	`CREATE TABLE IF NOT EXISTS reconcile_checkpoints (
		input_fingerprint TEXT NOT NULL,
		level             TEXT NOT NULL,
		run_id            TEXT NOT NULL,
		completed_at      BIGINT NOT NULL,
		PRIMARY KEY (input_fingerprint, level)
	)`,
	`CREATE TABLE IF NOT EXISTS reconcile_runs (
		run_id      TEXT PRIMARY KEY,
		input       TEXT NOT NULL,
		started_at  BIGINT NOT NULL,
		finished_at BIGINT,
		status      TEXT NOT NULL,
		report      TEXT NOT NULL DEFAULT ''
	)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.driver != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
