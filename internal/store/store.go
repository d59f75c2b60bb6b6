package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added (chain_id, timestamp) index for date-range exports
const currentSchemaVersion = 1

// readerConns bounds the read-only pool.
const readerConns = 4

// Store provides durable, insert-only storage for ledger chains.
// Uses SQLite with WAL mode so verifiers and exporters read while appends commit.
//
// Appends go through a single-connection writer pool. Reads go through a
// separate read-only pool, so an open append transaction never blocks them.
type Store struct {
	db  *sql.DB // writer
	rdb *sql.DB // readers; the writer itself for in-memory databases
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the wall clock used for chain created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode (a committed entry survives power loss)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - BEGIN IMMEDIATE transactions, so two appenders never deadlock on lock upgrade
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	rdb := db
	if !isMemory(path) {
		if rdb, err = openReader(path); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &Store{db: db, rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// openReader opens the read-only pool. The writer must have created the
// database and switched it to WAL first.
func openReader(path string) (*sql.DB, error) {
	rdb, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	rdb.SetMaxOpenConns(readerConns)
	rdb.SetMaxIdleConns(readerConns)
	if err := rdb.Ping(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect read pool: %w", err)
	}
	return rdb, nil
}

// isMemory reports whether path names an in-memory database, which a
// second pool cannot share.
func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Close closes both connection pools.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	var rerr error
	if s.rdb != nil && s.rdb != s.db {
		rerr = s.rdb.Close()
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - the ledger guarantees only hold for writes made through AppendEntry.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks that both pools reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.PingContext(ctx); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the (chain_id, timestamp) index for databases created
// before date-range exports existed.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entries_chain_timestamp
		ON entries(chain_id, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
