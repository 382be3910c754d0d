// Package store is the local persistence layer: a single-file SQLite
// database holding the authoritative local copy of echoes, their
// collaborators, media, the activity log, friend snapshots, and the
// durable pending-operation log.
//
// Schema evolution is forward-only: versioned migrations recorded in
// PRAGMA user_version, each applied inside one all-or-nothing
// transaction. Cascade deletes are schema-enforced via foreign keys.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides durable storage for the sync engine.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db   *sql.DB
	path string
}

var (
	handlesMu sync.Mutex
	handles   = map[string]*Store{}
)

// OpenOrCreate returns the process-wide store handle for path,
// creating it on first call. Subsequent calls for the same path return
// the same handle; the store is lazily created and never closed during
// the app's lifetime. Safe to call concurrently from multiple
// lifecycle hooks.
func OpenOrCreate(path string) (*Store, error) {
	handlesMu.Lock()
	defer handlesMu.Unlock()

	if s, ok := handles[path]; ok {
		return s, nil
	}
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	handles[path] = s
	return s, nil
}

// Open creates or opens a SQLite database at the given path and
// applies pragmas and all registered migrations. Unlike OpenOrCreate
// it always returns a fresh handle; tests use it to simulate separate
// app launches against the same file.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement (cascade deletes depend on it)
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY on interleaved writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ApplyMigrations(context.Background(), Migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection and forgets the shared handle.
// Production code never calls this; it exists for tests.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	handlesMu.Lock()
	if handles[s.path] == s {
		delete(handles, s.path)
	}
	handlesMu.Unlock()
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

// timestamps are stored as integer unix milliseconds; SQLite has no
// native time type and millisecond precision matches the remote
// document format.

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
