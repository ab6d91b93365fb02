// Package store provides SQLite persistence for the optimization loop:
// the append-only quality metric series, the pattern vector store, the
// cycle audit log, and versioned configuration snapshots used for rollback.
//
// Vector search uses the sqlite-vec extension when the binary is built with
// the sqlite_vec tag; otherwise pattern search degrades to a pure-Go cosine
// scan over the same rows.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vcycle/internal/logging"
)

// Store wraps the SQLite database. All methods are safe for concurrent use.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
}

// Options tunes store construction.
type Options struct {
	// RequireVec fails construction when the sqlite-vec extension is not
	// compiled in, instead of degrading to the Go cosine scan.
	RequireVec bool
}

// New initializes the SQLite database at the given path.
func New(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("Initializing store at %s (driver=%s)", path, driverName)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps the orchestrator's writes from blocking API reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db, dbPath: path}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	s.vectorExt = s.probeVecExtension()
	if opts.RequireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension required but not available (build with -tags sqlite_vec)")
	}
	if s.vectorExt {
		if err := s.initVecIndex(); err != nil {
			logging.Store("vec index init failed, falling back to cosine scan: %v", err)
			s.vectorExt = false
		}
	}

	logging.Store("Store ready (vector_ext=%v)", s.vectorExt)
	return s, nil
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS quality_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id TEXT NOT NULL,
			spectrum_id TEXT NOT NULL,
			score REAL NOT NULL,
			sample_count INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_pair_time
			ON quality_metrics(model_id, spectrum_id, recorded_at)`,

		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			signature TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			embedding TEXT,
			source_ids TEXT NOT NULL DEFAULT '[]',
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			context_sig TEXT NOT NULL,
			effectiveness REAL NOT NULL,
			pattern_refs TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			phase TEXT NOT NULL,
			trigger_reason TEXT NOT NULL DEFAULT '',
			findings TEXT NOT NULL DEFAULT '[]',
			strategy_id TEXT NOT NULL DEFAULT '',
			experiment_id TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL DEFAULT '',
			abort_reason TEXT NOT NULL DEFAULT '',
			snapshot_ver INTEGER NOT NULL DEFAULT 0
		)`,

		// Append-only governance audit log. Rows are never updated or
		// deleted; rollback review reads this, not the cycles table.
		`CREATE TABLE IF NOT EXISTS cycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_cycle ON cycle_events(cycle_id, id)`,

		`CREATE TABLE IF NOT EXISTS config_snapshots (
			version INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL,
			good INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

// probeVecExtension checks whether the sqlite-vec extension is loaded.
func (s *Store) probeVecExtension() bool {
	if !vecCompiledIn {
		return false
	}
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err != nil {
		return false
	}
	logging.Store("sqlite-vec %s detected", version)
	return true
}

// VectorSearchNative reports whether pattern search runs on sqlite-vec
// rather than the Go cosine scan.
func (s *Store) VectorSearchNative() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorExt
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	logging.Store("Closing store at %s", s.dbPath)
	return s.db.Close()
}

// Timestamps are stored as Unix nanoseconds so the pure-Go and cgo drivers
// round-trip them identically.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
