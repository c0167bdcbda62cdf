// Package store provides a SQLite-backed ledger of ingestion runs. Each
// `incidentkb ingest` invocation records when it started, how it finished
// and how many documents, chunks and points it handled, so operators can
// list recent runs with `incidentkb runs`.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// OutcomeRunning marks a run that has begun but not yet finished. A run left
// in this state crashed or was killed.
const OutcomeRunning = "running"

// ErrRunNotFound is returned by FinishRun for an unknown run id.
var ErrRunNotFound = errors.New("store: run not found")

// Run is one recorded ingestion run.
type Run struct {
	// ID is a random UUID assigned by BeginRun.
	ID string
	// StartedAt is when BeginRun was called.
	StartedAt time.Time
	// FinishedAt is zero while the run is still in progress.
	FinishedAt time.Time
	// Outcome is OutcomeRunning, or the pipeline outcome passed to FinishRun.
	Outcome string
	// Collection is the target vector-store collection.
	Collection string
	// Documents is the number of documents discovered.
	Documents int
	// Skipped is the number of documents that could not be decoded.
	Skipped int
	// Chunks is the number of chunks built.
	Chunks int
	// Points is the number of points written.
	Points int
	// Error is the failure message, empty on success.
	Error string
}

// Summary is the final state written by FinishRun.
type Summary struct {
	Outcome   string
	Documents int
	Skipped   int
	Chunks    int
	Points    int
	Error     string
}

// Ledger records ingestion runs. Implementations must be safe for
// concurrent use.
type Ledger interface {
	// BeginRun inserts a running row and returns its id.
	BeginRun(ctx context.Context, collection string) (string, error)
	// FinishRun stamps the run's end time and summary.
	FinishRun(ctx context.Context, id string, sum Summary) error
	// RecentRuns returns up to n runs, newest first.
	RecentRuns(ctx context.Context, n int) ([]Run, error)
	// Close releases any resources held by the ledger.
	Close() error
}

// SQLiteStore is a Ledger backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// now is overridable in tests.
	now func() time.Time
}

// DefaultDBPath returns the default path for the run ledger.
// It resolves to ~/.incidentkb/runs.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".incidentkb")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "runs.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection also keeps ":memory:" databases alive and shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT    PRIMARY KEY,
    started_at   INTEGER NOT NULL,          -- Unix milliseconds
    finished_at  INTEGER,                   -- NULL while running
    outcome      TEXT    NOT NULL,
    collection   TEXT    NOT NULL,
    documents    INTEGER NOT NULL DEFAULT 0,
    skipped      INTEGER NOT NULL DEFAULT 0,
    chunks       INTEGER NOT NULL DEFAULT 0,
    points       INTEGER NOT NULL DEFAULT 0,
    error        TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs (started_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// BeginRun inserts a new run in the running state.
func (s *SQLiteStore) BeginRun(ctx context.Context, collection string) (string, error) {
	id := uuid.NewString()
	const q = `INSERT INTO runs (id, started_at, outcome, collection) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, s.now().UnixMilli(), OutcomeRunning, collection); err != nil {
		return "", fmt.Errorf("store: begin run: %w", err)
	}
	return id, nil
}

// FinishRun records the run's summary and end time.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, sum Summary) error {
	const q = `
UPDATE runs
SET    finished_at = ?, outcome = ?, documents = ?, skipped = ?, chunks = ?, points = ?, error = ?
WHERE  id = ?`
	res, err := s.db.ExecContext(ctx, q,
		s.now().UnixMilli(), sum.Outcome, sum.Documents, sum.Skipped, sum.Chunks, sum.Points, sum.Error, id)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// RecentRuns returns up to n runs ordered newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, n int) ([]Run, error) {
	const q = `
SELECT id, started_at, finished_at, outcome, collection, documents, skipped, chunks, points, error
FROM   runs
ORDER  BY started_at DESC, rowid DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Outcome, &r.Collection,
			&r.Documents, &r.Skipped, &r.Chunks, &r.Points, &r.Error); err != nil {
			return nil, fmt.Errorf("store: recent runs scan: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent runs rows: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
