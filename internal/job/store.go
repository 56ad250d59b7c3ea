package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job: not found")

// Store persists jobs. All state changes go through the guarded transition
// methods; there is no free-form update.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// Claim atomically transitions queued→running. It returns false when the
	// job was already claimed (or is terminal); at most one caller ever gets
	// true for a given job.
	Claim(ctx context.Context, id string) (bool, error)

	// MarkDone transitions running→done and records the output reference.
	MarkDone(ctx context.Context, id, outputRef string) error

	// MarkError transitions running→error and records the failure detail.
	MarkError(ctx context.Context, id string, detail ErrorDetail) error

	// FindDoneByFingerprint returns the most recent done job for an input
	// fingerprint, or ErrNotFound.
	FindDoneByFingerprint(ctx context.Context, fingerprint string) (*Job, error)

	// ListByState returns jobs in the given state, oldest first.
	ListByState(ctx context.Context, state State) ([]*Job, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the job database.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The conditional-claim guarantee relies on serialized writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		book_id     TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		year        INTEGER NOT NULL,
		quarter     INTEGER NOT NULL,
		dataset_ref TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		state       TEXT NOT NULL,
		error_kind  TEXT,
		error_msg   TEXT,
		output_ref  TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint ON jobs(fingerprint, state);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new queued job.
func (s *SQLiteStore) Create(ctx context.Context, j *Job) error {
	if j.State != StateQueued {
		return fmt.Errorf("create job %s: initial state must be queued, got %s", j.ID, j.State)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, book_id, customer_id, year, quarter, dataset_ref, fingerprint, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.BookID, j.CustomerID, j.Period.Year, j.Period.Quarter,
		j.DatasetRef, j.Fingerprint, j.State, j.CreatedAt.Unix(), j.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx,
		`SELECT id, book_id, customer_id, year, quarter, dataset_ref, fingerprint, state,
		        error_kind, error_msg, output_ref, created_at, updated_at
		 FROM jobs WHERE id = ?`, id))
}

// Claim atomically transitions queued→running via a conditional update;
// concurrent claims on one job succeed exactly once.
func (s *SQLiteStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?",
		StateRunning, time.Now().Unix(), id, StateQueued)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return n == 1, nil
}

// MarkDone transitions running→done. The output reference must already be
// durably persisted by the caller; done is never recorded without one.
func (s *SQLiteStore) MarkDone(ctx context.Context, id, outputRef string) error {
	if outputRef == "" {
		return fmt.Errorf("mark done %s: output reference is required", id)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, output_ref = ?, updated_at = ? WHERE id = ? AND state = ?",
		StateDone, outputRef, time.Now().Unix(), id, StateRunning)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return s.requireTransition(res, id, StateDone)
}

// MarkError transitions running→error with the failure detail.
func (s *SQLiteStore) MarkError(ctx context.Context, id string, detail ErrorDetail) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, error_kind = ?, error_msg = ?, updated_at = ? WHERE id = ? AND state = ?",
		StateError, string(detail.Kind), detail.Message, time.Now().Unix(), id, StateRunning)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return s.requireTransition(res, id, StateError)
}

func (s *SQLiteStore) requireTransition(res sql.Result, id string, to State) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("job %s: illegal transition to %s (not running)", id, to)
	}
	return nil
}

// FindDoneByFingerprint returns the most recent done job for a fingerprint.
func (s *SQLiteStore) FindDoneByFingerprint(ctx context.Context, fingerprint string) (*Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx,
		`SELECT id, book_id, customer_id, year, quarter, dataset_ref, fingerprint, state,
		        error_kind, error_msg, output_ref, created_at, updated_at
		 FROM jobs WHERE fingerprint = ? AND state = ? ORDER BY created_at DESC LIMIT 1`,
		fingerprint, StateDone))
}

// ListByState returns jobs in the given state, oldest first.
func (s *SQLiteStore) ListByState(ctx context.Context, state State) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, book_id, customer_id, year, quarter, dataset_ref, fingerprint, state,
		        error_kind, error_msg, output_ref, created_at, updated_at
		 FROM jobs WHERE state = ? ORDER BY created_at`, state)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanJob(row rowScanner) (*Job, error) {
	var (
		j                  Job
		errKind, errMsg    sql.NullString
		createdAt, updated int64
	)
	err := row.Scan(&j.ID, &j.BookID, &j.CustomerID, &j.Period.Year, &j.Period.Quarter,
		&j.DatasetRef, &j.Fingerprint, &j.State, &errKind, &errMsg, &j.OutputRef,
		&createdAt, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if errKind.Valid && errKind.String != "" {
		j.Error = &ErrorDetail{Kind: berrors.Kind(errKind.String), Message: errMsg.String}
	}
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.UpdatedAt = time.Unix(updated, 0).UTC()
	return &j, nil
}
