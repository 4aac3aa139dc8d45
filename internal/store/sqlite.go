package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/strandlabs/strand/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    status       TEXT NOT NULL,
    target       TEXT NOT NULL,
    request      TEXT NOT NULL,
    result       TEXT,
    log_path     TEXT,
    duration_ms  INTEGER,
    submitted_at DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. The default DSN is ":memory:",
// which scopes all job state to the process lifetime.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps an in-memory database coherent across the
	// pool and serializes read-modify-write transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record. A duplicate id yields ErrAlreadyExists
// and leaves the existing record untouched.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM jobs WHERE id = ?)", j.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check job id: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, j.ID)
	}

	request, err := json.Marshal(j.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	result, durationMS, err := marshalResult(j.Result)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (
			id, kind, status, target, request, result, log_path,
			duration_ms, submitted_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.Status, j.Target, string(request), result, j.LogPath,
		durationMS, j.SubmittedAt, j.StartedAt, j.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, target, request, result, log_path,
			submitted_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id,
	)
	return scanJob(row)
}

// ListJobs returns a paginated list of jobs ordered by submission time,
// newest first, along with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, kind, status, target, request, result, log_path,
			submitted_at, started_at, finished_at
		FROM jobs ORDER BY submitted_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateJob applies mutate to the current record inside one transaction and
// persists the outcome. Status changes are checked against the lifecycle
// state machine; an invalid transition aborts the update.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, kind, status, target, request, result, log_path,
			submitted_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id,
	)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	prevStatus := j.Status
	if err := mutate(j); err != nil {
		return nil, err
	}
	if j.Status != prevStatus && !model.ValidTransition(prevStatus, j.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prevStatus, j.Status)
	}

	result, durationMS, err := marshalResult(j.Result)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, log_path = ?, duration_ms = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?`,
		j.Status, result, j.LogPath, durationMS, j.StartedAt, j.FinishedAt, id,
	); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return j, nil
}

// Stats aggregates job counts by status and kind, and the average duration of
// finished jobs.
func (s *SQLiteStore) Stats(ctx context.Context) (*JobStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &JobStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	kindRows, err := tx.QueryContext(ctx, "SELECT kind, COUNT(*) FROM jobs GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var count int
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = count
	}
	if err := kindRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM jobs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	j := &model.Job{}
	var request string
	var result sql.NullString
	err := row.Scan(
		&j.ID, &j.Kind, &j.Status, &j.Target, &request, &result, &j.LogPath,
		&j.SubmittedAt, &j.StartedAt, &j.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal([]byte(request), &j.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if result.Valid {
		j.Result = &model.Result{}
		if err := json.Unmarshal([]byte(result.String), j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return j, nil
}

func marshalResult(r *model.Result) (result sql.NullString, durationMS sql.NullInt64, err error) {
	if r == nil {
		return sql.NullString{}, sql.NullInt64{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, sql.NullInt64{}, fmt.Errorf("marshal result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true},
		sql.NullInt64{Int64: int64(r.DurationMS), Valid: true},
		nil
}
