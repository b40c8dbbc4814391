package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores jobs in a single SQLite database file. A lone
// writer connection keeps the conditional updates serialized, which is
// what makes MarkProcessing and Cancel atomic claim points.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and creates if necessary) the database at
// path. Use ":memory:" for an ephemeral store.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(createSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Submit(ctx context.Context, job *Job) error {
	opts, err := encodeOptions(job.Options)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = JobStatusPending
	job.RetryCount = 0

	_, err = b.db.ExecContext(ctx, insertJob,
		job.ID, job.PrinterName, job.DocumentName, job.Payload, job.Copies, opts,
		job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*Job, error) {
	row := b.db.QueryRowContext(ctx, getJobByID, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (b *SQLiteBackend) List(ctx context.Context, status JobStatus, limit int) ([]*Job, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = b.db.QueryContext(ctx, listJobsByStatus, status, limit)
	} else {
		rows, err = b.db.QueryContext(ctx, listJobs, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (b *SQLiteBackend) NextPending(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := b.db.QueryContext(ctx, nextPendingJobs, JobStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (b *SQLiteBackend) UpdateStatus(ctx context.Context, id string, status JobStatus, errorMsg string) error {
	now := time.Now().UTC()

	var result sql.Result
	var err error
	if status == JobStatusCompleted {
		result, err = b.db.ExecContext(ctx, updateJobCompleted, status, errorMsg, now, now, id)
	} else {
		result, err = b.db.ExecContext(ctx, updateJobStatus, status, errorMsg, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLiteBackend) MarkProcessing(ctx context.Context, id string) (bool, error) {
	result, err := b.db.ExecContext(ctx, markJobProcessing,
		JobStatusProcessing, time.Now().UTC(), id, JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark job processing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (b *SQLiteBackend) IncrementRetry(ctx context.Context, id string) error {
	result, err := b.db.ExecContext(ctx, incrementJobRetry, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLiteBackend) Cancel(ctx context.Context, id string) (bool, error) {
	result, err := b.db.ExecContext(ctx, cancelJob,
		JobStatusCancelled, time.Now().UTC(), id, JobStatusPending, JobStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var one int
	err = b.db.QueryRowContext(ctx, jobExists, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check job existence: %w", err)
	}
	return false, nil
}

func (b *SQLiteBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []JobStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?, ", len(statuses)-1) + "?"
	query := "DELETE FROM print_jobs WHERE created_at < ? AND status IN (" + placeholders + ")"

	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, cutoff)
	for _, s := range statuses {
		args = append(args, s)
	}

	result, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return deleted, nil
}

func (b *SQLiteBackend) Stats(ctx context.Context) (*Stats, error) {
	rows, err := b.db.QueryContext(ctx, countJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.add(status, count)
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var opts string
	var completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.PrinterName, &job.DocumentName, &job.Payload, &job.Copies, &opts,
		&job.Status, &job.ErrorMessage, &job.RetryCount,
		&job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	job.Options, err = decodeOptions(opts)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
