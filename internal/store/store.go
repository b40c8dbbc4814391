package store

import (
	"context"
	"fmt"
	"time"
)

// Backend is the storage contract shared by the submission API, the
// dispatch loop and the remote poller. Implementations must be safe
// for concurrent use; conditional updates (MarkProcessing, Cancel)
// must be atomic so that claiming is race-free across goroutines and
// processes.
type Backend interface {
	// Submit inserts a new job with status pending and retry_count 0.
	Submit(ctx context.Context, job *Job) error

	// Get retrieves a job by id, returning ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns jobs newest-first, optionally filtered by status.
	List(ctx context.Context, status JobStatus, limit int) ([]*Job, error)

	// NextPending returns up to limit pending jobs, oldest first.
	NextPending(ctx context.Context, limit int) ([]*Job, error)

	// UpdateStatus sets status, error message and updated_at. It sets
	// completed_at exactly when status is completed. The caller is
	// responsible for honouring the state machine; the store only
	// requires that the job exists.
	UpdateStatus(ctx context.Context, id string, status JobStatus, errorMsg string) error

	// MarkProcessing atomically transitions pending -> processing.
	// It returns false without error when the job is no longer
	// pending, which is how concurrent dispatchers lose a claim race.
	MarkProcessing(ctx context.Context, id string) (bool, error)

	// IncrementRetry atomically increments retry_count.
	IncrementRetry(ctx context.Context, id string) error

	// Cancel atomically cancels a job that is pending or failed. It
	// returns false when the job exists but is not cancellable, and
	// ErrNotFound when it does not exist.
	Cancel(ctx context.Context, id string) (bool, error)

	// DeleteOlderThan removes jobs in the given statuses created
	// before cutoff, returning the number deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []JobStatus) (int64, error)

	// Stats returns per-status job counts.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// Open creates a backend for the given driver name.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteBackend(path)
	case "badger":
		return NewBadgerBackend(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
