package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend stores jobs in an embedded BadgerDB key-value store.
// Besides the job record itself it maintains two index families so the
// dispatch loop and the retention sweeper never scan the full keyspace:
//
//	job:<id>                          -> JSON job record
//	idx:status:<status>:<ts>:<id>     -> id   (ts = created_at, big endian)
//	idx:created:<ts>:<id>             -> id
//
// The timestamp component is the immutable created_at, so a status
// transition moves exactly one index entry.
type BadgerBackend struct {
	db *badger.DB
}

// NewBadgerBackend opens (and creates if necessary) the database
// directory at path.
func NewBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's logger interface does not fit slog

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

const (
	keyPrefixJob     = "job:"
	keyPrefixStatus  = "idx:status:"
	keyPrefixCreated = "idx:created:"
)

func jobKey(id string) []byte {
	return []byte(keyPrefixJob + id)
}

func timestampBytes(t time.Time) []byte {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(t.UnixNano()))
	return ts
}

func statusPrefix(status JobStatus) []byte {
	return []byte(keyPrefixStatus + string(status) + ":")
}

func statusIndexKey(status JobStatus, createdAt time.Time, id string) []byte {
	key := statusPrefix(status)
	key = append(key, timestampBytes(createdAt)...)
	key = append(key, ':')
	key = append(key, id...)
	return key
}

func createdIndexKey(createdAt time.Time, id string) []byte {
	key := []byte(keyPrefixCreated)
	key = append(key, timestampBytes(createdAt)...)
	key = append(key, ':')
	key = append(key, id...)
	return key
}

// retryUpdate retries an update on badger transaction conflicts, which
// are expected when several loops touch the same job concurrently.
func (b *BadgerBackend) retryUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxRetries = 50
	const retryDelay = time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(retryDelay)
		}

		err := b.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("transaction conflict after %d retries: %w", 50, lastErr)
}

func getJobTxn(txn *badger.Txn, id string) (*Job, error) {
	item, err := txn.Get(jobKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}

	job := &Job{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, job)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, nil
}

func setJobTxn(txn *badger.Txn, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return txn.Set(jobKey(job.ID), data)
}

// moveStatusIndex re-homes the job's status index entry.
func moveStatusIndex(txn *badger.Txn, job *Job, from, to JobStatus) error {
	if err := txn.Delete(statusIndexKey(from, job.CreatedAt, job.ID)); err != nil {
		return err
	}
	return txn.Set(statusIndexKey(to, job.CreatedAt, job.ID), []byte(job.ID))
}

func (b *BadgerBackend) Submit(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = JobStatusPending
	job.RetryCount = 0
	job.CompletedAt = nil

	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(job.ID)); err == nil {
			return fmt.Errorf("job already exists: %s", job.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check existing job: %w", err)
		}

		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		if err := txn.Set(statusIndexKey(JobStatusPending, job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
			return err
		}
		return txn.Set(createdIndexKey(job.CreatedAt, job.ID), []byte(job.ID))
	})
}

func (b *BadgerBackend) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = getJobTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// collectIDs walks an index prefix and returns the referenced job ids
// in iteration order.
func collectIDs(txn *badger.Txn, prefix []byte, reverse bool, limit int) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if reverse {
		// Seek past the end of the prefix range for reverse iteration.
		seek = append(append([]byte{}, prefix...), 0xff)
	}

	var ids []string
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && len(ids) >= limit {
			break
		}
		key := it.Item().Key()
		// id trails the 8-byte timestamp and separator
		idx := bytes.LastIndexByte(key, ':')
		if idx < 0 || idx+1 >= len(key) {
			continue
		}
		ids = append(ids, string(key[idx+1:]))
	}
	return ids, nil
}

func (b *BadgerBackend) jobsByIndex(prefix []byte, reverse bool, limit int) ([]*Job, error) {
	var jobs []*Job
	err := b.db.View(func(txn *badger.Txn) error {
		ids, err := collectIDs(txn, prefix, reverse, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			job, err := getJobTxn(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue // index entry can outlive the record briefly
			}
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (b *BadgerBackend) List(ctx context.Context, status JobStatus, limit int) ([]*Job, error) {
	if status != "" {
		return b.jobsByIndex(statusPrefix(status), true, limit)
	}
	return b.jobsByIndex([]byte(keyPrefixCreated), true, limit)
}

func (b *BadgerBackend) NextPending(ctx context.Context, limit int) ([]*Job, error) {
	return b.jobsByIndex(statusPrefix(JobStatusPending), false, limit)
}

func (b *BadgerBackend) UpdateStatus(ctx context.Context, id string, status JobStatus, errorMsg string) error {
	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		job, err := getJobTxn(txn, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		prev := job.Status
		job.Status = status
		job.ErrorMessage = errorMsg
		job.UpdatedAt = now
		if status == JobStatusCompleted && job.CompletedAt == nil {
			job.CompletedAt = &now
		}

		if prev != status {
			if err := moveStatusIndex(txn, job, prev, status); err != nil {
				return err
			}
		}
		return setJobTxn(txn, job)
	})
}

func (b *BadgerBackend) MarkProcessing(ctx context.Context, id string) (bool, error) {
	claimed := false
	err := b.retryUpdate(ctx, func(txn *badger.Txn) error {
		claimed = false
		job, err := getJobTxn(txn, id)
		if err != nil {
			return err
		}
		if job.Status != JobStatusPending {
			return nil
		}

		job.Status = JobStatusProcessing
		job.UpdatedAt = time.Now().UTC()
		if err := moveStatusIndex(txn, job, JobStatusPending, JobStatusProcessing); err != nil {
			return err
		}
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (b *BadgerBackend) IncrementRetry(ctx context.Context, id string) error {
	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		job, err := getJobTxn(txn, id)
		if err != nil {
			return err
		}
		job.RetryCount++
		job.UpdatedAt = time.Now().UTC()
		return setJobTxn(txn, job)
	})
}

func (b *BadgerBackend) Cancel(ctx context.Context, id string) (bool, error) {
	cancelled := false
	err := b.retryUpdate(ctx, func(txn *badger.Txn) error {
		cancelled = false
		job, err := getJobTxn(txn, id)
		if err != nil {
			return err
		}
		if job.Status != JobStatusPending && job.Status != JobStatusFailed {
			return nil
		}

		prev := job.Status
		job.Status = JobStatusCancelled
		job.UpdatedAt = time.Now().UTC()
		if err := moveStatusIndex(txn, job, prev, JobStatusCancelled); err != nil {
			return err
		}
		if err := setJobTxn(txn, job); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// deleteBatchSize bounds how many jobs a single deletion transaction
// touches, keeping the sweep under badger's transaction size limit.
const deleteBatchSize = 256

func (b *BadgerBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []JobStatus) (int64, error) {
	var deleted int64
	for _, status := range statuses {
		prefix := statusPrefix(status)
		for {
			var removed int64
			err := b.retryUpdate(ctx, func(txn *badger.Txn) error {
				removed = 0
				ids, err := collectIDs(txn, prefix, false, deleteBatchSize)
				if err != nil {
					return err
				}
				for _, id := range ids {
					job, err := getJobTxn(txn, id)
					if errors.Is(err, ErrNotFound) {
						continue
					}
					if err != nil {
						return err
					}
					if !job.CreatedAt.Before(cutoff) {
						// index is ordered by created_at, nothing newer qualifies
						break
					}
					if err := txn.Delete(jobKey(id)); err != nil {
						return err
					}
					if err := txn.Delete(statusIndexKey(status, job.CreatedAt, id)); err != nil {
						return err
					}
					if err := txn.Delete(createdIndexKey(job.CreatedAt, id)); err != nil {
						return err
					}
					removed++
				}
				return nil
			})
			if err != nil {
				return deleted, err
			}
			deleted += removed
			if removed == 0 {
				break
			}
		}
	}
	return deleted, nil
}

func (b *BadgerBackend) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := b.db.View(func(txn *badger.Txn) error {
		for _, status := range []JobStatus{
			JobStatusPending, JobStatusProcessing, JobStatusCompleted,
			JobStatusFailed, JobStatusCancelled,
		} {
			ids, err := collectIDs(txn, statusPrefix(status), false, 0)
			if err != nil {
				return err
			}
			stats.add(status, len(ids))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	return stats, nil
}
