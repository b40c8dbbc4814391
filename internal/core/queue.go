// Package core implements the job lifecycle engine: validated
// submission, the background dispatch loop with bounded retries, and
// the retention sweep over terminal jobs.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Actief-IT-Services/aits-print-server/internal/config"
	"github.com/Actief-IT-Services/aits-print-server/internal/printer"
	"github.com/Actief-IT-Services/aits-print-server/internal/store"
)

// errorBackoff is how long the dispatch loop pauses after a cycle-level
// failure before resuming its normal cadence.
const errorBackoff = 5 * time.Second

// Queue owns the dispatch loop. All job state lives in the store; the
// queue itself only holds wiring, so multiple instances sharing one
// store stay correct through the store's conditional updates.
type Queue struct {
	store   store.Backend
	backend printer.Backend
	events  EventSink
	cfg     config.QueueConfig
	logger  *slog.Logger

	startTime time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewQueue(st store.Backend, backend printer.Backend, events EventSink, cfg config.QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:     st,
		backend:   backend,
		events:    events,
		cfg:       cfg,
		logger:    logger.With("component", "queue"),
		startTime: time.Now(),
	}
}

// Start launches the dispatch loop. It is a no-op when already running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	go q.run(loopCtx)
	q.logger.Info("dispatch loop started", "interval", q.cfg.PollInterval.String())
}

// Stop signals the loop and waits for the current batch to finish, so
// no job is abandoned mid-write.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	<-done
	q.logger.Info("dispatch loop stopped")
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.processBatch(ctx); err != nil {
				q.logger.Error("dispatch cycle failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(errorBackoff):
				}
			}
		}
	}
}

// processBatch drains one batch of pending jobs and then runs the
// retention sweep. Per-job failures are contained inside processJob;
// only a failure to read the batch itself bubbles up.
func (q *Queue) processBatch(ctx context.Context) error {
	jobs, err := q.store.NextPending(ctx, q.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return nil
		}
		q.processJob(ctx, job)
	}

	if ctx.Err() != nil {
		return nil
	}
	q.sweep(ctx)
	return nil
}

func (q *Queue) processJob(ctx context.Context, job *store.Job) {
	// Once a job is claimed it must land back in a recoverable state.
	// The print attempt and every store write after the claim run on a
	// context that survives loop cancellation, so Stop mid-print still
	// finishes the job instead of stranding it in processing.
	ctx = context.WithoutCancel(ctx)

	claimed, err := q.store.MarkProcessing(ctx, job.ID)
	if err != nil {
		q.logger.Error("failed to claim job", "job_id", job.ID, "error", err)
		return
	}
	if !claimed {
		// Cancelled or grabbed by a concurrent dispatcher since the
		// batch was drawn.
		q.logger.Debug("job no longer pending, skipping", "job_id", job.ID)
		return
	}
	job.Status = store.JobStatusProcessing
	q.emit(EventJobStarted, job)

	if err := q.printJob(ctx, job); err != nil {
		q.handleFailure(ctx, job, err)
		return
	}

	if err := q.store.UpdateStatus(ctx, job.ID, store.JobStatusCompleted, ""); err != nil {
		q.logger.Error("failed to mark job completed", "job_id", job.ID, "error", err)
		return
	}
	job.Status = store.JobStatusCompleted
	job.ErrorMessage = ""
	q.logger.Info("job completed", "job_id", job.ID, "printer", job.PrinterName)
	q.emit(EventJobCompleted, job)
}

// printJob resolves the target printer and invokes the backend under
// the configured per-job timeout.
func (q *Queue) printJob(ctx context.Context, job *store.Job) error {
	printerName := job.PrinterName
	if printerName == "" {
		printerName = q.cfg.DefaultPrinter
	}
	if printerName == "" {
		return fmt.Errorf("no printer specified and no default configured")
	}

	return q.Invoke(ctx, printer.Request{
		PrinterName:  printerName,
		DocumentName: job.DocumentName,
		Payload:      job.Payload,
		Copies:       job.Copies,
		Options:      job.Options,
	})
}

// Invoke is the single printer-invocation path, shared with the remote
// poller. The timeout keeps a hung spooler from stalling the queue.
func (q *Queue) Invoke(ctx context.Context, req printer.Request) error {
	printCtx, cancel := context.WithTimeout(ctx, q.cfg.PrintTimeout)
	defer cancel()

	if err := q.backend.Print(printCtx, req); err != nil {
		if printCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("print timed out after %s", q.cfg.PrintTimeout)
		}
		return err
	}
	return nil
}

// handleFailure applies the retry policy: bump the counter, requeue as
// pending until max_retries is exhausted, then park the job as failed.
// Whatever happens, the job never stays in processing.
func (q *Queue) handleFailure(ctx context.Context, job *store.Job, printErr error) {
	q.logger.Warn("print attempt failed", "job_id", job.ID, "error", printErr)

	if err := q.store.IncrementRetry(ctx, job.ID); err != nil {
		q.logger.Error("failed to increment retry count", "job_id", job.ID, "error", err)
		q.forceFailed(ctx, job, printErr.Error())
		return
	}
	retries := job.RetryCount + 1
	job.RetryCount = retries

	if retries >= q.cfg.MaxRetries {
		q.forceFailed(ctx, job, fmt.Sprintf("failed after %d attempts: %v", retries, printErr))
		return
	}

	msg := fmt.Sprintf("retry %d/%d: %v", retries, q.cfg.MaxRetries, printErr)
	if err := q.store.UpdateStatus(ctx, job.ID, store.JobStatusPending, msg); err != nil {
		q.logger.Error("failed to requeue job", "job_id", job.ID, "error", err)
		q.forceFailed(ctx, job, msg)
		return
	}
	job.Status = store.JobStatusPending
	job.ErrorMessage = msg
}

func (q *Queue) forceFailed(ctx context.Context, job *store.Job, msg string) {
	if err := q.store.UpdateStatus(ctx, job.ID, store.JobStatusFailed, msg); err != nil {
		q.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		return
	}
	job.Status = store.JobStatusFailed
	job.ErrorMessage = msg
	q.logger.Error("job failed", "job_id", job.ID, "error", msg)
	q.emit(EventJobFailed, job)
}

// sweep purges terminal jobs older than the retention window. Sweep
// failures never stop dispatch.
func (q *Queue) sweep(ctx context.Context) {
	if q.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -q.cfg.RetentionDays)
	deleted, err := q.store.DeleteOlderThan(ctx, cutoff, store.TerminalStatuses)
	if err != nil {
		q.logger.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		q.logger.Info("retention sweep removed old jobs", "count", deleted)
	}
}

// Submit validates and persists a new job, returning its id without
// waiting for dispatch.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	if req.DocumentName == "" {
		return nil, fmt.Errorf("%w: document_name is required", ErrValidation)
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("%w: document content is required", ErrValidation)
	}
	if req.PrinterName == "" && q.cfg.DefaultPrinter == "" {
		return nil, fmt.Errorf("%w: printer_name is required", ErrValidation)
	}
	if req.Copies < 0 {
		return nil, fmt.Errorf("%w: copies must be positive", ErrValidation)
	}
	if req.Copies == 0 {
		req.Copies = 1
	}

	job := &store.Job{
		ID:           uuid.New().String(),
		PrinterName:  req.PrinterName,
		DocumentName: req.DocumentName,
		Payload:      req.Payload,
		Copies:       req.Copies,
		Options:      req.Options,
	}

	if err := q.store.Submit(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	q.logger.Info("job submitted", "job_id", job.ID, "printer", job.PrinterName, "document", job.DocumentName)
	q.emit(EventJobSubmitted, job)
	return job, nil
}

// Cancel cancels a job that has not started printing. It returns false
// when the job exists but is processing or already terminal.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	cancelled, err := q.store.Cancel(ctx, id)
	if err != nil {
		return false, err
	}
	if cancelled {
		if job, getErr := q.store.Get(ctx, id); getErr == nil {
			q.emit(EventJobCancelled, job)
		}
		q.logger.Info("job cancelled", "job_id", id)
	}
	return cancelled, nil
}

// Get returns a single job.
func (q *Queue) Get(ctx context.Context, id string) (*store.Job, error) {
	return q.store.Get(ctx, id)
}

// List returns jobs newest-first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status store.JobStatus, limit int) ([]*store.Job, error) {
	return q.store.List(ctx, status, limit)
}

// Stats returns per-status counts.
func (q *Queue) Stats(ctx context.Context) (*store.Stats, error) {
	return q.store.Stats(ctx)
}

// Uptime reports how long this queue instance has been alive.
func (q *Queue) Uptime() time.Duration {
	return time.Since(q.startTime)
}

func (q *Queue) emit(event string, job *store.Job) {
	if q.events == nil {
		return
	}
	q.events.JobEvent(event, job)
}
