package core

import (
	"errors"

	"github.com/Actief-IT-Services/aits-print-server/internal/store"
)

// ErrValidation wraps submission errors the API should report as bad
// requests rather than server failures.
var ErrValidation = errors.New("invalid submission")

// EventSink receives job lifecycle notifications. The websocket hub
// implements it; a nil sink disables events.
type EventSink interface {
	JobEvent(event string, job *store.Job)
}

const (
	EventJobSubmitted = "job_submitted"
	EventJobStarted   = "job_started"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobCancelled = "job_cancelled"
)

// SubmitRequest is a validated local print submission.
type SubmitRequest struct {
	PrinterName  string
	DocumentName string
	Payload      []byte
	Copies       int
	Options      store.Options
}
