// Package store persists print jobs and is the single source of truth
// for job state. Two backends are available: SQLite (default) and
// BadgerDB, selected through the database config section.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a job id does not exist in the store.
var ErrNotFound = errors.New("job not found")

// JobStatus is the lifecycle state of a print job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// TerminalStatuses are the states with no outgoing transitions. Only
// jobs in these states may be purged by the retention sweeper.
var TerminalStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

// Terminal reports whether s permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Options is an opaque key-value mapping passed through to the printer
// backend verbatim (duplex, media size, color and the like). The store
// does not interpret it beyond JSON round-tripping.
type Options map[string]interface{}

func encodeOptions(o Options) (string, error) {
	if len(o) == 0 {
		return "", nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode options: %w", err)
	}
	return string(data), nil
}

func decodeOptions(s string) (Options, error) {
	if s == "" {
		return nil, nil
	}
	var o Options
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	return o, nil
}

// Job is one request to print a document. The JSON tags are the badger
// storage encoding; API responses use their own shapes and never carry
// the payload.
type Job struct {
	ID           string     `json:"job_id"`
	PrinterName  string     `json:"printer_name"`
	DocumentName string     `json:"document_name"`
	Payload      []byte     `json:"payload,omitempty"`
	Copies       int        `json:"copies"`
	Options      Options    `json:"options,omitempty"`
	Status       JobStatus  `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Stats holds per-status job counts.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

func (s *Stats) add(status JobStatus, count int) {
	s.Total += count
	switch status {
	case JobStatusPending:
		s.Pending += count
	case JobStatusProcessing:
		s.Processing += count
	case JobStatusCompleted:
		s.Completed += count
	case JobStatusFailed:
		s.Failed += count
	case JobStatusCancelled:
		s.Cancelled += count
	}
}
