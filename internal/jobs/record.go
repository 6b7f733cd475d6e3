package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput     = errors.New("jobs: invalid input")
	ErrNotFound         = errors.New("jobs: not found")
	ErrDuplicateID      = errors.New("jobs: duplicate execution id")
	ErrAlreadyFinalized = errors.New("jobs: execution already finalized")
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ExecutionRecord is one row per job attempt. It is created in running state
// when the coordinator starts a job and finalized exactly once when the job
// ends; a finalized record is immutable.
type ExecutionRecord struct {
	JobName     string
	ExecutionID string
	Status      Status

	// Error carries the failure message for failed records, empty otherwise.
	Error string

	// Result is the opaque payload returned by the job body (JSON by
	// convention), populated on completion.
	Result []byte

	StartedAt time.Time
	Duration  time.Duration
}

func (r ExecutionRecord) Validate() error {
	if r.JobName == "" {
		return fmt.Errorf("%w: missing job name", ErrInvalidInput)
	}
	if r.ExecutionID == "" {
		return fmt.Errorf("%w: missing execution id", ErrInvalidInput)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidInput)
	}
	switch r.Status {
	case StatusRunning, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("%w: bad status %q", ErrInvalidInput, r.Status)
	}
	return nil
}

// Store persists execution history.
//
// Finalize is conditional: it only lands while the record is still running, so
// two finalization paths (normal return and timeout cleanup) cannot both win.
type Store interface {
	CreateRunning(ctx context.Context, rec ExecutionRecord) error
	Finalize(ctx context.Context, jobName, executionID string, status Status, result []byte, errMsg string, duration time.Duration) error

	Latest(ctx context.Context, jobName string) (ExecutionRecord, error)
	History(ctx context.Context, jobName string, limit int) ([]ExecutionRecord, error)

	// JobNames lists every job that has at least one record.
	JobNames(ctx context.Context) ([]string, error)

	// ListRunningBefore returns running records started before the cutoff,
	// oldest first. Used to detect stuck jobs.
	ListRunningBefore(ctx context.Context, cutoff time.Time) ([]ExecutionRecord, error)

	// CountSince tallies finalized records for a job started at or after
	// since.
	CountSince(ctx context.Context, jobName string, since time.Time) (completed, failed int, err error)
}
