// Package store defines the interface for persisting runs, jobs, logs
// and annotations.
package store

import (
	"context"
	"errors"
	"time"

	"kiln-runner/src/contracts"
)

var ErrNotFound = errors.New("not found")

// Run is a persisted workflow run.
type Run struct {
	ID               string
	WorkflowName     string
	WorkflowPath     string
	EventKind        string
	Ref              string
	SHA              string
	ConcurrencyGroup string
	Status           string
	CreatedAt        time.Time
	FinishedAt       time.Time
}

// Job is a persisted job within a run. Name carries the matrix display
// name, e.g. "test (3.9)".
type Job struct {
	ID         string
	RunID      string
	Name       string
	Status     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store defines the interface for persisting run state.
type Store interface {
	// CreateRun records a new run in status pending
	CreateRun(ctx context.Context, run *Run) error

	// UpdateRunStatus transitions a run; terminal statuses set FinishedAt
	UpdateRunStatus(ctx context.Context, runID string, status string) error

	// GetRun returns a run by ID
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns runs newest first, up to limit (0 means all)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// SaveJob records a job of a run
	SaveJob(ctx context.Context, job *Job) error

	// UpdateJobStatus transitions a job and records its exit code
	UpdateJobStatus(ctx context.Context, jobID string, status string, exitCode int) error

	// GetJobs returns the jobs of a run in creation order
	GetJobs(ctx context.Context, runID string) ([]Job, error)

	// AppendJobLog appends log content to a job's log
	AppendJobLog(ctx context.Context, jobID string, content string) error

	// GetJobLog returns the full accumulated log of a job
	GetJobLog(ctx context.Context, jobID string) (string, error)

	// SaveAnnotation saves a problem-matcher finding
	SaveAnnotation(ctx context.Context, a *contracts.Annotation) error

	// GetAnnotations retrieves all annotations for a run
	GetAnnotations(ctx context.Context, runID string) ([]contracts.Annotation, error)

	// Close closes the store connection
	Close() error
}
