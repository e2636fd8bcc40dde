// Package store provides the in-memory store used in single-process mode.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kiln-runner/src/contracts"
)

// InMemoryStore is a mutex-guarded Store for single-process runs and tests.
type InMemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	jobs        map[string]*Job
	jobOrder    map[string][]string // runID -> jobIDs in creation order
	logs        map[string]*strings.Builder
	annotations map[string][]contracts.Annotation
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:        make(map[string]*Run),
		jobs:        make(map[string]*Job),
		jobOrder:    make(map[string][]string),
		logs:        make(map[string]*strings.Builder),
		annotations: make(map[string][]contracts.Annotation),
	}
}

// CreateRun records a new run.
func (s *InMemoryStore) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	copied := *run
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	if copied.Status == "" {
		copied.Status = contracts.StatusPending
	}
	s.runs[run.ID] = &copied
	return nil
}

// UpdateRunStatus transitions a run.
func (s *InMemoryStore) UpdateRunStatus(ctx context.Context, runID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	run.Status = status
	if contracts.Terminal(status) {
		run.FinishedAt = time.Now()
	}
	return nil
}

// GetRun returns a run by ID.
func (s *InMemoryStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	copied := *run
	return &copied, nil
}

// ListRuns returns runs newest first.
func (s *InMemoryStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// SaveJob records a job of a run.
func (s *InMemoryStore) SaveJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job already exists: %s", job.ID)
	}
	copied := *job
	if copied.Status == "" {
		copied.Status = contracts.StatusPending
	}
	s.jobs[job.ID] = &copied
	s.jobOrder[job.RunID] = append(s.jobOrder[job.RunID], job.ID)
	return nil
}

// UpdateJobStatus transitions a job and records its exit code.
func (s *InMemoryStore) UpdateJobStatus(ctx context.Context, jobID string, status string, exitCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if job.Status == contracts.StatusPending && status == contracts.StatusRunning {
		job.StartedAt = time.Now()
	}
	job.Status = status
	job.ExitCode = exitCode
	if contracts.Terminal(status) {
		job.FinishedAt = time.Now()
	}
	return nil
}

// GetJobs returns the jobs of a run in creation order.
func (s *InMemoryStore) GetJobs(ctx context.Context, runID string) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.jobOrder[runID]
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, *s.jobs[id])
	}
	return jobs, nil
}

// AppendJobLog appends log content to a job's log.
func (s *InMemoryStore) AppendJobLog(ctx context.Context, jobID string, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb, ok := s.logs[jobID]
	if !ok {
		sb = &strings.Builder{}
		s.logs[jobID] = sb
	}
	sb.WriteString(content)
	return nil
}

// GetJobLog returns the full accumulated log of a job.
func (s *InMemoryStore) GetJobLog(ctx context.Context, jobID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sb, ok := s.logs[jobID]
	if !ok {
		return "", nil
	}
	return sb.String(), nil
}

// SaveAnnotation saves a problem-matcher finding.
func (s *InMemoryStore) SaveAnnotation(ctx context.Context, a *contracts.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.annotations[a.RunID] = append(s.annotations[a.RunID], *a)
	return nil
}

// GetAnnotations retrieves all annotations for a run.
func (s *InMemoryStore) GetAnnotations(ctx context.Context, runID string) ([]contracts.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.Annotation, len(s.annotations[runID]))
	copy(out, s.annotations[runID])
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

var _ Store = (*InMemoryStore)(nil)
