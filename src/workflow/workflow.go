// Package workflow defines the typed model for CI workflow documents and
// parses the GitHub-Actions-shaped YAML format into it.
package workflow

import "strings"

// Workflow is a parsed workflow document.
type Workflow struct {
	// Name is the display name, defaulting to the file path when absent.
	Name string
	// Path is the file the workflow was loaded from, if any.
	Path string
	// On declares which repository events trigger the workflow.
	On Triggers
	// Concurrency serializes runs sharing the same expanded group key.
	Concurrency Concurrency
	// Env is exported to every step of every job.
	Env map[string]string
	// Jobs maps job ID to definition. JobOrder preserves declaration order.
	Jobs     map[string]*Job
	JobOrder []string
}

// Triggers declares the events a workflow responds to.
type Triggers struct {
	Push             *BranchFilter
	PullRequest      *BranchFilter
	WorkflowDispatch bool
}

// BranchFilter restricts an event trigger to matching refs and paths.
// Empty filters match everything. Patterns use workflow glob syntax
// where * matches within a path segment and ** crosses segments.
type BranchFilter struct {
	Branches       []string
	BranchesIgnore []string
	Paths          []string
	PathsIgnore    []string
}

// Concurrency declares a run-serialization group.
type Concurrency struct {
	// Group is an expression template, e.g.
	// "${{ github.workflow }}-${{ github.ref }}".
	Group string
	// CancelInProgress makes a newer run cancel an in-flight older run
	// for the same expanded group instead of queueing behind it.
	CancelInProgress bool
}

// Job is one job definition within a workflow.
type Job struct {
	// ID is the YAML key, e.g. "test".
	ID string
	// Name is an optional display name template.
	Name string
	// RunsOn is the runner label list. kiln executes everything locally
	// and records the label for display only.
	RunsOn []string
	// Needs lists job IDs that must succeed before this job starts.
	Needs []string
	// If is an expression gating execution.
	If string
	// TimeoutMinutes bounds the whole job. Zero means the default.
	TimeoutMinutes int
	Env            map[string]string
	Strategy       *Strategy
	Steps          []Step
}

// Strategy declares matrix fan-out behavior for a job.
type Strategy struct {
	Matrix *Matrix
	// FailFast cancels sibling matrix jobs on first failure.
	// GitHub defaults this to true; nil means unset.
	FailFast *bool
	// MaxParallel bounds concurrently running matrix jobs. Zero means
	// unbounded.
	MaxParallel int
}

// Matrix is a set of named axes plus include/exclude adjustments.
type Matrix struct {
	// Axes preserve declaration order so expansion is deterministic.
	Axes []Axis
	// Include adds or extends combinations, Exclude removes them.
	Include []map[string]string
	Exclude []map[string]string
}

// Axis is one matrix dimension.
type Axis struct {
	Name   string
	Values []string
}

// Step is a single step within a job. Exactly one of Uses or Run is set.
type Step struct {
	ID   string
	Name string
	// Uses invokes a built-in action handler, e.g. "actions/checkout@v4".
	Uses string
	// Run is a shell script.
	Run string
	// Shell overrides the default shell for Run steps.
	Shell            string
	WorkingDirectory string
	If               string
	With             map[string]string
	Env              map[string]string
	ContinueOnError  bool
}

// DisplayName returns the step's name, falling back to its command.
// Multiline scripts display as their first line so log headers and the
// TUI stay single-line.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	run := s.Run
	if i := strings.IndexByte(run, '\n'); i >= 0 {
		run = run[:i]
	}
	if len(run) > 60 {
		return run[:60]
	}
	return run
}

// FailFastEnabled reports the effective fail-fast setting for a job.
func (j *Job) FailFastEnabled() bool {
	if j.Strategy == nil || j.Strategy.FailFast == nil {
		return true
	}
	return *j.Strategy.FailFast
}
