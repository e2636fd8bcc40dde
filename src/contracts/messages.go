// Package contracts defines the message types exchanged between kiln agents.
package contracts

// Status values shared by runs, jobs and steps across the store, the
// broker, the TUI and the MCP server.
const (
	// StatusPending covers both a freshly created run and one queued
	// behind its concurrency group.
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
	StatusSkipped  = "skipped"
)

// Terminal reports whether a status is final.
func Terminal(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusCanceled, StatusSkipped:
		return true
	}
	return false
}

// RunRequest asks a runner agent to execute a workflow for an event.
// Published to: kiln.runs.requests
// Key: {concurrency group}
type RunRequest struct {
	RunID        string `json:"run_id"`
	WorkflowPath string `json:"workflow_path"`
	// EventKind is "push", "pull_request" or "workflow_dispatch".
	EventKind string `json:"event_kind"`
	Ref       string `json:"ref"`
	SHA       string `json:"sha"`
	Actor     string `json:"actor"`
	Timestamp string `json:"timestamp"`
}

// RunEvent records a status transition of a run, a job or a step.
// Exactly one event is published per transition.
// Published to: kiln.runs.events
// Key: {run_id}
type RunEvent struct {
	RunID string `json:"run_id"`
	// Scope is "run", "job" or "step".
	Scope string `json:"scope"`
	// JobID is set for job and step scopes.
	JobID string `json:"job_id,omitempty"`
	// JobName is the display name, e.g. "test (3.9)".
	JobName string `json:"job_name,omitempty"`
	// StepIndex is the zero-based step position for step scope.
	StepIndex int    `json:"step_index,omitempty"`
	StepName  string `json:"step_name,omitempty"`
	Status    string `json:"status"`
	// ExitCode is set when a step finishes.
	ExitCode  int    `json:"exit_code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// LogChunk carries a slice of a job's log output.
// Published to: kiln.logs.raw
// Key: {run_id}
type LogChunk struct {
	RunID       string `json:"run_id"`
	JobID       string `json:"job_id"`
	JobName     string `json:"job_name"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Content     string `json:"content"`
	// LineStart and LineEnd are 1-based line numbers within the full job log.
	LineStart int               `json:"line_start"`
	LineEnd   int               `json:"line_end"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Annotation is a problem-matcher or test-report finding attached to a job.
// Published to: kiln.annotations
// Key: {run_id}
type Annotation struct {
	ID      string `json:"id"`
	RunID   string `json:"run_id"`
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
	// Severity is "error" or "warning".
	Severity string `json:"severity"`
	// RawMessage is the matched log line with actual values.
	RawMessage string `json:"raw_message"`
	// NormalizedMsg has volatile tokens masked for grouping.
	NormalizedMsg string `json:"normalized_message"`
	// MessageHash identifies recurring failures across jobs and runs.
	MessageHash string `json:"message_hash"`
	// Matcher names the pattern that produced this annotation
	// (e.g. "python-traceback", "gcc", "junit").
	Matcher string `json:"matcher"`
	// File and Line locate the problem in the source tree when the
	// matcher could extract them.
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	// LogLine is the 1-based line number in the job log.
	LogLine int `json:"log_line"`
	// PreContext and PostContext are log lines around the match.
	PreContext  []string `json:"pre_context,omitempty"`
	PostContext []string `json:"post_context,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// Topic names used between agents.
const (
	// TopicRunRequests contains run requests for runner agents.
	TopicRunRequests = "kiln.runs.requests"

	// TopicRunEvents contains run/job/step status transitions.
	TopicRunEvents = "kiln.runs.events"

	// TopicLogsRaw contains job log chunks.
	TopicLogsRaw = "kiln.logs.raw"

	// TopicAnnotations contains problem-matcher findings.
	TopicAnnotations = "kiln.annotations"
)
