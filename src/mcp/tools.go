package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"kiln-runner/src/contracts"
	"kiln-runner/src/event"
	"kiln-runner/src/provider"
	"kiln-runner/src/ranking"
	"kiln-runner/src/store"
)

// runSummary is the run_workflow and get_run_status response shape.
type runSummary struct {
	RunID        string       `json:"run_id"`
	Workflow     string       `json:"workflow"`
	Event        string       `json:"event"`
	Ref          string       `json:"ref"`
	Status       string       `json:"status"`
	Jobs         []jobSummary `json:"jobs"`
	UniqueCount  int          `json:"unique_annotations"`
	NoiseCount   int          `json:"noise_annotations"`
	TopUnique    []annotation `json:"top_unique,omitempty"`
	ConcurrGroup string       `json:"concurrency_group,omitempty"`
}

type jobSummary struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// annotation is the wire shape for tiered findings: full context for
// unique failures, hash-only for the rest.
type annotation struct {
	Severity    string   `json:"severity"`
	Message     string   `json:"message"`
	Matcher     string   `json:"matcher"`
	Job         string   `json:"job"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Recurrence  int      `json:"recurrence"`
	Hash        string   `json:"hash"`
	PreContext  []string `json:"pre_context,omitempty"`
	PostContext []string `json:"post_context,omitempty"`
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}
	branch := request.GetString("branch", "master")
	kind := request.GetString("event", event.KindPush)

	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read workflow: %v", err)), nil
	}
	p, err := provider.ForFile(path, data)
	if err != nil {
		return mcp.NewToolResultError(provider.WrapError(err).Error()), nil
	}
	wf, err := p.Load(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load workflow: %v", err)), nil
	}

	var ev event.Event
	switch kind {
	case event.KindPullRequest:
		ev = event.NewPullRequest(0, branch, "", "mcp")
	case event.KindWorkflowDispatch:
		ev = event.NewPush(branch, "", "mcp")
		ev.Kind = event.KindWorkflowDispatch
	default:
		ev = event.NewPush(branch, "", "mcp")
	}

	if !event.Matches(wf, ev) {
		return mcp.NewToolResultError(fmt.Sprintf("workflow does not trigger on %s for branch %s", kind, branch)), nil
	}

	run, err := s.engine.Run(ctx, wf, ev)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}

	return s.summarize(ctx, run)
}

func (s *Server) handleGetRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", runID)), nil
	}
	return s.summarize(ctx, run)
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)

	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	type listed struct {
		RunID    string `json:"run_id"`
		Workflow string `json:"workflow"`
		Event    string `json:"event"`
		Ref      string `json:"ref"`
		Status   string `json:"status"`
		Created  string `json:"created_at"`
	}
	out := make([]listed, 0, len(runs))
	for _, r := range runs {
		out = append(out, listed{
			RunID:    r.ID,
			Workflow: r.WorkflowName,
			Event:    r.EventKind,
			Ref:      r.Ref,
			Status:   r.Status,
			Created:  r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return jsonResult(out)
}

func (s *Server) handleGetJobLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	jobName := request.GetString("job", "")
	if runID == "" || jobName == "" {
		return mcp.NewToolResultError("run_id and job parameters are required"), nil
	}
	tail := request.GetInt("tail", 200)

	jobs, err := s.store.GetJobs(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", runID)), nil
	}
	var job *store.Job
	for i := range jobs {
		if jobs[i].Name == jobName {
			job = &jobs[i]
			break
		}
	}
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no job named %q in run %s", jobName, runID)), nil
	}

	log, err := s.store.GetJobLog(ctx, job.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load log: %v", err)), nil
	}

	return mcp.NewToolResultText(CompressLog(log, tail)), nil
}

func (s *Server) handleGetAnnotations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}
	limit := request.GetInt("limit", 15)

	anns, err := s.store.GetAnnotations(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load annotations: %v", err)), nil
	}

	tiered := ranking.Rank(anns)
	type response struct {
		Unique []annotation `json:"unique"`
		Noise  []annotation `json:"noise"`
	}
	resp := response{
		Unique: convertRanked(tiered.Unique, limit, true),
		Noise:  convertRanked(tiered.Noise, limit, false),
	}
	return jsonResult(resp)
}

// summarize builds the standard run response: jobs plus the top unique
// annotations with full context.
func (s *Server) summarize(ctx context.Context, run *store.Run) (*mcp.CallToolResult, error) {
	jobs, err := s.store.GetJobs(ctx, run.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load jobs: %v", err)), nil
	}
	anns, err := s.store.GetAnnotations(ctx, run.ID)
	if err != nil {
		anns = nil
	}

	tiered := ranking.Rank(anns)
	unique, noise := tiered.Counts()

	summary := runSummary{
		RunID:        run.ID,
		Workflow:     run.WorkflowName,
		Event:        run.EventKind,
		Ref:          run.Ref,
		Status:       run.Status,
		UniqueCount:  unique,
		NoiseCount:   noise,
		TopUnique:    convertRanked(tiered.Unique, 5, true),
		ConcurrGroup: run.ConcurrencyGroup,
	}
	for _, j := range jobs {
		js := jobSummary{Name: j.Name, Status: j.Status}
		if j.Status == contracts.StatusFailed {
			js.ExitCode = j.ExitCode
		}
		summary.Jobs = append(summary.Jobs, js)
	}
	return jsonResult(summary)
}

// convertRanked maps ranked annotations to the wire shape. Context
// lines are included only when expand is set: unique failures are worth
// the tokens, noise is not.
func convertRanked(ranked []ranking.RankedAnnotation, limit int, expand bool) []annotation {
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]annotation, 0, len(ranked))
	for _, r := range ranked {
		a := annotation{
			Severity:   r.Annotation.Severity,
			Message:    r.Annotation.NormalizedMsg,
			Matcher:    r.Annotation.Matcher,
			Job:        r.Annotation.JobName,
			File:       r.Annotation.File,
			Line:       r.Annotation.Line,
			Recurrence: r.Recurrence,
			Hash:       r.Annotation.MessageHash,
		}
		if expand {
			a.PreContext = r.Annotation.PreContext
			a.PostContext = r.Annotation.PostContext
		}
		out = append(out, a)
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
