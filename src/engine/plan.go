// Package engine plans and executes workflow runs: it expands matrices,
// serializes concurrency groups, schedules jobs and runs steps.
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"kiln-runner/src/event"
	"kiln-runner/src/expr"
	"kiln-runner/src/matrix"
	"kiln-runner/src/workflow"
)

// Plan is a fully expanded run: one JobPlan per matrix leg.
type Plan struct {
	RunID            string
	Workflow         *workflow.Workflow
	Event            event.Event
	ConcurrencyGroup string
	CancelInProgress bool
	// Jobs is ordered: workflow declaration order, then matrix order.
	Jobs []*JobPlan
}

// JobPlan is one schedulable job: a workflow job bound to a matrix
// combination.
type JobPlan struct {
	// ID is unique per run.
	ID string
	// WorkflowJobID is the declaring job's YAML key.
	WorkflowJobID string
	// Name is the display name, e.g. "test (3.9)".
	Name  string
	Combo matrix.Combination
	Job   *workflow.Job
}

// BuildPlan expands a workflow for an event into an executable plan.
// The concurrency group key is evaluated here, before any job starts,
// so run serialization happens on the expanded string.
func BuildPlan(wf *workflow.Workflow, ev event.Event) (*Plan, error) {
	plan := &Plan{
		RunID:    uuid.NewString(),
		Workflow: wf,
		Event:    ev,
	}

	if wf.Concurrency.Group != "" {
		ctx := baseExprContext(wf, ev, plan.RunID)
		group, err := expr.Expand(wf.Concurrency.Group, ctx)
		if err != nil {
			return nil, fmt.Errorf("concurrency group: %w", err)
		}
		plan.ConcurrencyGroup = group
		plan.CancelInProgress = wf.Concurrency.CancelInProgress
	}

	for _, jobID := range wf.JobOrder {
		job := wf.Jobs[jobID]
		var m *workflow.Matrix
		if job.Strategy != nil {
			m = job.Strategy.Matrix
		}
		name := job.Name
		if name == "" {
			name = jobID
		}

		for _, combo := range matrix.Expand(m) {
			plan.Jobs = append(plan.Jobs, &JobPlan{
				ID:            uuid.NewString(),
				WorkflowJobID: jobID,
				Name:          matrix.DisplayName(name, m, combo),
				Combo:         combo,
				Job:           job,
			})
		}
	}

	return plan, nil
}

// baseExprContext builds the expression context shared by the whole run.
func baseExprContext(wf *workflow.Workflow, ev event.Event, runID string) expr.Context {
	return expr.Context{
		"github": {
			"workflow":   wf.Name,
			"ref":        ev.Ref,
			"ref_name":   ev.Branch,
			"sha":        ev.SHA,
			"actor":      ev.Actor,
			"event_name": ev.Kind,
			"run_id":     runID,
			"repository": ev.Repo,
		},
		"env":    wf.Env,
		"runner": {"os": "Linux", "name": "kiln"},
	}
}

// jobExprContext extends the run context with a leg's matrix values and
// current job status.
func jobExprContext(base expr.Context, combo matrix.Combination, status string) expr.Context {
	ctx := expr.Context{}
	for ns, kv := range base {
		ctx[ns] = kv
	}
	ctx["matrix"] = map[string]string(combo)
	ctx["job"] = map[string]string{"status": status}
	return ctx
}
