package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kiln-runner/src/broker"
	"kiln-runner/src/contracts"
	"kiln-runner/src/event"
	"kiln-runner/src/logger"
	"kiln-runner/src/sanitize"
	"kiln-runner/src/store"
	"kiln-runner/src/workflow"
)

// Options configures an Engine. Zero-value fields get in-memory
// defaults so tests and single-process mode need no wiring.
type Options struct {
	Store  store.Store
	Broker broker.Broker
	Logger logger.Logger
	// Workspace is the directory jobs execute in.
	Workspace string
	// Secrets are masked in all log output and exposed through the
	// secrets expression context.
	Secrets map[string]string
}

// Engine executes workflow runs.
type Engine struct {
	store     store.Store
	broker    broker.Broker
	log       logger.Logger
	coord     *Coordinator
	workspace string
	secrets   map[string]string
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}
	if opts.Broker == nil {
		opts.Broker = broker.NewInMemoryBroker()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewSilentLogger()
	}
	if opts.Workspace == "" {
		opts.Workspace = "."
	}
	return &Engine{
		store:     opts.Store,
		broker:    opts.Broker,
		log:       opts.Logger,
		coord:     NewCoordinator(),
		workspace: opts.Workspace,
		secrets:   opts.Secrets,
	}
}

// Run executes a workflow for an event and returns the finished run
// row. The call blocks while the run is queued behind its concurrency
// group and for the whole execution.
func (e *Engine) Run(ctx context.Context, wf *workflow.Workflow, ev event.Event) (*store.Run, error) {
	plan, err := BuildPlan(wf, ev)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan)
}

// Execute runs a prepared plan.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (*store.Run, error) {
	run := &store.Run{
		ID:               plan.RunID,
		WorkflowName:     plan.Workflow.Name,
		WorkflowPath:     plan.Workflow.Path,
		EventKind:        plan.Event.Kind,
		Ref:              plan.Event.Ref,
		SHA:              plan.Event.SHA,
		ConcurrencyGroup: plan.ConcurrencyGroup,
		Status:           contracts.StatusPending,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	e.publishRunEvent(ctx, plan.RunID, contracts.StatusPending)
	e.log.Info("[Engine] Run %s pending (group %q)", plan.RunID, plan.ConcurrencyGroup)

	runCtx, release, err := e.coord.Acquire(ctx, plan.ConcurrencyGroup, plan.CancelInProgress)
	if err != nil {
		e.setRunStatus(ctx, plan.RunID, contracts.StatusCanceled)
		return nil, err
	}
	defer release()

	// The group may have been cancelled while this run waited in it.
	if runCtx.Err() != nil {
		e.setRunStatus(ctx, plan.RunID, contracts.StatusCanceled)
		return e.store.GetRun(ctx, plan.RunID)
	}

	e.setRunStatus(ctx, plan.RunID, contracts.StatusRunning)
	e.log.Info("[Engine] Run %s running: %d job(s)", plan.RunID, len(plan.Jobs))

	masker := sanitize.NewMasker()
	for _, v := range e.secrets {
		masker.Add(v)
	}

	statuses := e.schedule(runCtx, plan, masker)

	final := aggregateRunStatus(statuses, runCtx.Err() != nil)
	e.setRunStatus(ctx, plan.RunID, final)
	e.log.Info("[Engine] Run %s finished: %s", plan.RunID, final)

	return e.store.GetRun(ctx, plan.RunID)
}

// schedule executes jobs in needs order. Jobs whose dependencies all
// succeeded run concurrently; a job with a failed, skipped or cancelled
// dependency is skipped. Matrix legs of one job form a unit with their
// own fail-fast and max-parallel behavior.
func (e *Engine) schedule(ctx context.Context, plan *Plan, masker *sanitize.Masker) map[string]string {
	legsByJob := map[string][]*JobPlan{}
	for _, jp := range plan.Jobs {
		legsByJob[jp.WorkflowJobID] = append(legsByJob[jp.WorkflowJobID], jp)
	}

	completed := map[string]string{} // workflow job ID -> aggregate status
	remaining := map[string]bool{}
	for _, id := range plan.Workflow.JobOrder {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		var ready, blocked []string
		for _, id := range plan.Workflow.JobOrder {
			if !remaining[id] {
				continue
			}
			depsDone, depsOK := true, true
			for _, dep := range plan.Workflow.Jobs[id].Needs {
				status, done := completed[dep]
				if !done {
					depsDone = false
					break
				}
				if status != contracts.StatusSuccess {
					depsOK = false
				}
			}
			if !depsDone {
				continue
			}
			if depsOK {
				ready = append(ready, id)
			} else {
				blocked = append(blocked, id)
			}
		}

		for _, id := range blocked {
			delete(remaining, id)
			completed[id] = contracts.StatusSkipped
			for _, jp := range legsByJob[id] {
				e.recordSkippedJob(ctx, plan, jp)
			}
		}
		if len(ready) == 0 {
			if len(blocked) == 0 {
				// Unreachable with a validated workflow; avoid spinning.
				break
			}
			continue
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, id := range ready {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				status := e.runMatrix(ctx, plan, legsByJob[id], masker)
				mu.Lock()
				completed[id] = status
				mu.Unlock()
			}(id)
			delete(remaining, id)
		}
		wg.Wait()
	}

	return completed
}

// runMatrix executes all legs of one workflow job and returns the
// aggregate status. With fail-fast, the first failing leg cancels its
// in-flight siblings; with fail-fast off every leg runs to completion
// independently.
func (e *Engine) runMatrix(ctx context.Context, plan *Plan, legs []*JobPlan, masker *sanitize.Masker) string {
	if len(legs) == 0 {
		return contracts.StatusSkipped
	}
	job := legs[0].Job

	legCtx, cancelLegs := context.WithCancel(ctx)
	defer cancelLegs()

	var g errgroup.Group
	if job.Strategy != nil && job.Strategy.MaxParallel > 0 {
		g.SetLimit(job.Strategy.MaxParallel)
	}

	statuses := make([]string, len(legs))
	for i, leg := range legs {
		i, leg := i, leg
		g.Go(func() error {
			statuses[i] = e.runJob(legCtx, plan, leg, masker)
			if statuses[i] == contracts.StatusFailed && job.FailFastEnabled() {
				cancelLegs()
			}
			return nil
		})
	}
	g.Wait()

	agg := contracts.StatusSuccess
	for _, s := range statuses {
		switch s {
		case contracts.StatusFailed:
			return contracts.StatusFailed
		case contracts.StatusCanceled:
			agg = contracts.StatusCanceled
		}
	}
	return agg
}

func (e *Engine) recordSkippedJob(ctx context.Context, plan *Plan, jp *JobPlan) {
	job := &store.Job{ID: jp.ID, RunID: plan.RunID, Name: jp.Name, Status: contracts.StatusSkipped}
	if err := e.store.SaveJob(ctx, job); err != nil {
		e.log.Error("[Engine] Failed to save skipped job %s: %v", jp.Name, err)
	}
	e.publishJobEvent(ctx, plan.RunID, jp, contracts.StatusSkipped, 0)
}

func aggregateRunStatus(statuses map[string]string, cancelled bool) string {
	for _, s := range statuses {
		if s == contracts.StatusFailed {
			return contracts.StatusFailed
		}
	}
	if cancelled {
		return contracts.StatusCanceled
	}
	for _, s := range statuses {
		if s == contracts.StatusCanceled {
			return contracts.StatusCanceled
		}
	}
	return contracts.StatusSuccess
}

func (e *Engine) setRunStatus(ctx context.Context, runID, status string) {
	if err := e.store.UpdateRunStatus(ctx, runID, status); err != nil {
		e.log.Error("[Engine] Failed to update run %s: %v", runID, err)
	}
	e.publishRunEvent(ctx, runID, status)
}

func (e *Engine) publishRunEvent(ctx context.Context, runID, status string) {
	e.publish(ctx, contracts.RunEvent{
		RunID:     runID,
		Scope:     "run",
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (e *Engine) publishJobEvent(ctx context.Context, runID string, jp *JobPlan, status string, exitCode int) {
	e.publish(ctx, contracts.RunEvent{
		RunID:     runID,
		Scope:     "job",
		JobID:     jp.ID,
		JobName:   jp.Name,
		Status:    status,
		ExitCode:  exitCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (e *Engine) publishStepEvent(ctx context.Context, runID string, jp *JobPlan, stepIndex int, stepName, status string, exitCode int) {
	e.publish(ctx, contracts.RunEvent{
		RunID:     runID,
		Scope:     "step",
		JobID:     jp.ID,
		JobName:   jp.Name,
		StepIndex: stepIndex,
		StepName:  stepName,
		Status:    status,
		ExitCode:  exitCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// publish sends a run event; delivery uses the background context so
// terminal events still go out for a cancelled run.
func (e *Engine) publish(ctx context.Context, ev contracts.RunEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		e.log.Error("[Engine] Failed to marshal event: %v", err)
		return
	}
	if err := e.broker.Publish(context.Background(), contracts.TopicRunEvents, ev.RunID, data); err != nil {
		e.log.Error("[Engine] Failed to publish event: %v", err)
	}
}
