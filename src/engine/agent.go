package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"kiln-runner/src/broker"
	"kiln-runner/src/contracts"
	"kiln-runner/src/event"
	"kiln-runner/src/logger"
	"kiln-runner/src/provider"
)

// Agent consumes run requests from the broker and executes them. In
// distributed mode it is the worker half of the runner: the CLI or the
// MCP server publishes requests, agents pick them up.
type Agent struct {
	engine *Engine
	broker broker.Broker
	logger logger.Logger
}

// NewAgent creates a runner agent executing through the given engine.
func NewAgent(eng *Engine, brk broker.Broker, log logger.Logger) *Agent {
	return &Agent{
		engine: eng,
		broker: brk,
		logger: log,
	}
}

// Run starts the agent's main loop. It subscribes to kiln.runs.requests
// and executes incoming requests until the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("[RunnerAgent] Starting...")

	msgChan, err := a.broker.Subscribe(ctx, contracts.TopicRunRequests, "kiln-runner")
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicRunRequests, err)
	}

	a.logger.Info("[RunnerAgent] Listening for run requests on '%s' topic...", contracts.TopicRunRequests)

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				a.logger.Info("[RunnerAgent] Message channel closed, shutting down")
				return nil
			}

			if err := a.processRequest(ctx, msg); err != nil {
				a.logger.Error("[RunnerAgent] Error processing request: %v", err)
			}

		case <-ctx.Done():
			a.logger.Info("[RunnerAgent] Context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

// processRequest loads the requested workflow and executes it.
func (a *Agent) processRequest(ctx context.Context, msg broker.Message) error {
	var req contracts.RunRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("failed to unmarshal run request: %w", err)
	}

	data, err := os.ReadFile(req.WorkflowPath)
	if err != nil {
		return fmt.Errorf("failed to read workflow: %w", err)
	}
	p, err := provider.ForFile(req.WorkflowPath, data)
	if err != nil {
		return provider.WrapError(err)
	}
	wf, err := p.Load(req.WorkflowPath)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	ev := eventFromRequest(req)
	a.logger.Info("[RunnerAgent] Executing %s for %s on %s", req.WorkflowPath, ev.Kind, ev.Ref)

	plan, err := BuildPlan(wf, ev)
	if err != nil {
		return fmt.Errorf("failed to plan run: %w", err)
	}
	// The submitting client chose the run ID so it can poll for the
	// result; keep it.
	if req.RunID != "" {
		plan.RunID = req.RunID
	}

	run, err := a.engine.Execute(ctx, plan)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	a.logger.Info("[RunnerAgent] Run %s finished: %s", run.ID, run.Status)
	return nil
}

// eventFromRequest rebuilds the triggering event from a run request.
func eventFromRequest(req contracts.RunRequest) event.Event {
	branch := strings.TrimPrefix(req.Ref, "refs/heads/")
	switch req.EventKind {
	case event.KindPullRequest:
		ev := event.NewPullRequest(0, branch, req.SHA, req.Actor)
		if req.Ref != "" {
			ev.Ref = req.Ref
		}
		return ev
	case event.KindWorkflowDispatch:
		ev := event.NewPush(branch, req.SHA, req.Actor)
		ev.Kind = event.KindWorkflowDispatch
		return ev
	default:
		return event.NewPush(branch, req.SHA, req.Actor)
	}
}
