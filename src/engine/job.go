package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"kiln-runner/src/contracts"
	"kiln-runner/src/expr"
	"kiln-runner/src/ingest"
	"kiln-runner/src/junit"
	"kiln-runner/src/sanitize"
	"kiln-runner/src/shell"
	"kiln-runner/src/store"
	"kiln-runner/src/workflow"
)

// DefaultJobTimeout bounds jobs that declare no timeout-minutes.
const DefaultJobTimeout = 360 * time.Minute

// statusFunctions are the expression functions that opt a step out of
// the implicit "previous steps succeeded" condition.
var statusFunctions = []string{"always(", "failure(", "cancelled(", "canceled(", "success("}

func hasStatusFunction(cond string) bool {
	for _, fn := range statusFunctions {
		if strings.Contains(cond, fn) {
			return true
		}
	}
	return false
}

// jobLog accumulates a job's masked output and mirrors it to the store.
type jobLog struct {
	mu     sync.Mutex
	buf    strings.Builder
	masker *sanitize.Masker
	store  store.Store
	jobID  string
}

// Write masks a line and appends it. Lines carrying an add-mask
// command register the secret instead of being logged.
func (l *jobLog) Write(line string) {
	if secret, ok := sanitize.ParseAddMask(line); ok {
		l.mu.Lock()
		l.masker.Add(secret)
		l.mu.Unlock()
		return
	}
	l.mu.Lock()
	masked := l.masker.Apply(line)
	l.buf.WriteString(masked)
	l.buf.WriteByte('\n')
	l.mu.Unlock()
	// Persisting outside the lock keeps slow stores off the hot path.
	_ = l.store.AppendJobLog(context.Background(), l.jobID, masked+"\n")
}

func (l *jobLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// runJob executes one matrix leg start to finish and returns its final
// status. All terminal persistence uses the background context so a
// cancelled run still gets recorded.
func (e *Engine) runJob(ctx context.Context, plan *Plan, jp *JobPlan, masker *sanitize.Masker) string {
	base := baseExprContext(plan.Workflow, plan.Event, plan.RunID)
	if len(e.secrets) > 0 {
		base["secrets"] = e.secrets
	}

	// Job-level if gates the whole leg before anything is recorded as
	// running.
	if jp.Job.If != "" {
		ok, err := expr.EvalBool(jp.Job.If, jobExprContext(base, jp.Combo, contracts.StatusSuccess))
		if err != nil {
			e.log.Error("[Engine] Job %s condition: %v", jp.Name, err)
		}
		if err != nil || !ok {
			e.recordSkippedJob(ctx, plan, jp)
			return contracts.StatusSkipped
		}
	}

	row := &store.Job{
		ID:        jp.ID,
		RunID:     plan.RunID,
		Name:      jp.Name,
		Status:    contracts.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := e.store.SaveJob(ctx, row); err != nil {
		e.log.Error("[Engine] Failed to save job %s: %v", jp.Name, err)
	}
	e.publishJobEvent(ctx, plan.RunID, jp, contracts.StatusRunning, 0)
	e.log.Info("[Engine] Job %s started", jp.Name)

	timeout := DefaultJobTimeout
	if jp.Job.TimeoutMinutes > 0 {
		timeout = time.Duration(jp.Job.TimeoutMinutes) * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := &jobLog{masker: masker, store: e.store, jobID: jp.ID}
	exports := map[string]string{}
	jobOK := true
	lastExit := 0

	for i := range jp.Job.Steps {
		step := &jp.Job.Steps[i]
		status := contracts.StatusSuccess
		if !jobOK {
			status = contracts.StatusFailed
		} else if jobCtx.Err() != nil {
			status = contracts.StatusCanceled
		}
		ectx := jobExprContext(base, jp.Combo, status)

		if !e.shouldRunStep(step, status, ectx, jp.Name) {
			e.publishStepEvent(ctx, plan.RunID, jp, i, step.DisplayName(), contracts.StatusSkipped, 0)
			continue
		}

		e.publishStepEvent(ctx, plan.RunID, jp, i, step.DisplayName(), contracts.StatusRunning, 0)
		log.Write("[" + jp.Name + "] " + step.DisplayName())

		code, err := e.runStep(jobCtx, plan, step, jp, ectx, exports, log.Write)
		stepStatus := contracts.StatusSuccess
		switch {
		case err != nil && jobCtx.Err() != nil:
			stepStatus = contracts.StatusCanceled
		case err != nil || code != 0:
			stepStatus = contracts.StatusFailed
		}
		if stepStatus == contracts.StatusFailed && err != nil {
			log.Write(fmt.Sprintf("Error: %v", err))
			if code == 0 {
				code = 1
			}
		}

		e.publishStepEvent(ctx, plan.RunID, jp, i, step.DisplayName(), stepStatus, code)

		if stepStatus == contracts.StatusFailed && !step.ContinueOnError {
			jobOK = false
			lastExit = code
		}
	}

	final := contracts.StatusSuccess
	switch {
	case !jobOK:
		final = contracts.StatusFailed
	case jobCtx.Err() != nil:
		final = contracts.StatusCanceled
	}

	if final != contracts.StatusCanceled {
		e.collectReports(plan, jp, jobExprContext(base, jp.Combo, final), log.Write)
	}
	e.publishLogChunks(plan, jp, log.String())

	if err := e.store.UpdateJobStatus(context.Background(), jp.ID, final, lastExit); err != nil {
		e.log.Error("[Engine] Failed to update job %s: %v", jp.Name, err)
	}
	e.publishJobEvent(ctx, plan.RunID, jp, final, lastExit)
	e.log.Info("[Engine] Job %s finished: %s", jp.Name, final)
	return final
}

// shouldRunStep applies the step condition. A step with no condition
// runs while all prior steps succeeded; a condition without a status
// function keeps that implicit requirement.
func (e *Engine) shouldRunStep(step *workflow.Step, status string, ectx expr.Context, jobName string) bool {
	implicit := status == contracts.StatusSuccess
	if step.If == "" {
		return implicit
	}
	ok, err := expr.EvalBool(step.If, ectx)
	if err != nil {
		e.log.Error("[Engine] Step %q condition in %s: %v", step.DisplayName(), jobName, err)
		return false
	}
	if !hasStatusFunction(step.If) {
		return implicit && ok
	}
	return ok
}

// runStep executes one step, either a built-in action or a script.
func (e *Engine) runStep(ctx context.Context, plan *Plan, step *workflow.Step, jp *JobPlan, ectx expr.Context, exports map[string]string, sink shell.Sink) (int, error) {
	with, err := expandMap(step.With, ectx)
	if err != nil {
		return 1, err
	}

	if step.Uses != "" {
		handler, err := lookupAction(step.Uses)
		if err != nil {
			return 1, err
		}
		st := &stepState{
			workspace: e.workspace,
			sha:       ectx.Lookup("github.sha"),
			with:      with,
			exports:   exports,
			sink:      sink,
		}
		if err := handler(st); err != nil {
			return 1, err
		}
		return 0, nil
	}

	script, err := expr.Expand(step.Run, ectx)
	if err != nil {
		return 1, err
	}
	stepEnv, err := expandMap(step.Env, ectx)
	if err != nil {
		return 1, err
	}
	jobEnv, err := expandMap(jp.Job.Env, ectx)
	if err != nil {
		return 1, err
	}
	dir := e.workspace
	if step.WorkingDirectory != "" {
		wd, err := expr.Expand(step.WorkingDirectory, ectx)
		if err != nil {
			return 1, err
		}
		dir = wd
	}

	cmd := shell.Command{
		Script: script,
		Shell:  step.Shell,
		Dir:    dir,
		Env:    shell.MergeEnv(e.runnerEnv(jp, ectx), plan.Workflow.Env, jobEnv, exports, stepEnv),
	}
	return shell.Run(ctx, cmd, sink)
}

// runnerEnv is the environment every script step sees, mirroring the
// variables hosted runners export.
func (e *Engine) runnerEnv(jp *JobPlan, ectx expr.Context) map[string]string {
	env := map[string]string{
		"CI":                "true",
		"KILN":              "true",
		"GITHUB_ACTIONS":    "true",
		"GITHUB_WORKFLOW":   ectx.Lookup("github.workflow"),
		"GITHUB_REF":        ectx.Lookup("github.ref"),
		"GITHUB_REF_NAME":   ectx.Lookup("github.ref_name"),
		"GITHUB_SHA":        ectx.Lookup("github.sha"),
		"GITHUB_ACTOR":      ectx.Lookup("github.actor"),
		"GITHUB_EVENT_NAME": ectx.Lookup("github.event_name"),
		"GITHUB_RUN_ID":     ectx.Lookup("github.run_id"),
		"GITHUB_JOB":        jp.WorkflowJobID,
		"GITHUB_REPOSITORY": ectx.Lookup("github.repository"),
		"GITHUB_WORKSPACE":  e.workspace,
	}
	for axis, value := range jp.Combo {
		env["MATRIX_"+envKey(axis)] = value
	}
	return env
}

// envKey converts a matrix axis name to environment variable form,
// e.g. "python-version" to "PYTHON_VERSION".
func envKey(axis string) string {
	key := strings.ToUpper(axis)
	key = strings.ReplaceAll(key, "-", "_")
	return strings.ReplaceAll(key, ".", "_")
}

// collectReports parses JUnit reports declared by steps and records the
// failures as annotations. The glob goes through the leg's expression
// context so matrix legs can declare distinct report paths.
func (e *Engine) collectReports(plan *Plan, jp *JobPlan, ectx expr.Context, sink shell.Sink) {
	for _, step := range jp.Job.Steps {
		glob := step.With["reports"]
		if glob == "" {
			continue
		}
		if expanded, err := expr.Expand(glob, ectx); err == nil {
			glob = expanded
		} else {
			e.log.Error("[Engine] Report glob for %s: %v", jp.Name, err)
			continue
		}
		failures, err := junit.CollectReports(e.workspace, glob)
		if err != nil {
			e.log.Error("[Engine] Report collection for %s: %v", jp.Name, err)
			continue
		}
		for _, tf := range failures {
			a := tf.ToAnnotation(plan.RunID, jp.ID, jp.Name)
			if err := e.store.SaveAnnotation(context.Background(), &a); err != nil {
				e.log.Error("[Engine] Failed to save annotation: %v", err)
				continue
			}
			data, err := json.Marshal(a)
			if err != nil {
				continue
			}
			if err := e.broker.Publish(context.Background(), contracts.TopicAnnotations, a.RunID, data); err != nil {
				e.log.Error("[Engine] Failed to publish annotation: %v", err)
			}
		}
		if len(failures) > 0 {
			sink(fmt.Sprintf("%d test failure(s) collected from %s", len(failures), glob))
		}
	}
}

// publishLogChunks ships the completed job log to the annotation agent.
func (e *Engine) publishLogChunks(plan *Plan, jp *JobPlan, content string) {
	meta := map[string]string{"workflow": plan.Workflow.Name, "event": plan.Event.Kind}
	for _, chunk := range ingest.ChunkLog(content, plan.RunID, jp.ID, jp.Name, meta) {
		data, err := json.Marshal(chunk)
		if err != nil {
			e.log.Error("[Engine] Failed to marshal log chunk: %v", err)
			continue
		}
		if err := e.broker.Publish(context.Background(), contracts.TopicLogsRaw, plan.RunID, data); err != nil {
			e.log.Error("[Engine] Failed to publish log chunk: %v", err)
		}
	}
}

// expandMap evaluates expressions in every value of a map.
func expandMap(in map[string]string, ectx expr.Context) (map[string]string, error) {
	if len(in) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		expanded, err := expr.Expand(v, ectx)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}
