package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent = errors.New("unknown trigger event")
	ErrNoTriggers   = errors.New("workflow declares no triggers")
	ErrNoJobs       = errors.New("workflow declares no jobs")
	ErrNeedsCycle   = errors.New("job dependency cycle")
)

// Validate checks structural invariants Parse cannot express positionally.
func Validate(wf *Workflow) error {
	if wf.On.Push == nil && wf.On.PullRequest == nil && !wf.On.WorkflowDispatch {
		return ErrNoTriggers
	}
	if len(wf.Jobs) == 0 {
		return ErrNoJobs
	}

	for _, id := range wf.JobOrder {
		job := wf.Jobs[id]
		if len(job.Steps) == 0 {
			return fmt.Errorf("jobs.%s: no steps", id)
		}
		for i, step := range job.Steps {
			if step.Uses != "" && step.Run != "" {
				return fmt.Errorf("jobs.%s step %d: both uses and run set", id, i)
			}
			if step.Uses == "" && step.Run == "" {
				return fmt.Errorf("jobs.%s step %d: neither uses nor run set", id, i)
			}
		}
		for _, dep := range job.Needs {
			if _, ok := wf.Jobs[dep]; !ok {
				return fmt.Errorf("jobs.%s: needs unknown job %q", id, dep)
			}
		}
		if job.TimeoutMinutes < 0 {
			return fmt.Errorf("jobs.%s: negative timeout-minutes", id)
		}
	}

	return checkNeedsCycles(wf)
}

// checkNeedsCycles runs a three-color DFS over the needs graph.
func checkNeedsCycles(wf *Workflow) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(wf.Jobs))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("%w involving job %q", ErrNeedsCycle, id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range wf.Jobs[id].Needs {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range wf.JobOrder {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
