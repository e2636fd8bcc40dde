package workflow

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ParseFile loads and validates a workflow document from disk.
func ParseFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	wf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	wf.Path = path
	if wf.Name == "" {
		wf.Name = path
	}
	return wf, nil
}

// Parse decodes and validates a workflow document.
func Parse(data []byte) (*Workflow, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty workflow document")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("workflow must be a mapping, got %s at line %d", kindName(root.Kind), root.Line)
	}

	wf := &Workflow{Jobs: map[string]*Job{}}

	for i := 0; i < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "name":
			wf.Name = val.Value
		case "on", "true": // yaml 1.1 parses a bare `on` key as boolean true
			triggers, err := parseTriggers(val)
			if err != nil {
				return nil, err
			}
			wf.On = *triggers
		case "concurrency":
			conc, err := parseConcurrency(val)
			if err != nil {
				return nil, err
			}
			wf.Concurrency = *conc
		case "env":
			env, err := parseStringMap(val)
			if err != nil {
				return nil, fmt.Errorf("env: %w", err)
			}
			wf.Env = env
		case "jobs":
			if err := parseJobs(val, wf); err != nil {
				return nil, err
			}
		}
	}

	if err := Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// knownEvents are the trigger kinds kiln can dispatch.
var knownEvents = map[string]bool{
	"push":              true,
	"pull_request":      true,
	"workflow_dispatch": true,
}

func parseTriggers(node *yaml.Node) (*Triggers, error) {
	t := &Triggers{}

	enable := func(event string, filter *yaml.Node) error {
		if !knownEvents[event] {
			return fmt.Errorf("%w: %q at line %d", ErrUnknownEvent, event, node.Line)
		}
		var bf *BranchFilter
		if filter != nil {
			parsed, err := parseBranchFilter(filter)
			if err != nil {
				return fmt.Errorf("on.%s: %w", event, err)
			}
			bf = parsed
		} else {
			bf = &BranchFilter{}
		}
		switch event {
		case "push":
			t.Push = bf
		case "pull_request":
			t.PullRequest = bf
		case "workflow_dispatch":
			t.WorkflowDispatch = true
		}
		return nil
	}

	switch node.Kind {
	case yaml.ScalarNode:
		return t, enable(node.Value, nil)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if err := enable(item.Value, nil); err != nil {
				return nil, err
			}
		}
		return t, nil
	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			var filter *yaml.Node
			if val.Kind == yaml.MappingNode {
				filter = val
			}
			if err := enable(key.Value, filter); err != nil {
				return nil, err
			}
		}
		return t, nil
	}
	return nil, fmt.Errorf("on: expected string, list or mapping at line %d", node.Line)
}

func parseBranchFilter(node *yaml.Node) (*BranchFilter, error) {
	bf := &BranchFilter{}
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		list, err := parseStringList(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key.Value, err)
		}
		switch key.Value {
		case "branches":
			bf.Branches = list
		case "branches-ignore":
			bf.BranchesIgnore = list
		case "paths":
			bf.Paths = list
		case "paths-ignore":
			bf.PathsIgnore = list
		case "types":
			// PR activity types; kiln treats every PR event as "synchronize"
			// so type filters are accepted and ignored.
		default:
			return nil, fmt.Errorf("unknown trigger filter %q at line %d", key.Value, key.Line)
		}
	}
	return bf, nil
}

func parseConcurrency(node *yaml.Node) (*Concurrency, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return &Concurrency{Group: node.Value}, nil
	case yaml.MappingNode:
		c := &Concurrency{}
		for i := 0; i < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			switch key.Value {
			case "group":
				c.Group = val.Value
			case "cancel-in-progress":
				b, err := strconv.ParseBool(val.Value)
				if err != nil {
					return nil, fmt.Errorf("concurrency.cancel-in-progress: %w", err)
				}
				c.CancelInProgress = b
			}
		}
		return c, nil
	}
	return nil, fmt.Errorf("concurrency: expected string or mapping at line %d", node.Line)
}

func parseJobs(node *yaml.Node, wf *Workflow) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs: expected mapping at line %d", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		job, err := parseJob(key.Value, val)
		if err != nil {
			return err
		}
		wf.Jobs[key.Value] = job
		wf.JobOrder = append(wf.JobOrder, key.Value)
	}
	return nil
}

func parseJob(id string, node *yaml.Node) (*Job, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("jobs.%s: expected mapping at line %d", id, node.Line)
	}
	job := &Job{ID: id}
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var err error
		switch key.Value {
		case "name":
			job.Name = val.Value
		case "runs-on":
			job.RunsOn, err = parseStringList(val)
		case "needs":
			job.Needs, err = parseStringList(val)
		case "if":
			job.If = val.Value
		case "timeout-minutes":
			job.TimeoutMinutes, err = strconv.Atoi(val.Value)
		case "env":
			job.Env, err = parseStringMap(val)
		case "strategy":
			job.Strategy, err = parseStrategy(val)
		case "steps":
			job.Steps, err = parseSteps(val)
		}
		if err != nil {
			return nil, fmt.Errorf("jobs.%s.%s: %w", id, key.Value, err)
		}
	}
	return job, nil
}

func parseStrategy(node *yaml.Node) (*Strategy, error) {
	s := &Strategy{}
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "matrix":
			m, err := parseMatrix(val)
			if err != nil {
				return nil, err
			}
			s.Matrix = m
		case "fail-fast":
			b, err := strconv.ParseBool(val.Value)
			if err != nil {
				return nil, fmt.Errorf("fail-fast: %w", err)
			}
			s.FailFast = &b
		case "max-parallel":
			n, err := strconv.Atoi(val.Value)
			if err != nil {
				return nil, fmt.Errorf("max-parallel: %w", err)
			}
			s.MaxParallel = n
		}
	}
	return s, nil
}

func parseMatrix(node *yaml.Node) (*Matrix, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("matrix: expected mapping at line %d", node.Line)
	}
	m := &Matrix{}
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "include", "exclude":
			if val.Kind != yaml.SequenceNode {
				return nil, fmt.Errorf("matrix.%s: expected list at line %d", key.Value, val.Line)
			}
			for _, item := range val.Content {
				combo, err := parseStringMap(item)
				if err != nil {
					return nil, fmt.Errorf("matrix.%s: %w", key.Value, err)
				}
				if key.Value == "include" {
					m.Include = append(m.Include, combo)
				} else {
					m.Exclude = append(m.Exclude, combo)
				}
			}
		default:
			values, err := parseStringList(val)
			if err != nil {
				return nil, fmt.Errorf("matrix.%s: %w", key.Value, err)
			}
			m.Axes = append(m.Axes, Axis{Name: key.Value, Values: values})
		}
	}
	return m, nil
}

func parseSteps(node *yaml.Node) ([]Step, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected list at line %d", node.Line)
	}
	steps := make([]Step, 0, len(node.Content))
	for idx, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("step %d: expected mapping at line %d", idx, item.Line)
		}
		var step Step
		for i := 0; i < len(item.Content); i += 2 {
			key, val := item.Content[i], item.Content[i+1]
			var err error
			switch key.Value {
			case "id":
				step.ID = val.Value
			case "name":
				step.Name = val.Value
			case "uses":
				step.Uses = val.Value
			case "run":
				step.Run = val.Value
			case "shell":
				step.Shell = val.Value
			case "working-directory":
				step.WorkingDirectory = val.Value
			case "if":
				step.If = val.Value
			case "with":
				step.With, err = parseStringMap(val)
			case "env":
				step.Env, err = parseStringMap(val)
			case "continue-on-error":
				step.ContinueOnError, err = strconv.ParseBool(val.Value)
			}
			if err != nil {
				return nil, fmt.Errorf("step %d (%s): %w", idx, key.Value, err)
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// parseStringList accepts a scalar or a sequence of scalars. Raw node
// values are used so unquoted version numbers like 3.10 keep their text.
func parseStringList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("expected scalar at line %d", item.Line)
			}
			out = append(out, item.Value)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string or list at line %d", node.Line)
}

// parseStringMap decodes a mapping of scalars, again by raw value.
func parseStringMap(node *yaml.Node) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected mapping at line %d", node.Line)
	}
	out := make(map[string]string, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("expected scalar value for %q at line %d", key.Value, val.Line)
		}
		out[key.Value] = val.Value
	}
	return out, nil
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
