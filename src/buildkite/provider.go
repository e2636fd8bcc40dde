// Package buildkite translates Buildkite pipeline files into the kiln
// workflow model so both dialects run through the same engine.
package buildkite

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"kiln-runner/src/provider"
	"kiln-runner/src/workflow"
)

// Frontend loads .buildkite/pipeline.yml files.
type Frontend struct{}

func init() {
	provider.Register(&Frontend{})
}

// Name returns the format name.
func (f *Frontend) Name() string { return "buildkite" }

// Detect accepts .buildkite/ paths and documents with a top-level
// steps: list (the Buildkite pipeline shape).
func (f *Frontend) Detect(path string, data []byte) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	if strings.Contains(normalized, ".buildkite/") {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(string(data)), "steps:")
}

// Load parses a Buildkite pipeline and converts it.
func (f *Frontend) Load(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	wf, err := Convert(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	wf.Path = path
	if wf.Name == "" {
		wf.Name = path
	}
	return wf, nil
}

// Convert maps the Buildkite pipeline dialect onto the workflow model:
//
//   - each command step becomes a job with a single run step
//   - key/depends_on become job IDs and needs edges
//   - a wait step becomes a barrier: later jobs need all earlier ones
//   - soft_fail maps to continue-on-error
//   - a simple matrix list becomes a "value" axis, with {{matrix}}
//     rewritten to the corresponding expression
//
// Buildkite pipelines carry no trigger section; the converted workflow
// answers push, pull_request and manual dispatch alike.
func Convert(data []byte) (*workflow.Workflow, error) {
	var doc pipelineDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(doc.Steps) == 0 {
		return nil, fmt.Errorf("pipeline declares no steps")
	}

	wf := &workflow.Workflow{
		On: workflow.Triggers{
			Push:             &workflow.BranchFilter{},
			PullRequest:      &workflow.BranchFilter{},
			WorkflowDispatch: true,
		},
		Env:  doc.Env,
		Jobs: map[string]*workflow.Job{},
	}

	var barrier []string // job IDs before the last wait
	var current []string // job IDs since the last wait

	for i, raw := range doc.Steps {
		if raw.isWait() {
			barrier = append(barrier, current...)
			current = nil
			continue
		}

		job, err := convertStep(i, raw)
		if err != nil {
			return nil, err
		}
		if len(job.Needs) == 0 {
			job.Needs = append([]string{}, barrier...)
		}

		if _, dup := wf.Jobs[job.ID]; dup {
			return nil, fmt.Errorf("duplicate step key %q", job.ID)
		}
		wf.Jobs[job.ID] = job
		wf.JobOrder = append(wf.JobOrder, job.ID)
		current = append(current, job.ID)
	}

	if err := workflow.Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func convertStep(index int, s pipelineStep) (*workflow.Job, error) {
	id := s.Key
	if id == "" {
		id = fmt.Sprintf("step-%d", index+1)
	}

	script := strings.Join(s.Commands, "\n")
	if script == "" {
		return nil, fmt.Errorf("step %q has no command", id)
	}

	job := &workflow.Job{
		ID:    id,
		Name:  s.Label,
		Needs: s.DependsOn,
		Env:   s.Env,
	}

	if len(s.Matrix) > 0 {
		script = strings.ReplaceAll(script, "{{matrix}}", "${{ matrix.value }}")
		job.Strategy = &workflow.Strategy{
			Matrix: &workflow.Matrix{
				Axes: []workflow.Axis{{Name: "value", Values: s.Matrix}},
			},
		}
	}

	job.Steps = []workflow.Step{{
		Name:            s.Label,
		Run:             script,
		ContinueOnError: s.SoftFail,
	}}
	return job, nil
}

// pipelineDoc is the subset of the Buildkite pipeline schema kiln
// understands.
type pipelineDoc struct {
	Env   map[string]string `yaml:"env"`
	Steps []pipelineStep    `yaml:"steps"`
}

type pipelineStep struct {
	wait      bool
	Label     string
	Key       string
	Commands  []string
	Env       map[string]string
	DependsOn []string
	SoftFail  bool
	Matrix    []string
}

func (s *pipelineStep) isWait() bool { return s.wait }

// UnmarshalYAML handles the three step spellings: the scalar "wait",
// the mapping {wait: ~} and a command step mapping.
func (s *pipelineStep) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value == "wait" {
			s.wait = true
			return nil
		}
		return fmt.Errorf("unsupported step %q at line %d", node.Value, node.Line)
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected step mapping at line %d", node.Line)
	}

	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "wait":
			s.wait = true
		case "label", "name":
			s.Label = val.Value
		case "key", "id":
			s.Key = val.Value
		case "command", "commands":
			list, err := scalarList(val)
			if err != nil {
				return fmt.Errorf("command: %w", err)
			}
			s.Commands = list
		case "env":
			env := map[string]string{}
			for j := 0; j+1 < len(val.Content); j += 2 {
				env[val.Content[j].Value] = val.Content[j+1].Value
			}
			s.Env = env
		case "depends_on":
			list, err := scalarList(val)
			if err != nil {
				return fmt.Errorf("depends_on: %w", err)
			}
			s.DependsOn = list
		case "soft_fail":
			// soft_fail also accepts exit-code mappings; any non-false
			// value counts as soft.
			if val.Kind == yaml.ScalarNode {
				b, err := strconv.ParseBool(val.Value)
				if err != nil {
					return fmt.Errorf("soft_fail: %w", err)
				}
				s.SoftFail = b
			} else {
				s.SoftFail = true
			}
		case "matrix":
			list, err := scalarList(val)
			if err != nil {
				return fmt.Errorf("matrix: %w", err)
			}
			s.Matrix = list
		}
	}
	return nil
}

func scalarList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			out = append(out, item.Value)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string or list at line %d", node.Line)
}
