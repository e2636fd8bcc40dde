package buildkite

import (
	"strings"
	"testing"
)

func TestConvert_CommandSteps(t *testing.T) {
	doc := `
env:
  CI: "true"
steps:
  - label: "build"
    key: build
    command: make build
  - label: "lint"
    key: lint
    command: make lint
    soft_fail: true
`
	wf, err := Convert([]byte(doc))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if len(wf.JobOrder) != 2 {
		t.Fatalf("Expected 2 jobs, got %v", wf.JobOrder)
	}
	build := wf.Jobs["build"]
	if build.Name != "build" || build.Steps[0].Run != "make build" {
		t.Errorf("Unexpected build job %+v", build)
	}
	if wf.Env["CI"] != "true" {
		t.Errorf("Expected pipeline env carried, got %v", wf.Env)
	}

	lint := wf.Jobs["lint"]
	if !lint.Steps[0].ContinueOnError {
		t.Error("Expected soft_fail mapped to continue-on-error")
	}
}

func TestConvert_WaitBarrier(t *testing.T) {
	doc := `
steps:
  - key: a
    command: "true"
  - key: b
    command: "true"
  - wait
  - key: c
    command: "true"
`
	wf, err := Convert([]byte(doc))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	c := wf.Jobs["c"]
	if len(c.Needs) != 2 {
		t.Fatalf("Expected c to need a and b, got %v", c.Needs)
	}
}

func TestConvert_ExplicitDependsOnWins(t *testing.T) {
	doc := `
steps:
  - key: a
    command: "true"
  - wait
  - key: b
    command: "true"
    depends_on: a
`
	wf, err := Convert([]byte(doc))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(wf.Jobs["b"].Needs) != 1 || wf.Jobs["b"].Needs[0] != "a" {
		t.Errorf("Expected explicit depends_on kept, got %v", wf.Jobs["b"].Needs)
	}
}

func TestConvert_Matrix(t *testing.T) {
	doc := `
steps:
  - key: test
    label: "test {{matrix}}"
    command: "tox -e py{{matrix}}"
    matrix: ["3.9", "3.10", "3.11"]
`
	wf, err := Convert([]byte(doc))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	job := wf.Jobs["test"]
	if job.Strategy == nil || job.Strategy.Matrix == nil {
		t.Fatal("Expected matrix strategy")
	}
	axes := job.Strategy.Matrix.Axes
	if len(axes) != 1 || axes[0].Name != "value" || len(axes[0].Values) != 3 {
		t.Fatalf("Unexpected axes %v", axes)
	}
	if !strings.Contains(job.Steps[0].Run, "${{ matrix.value }}") {
		t.Errorf("Expected {{matrix}} rewritten, got %q", job.Steps[0].Run)
	}
}

func TestConvert_NoSteps(t *testing.T) {
	if _, err := Convert([]byte("steps: []\n")); err == nil {
		t.Fatal("Expected error for empty pipeline")
	}
}

func TestDetect(t *testing.T) {
	f := &Frontend{}
	if !f.Detect(".buildkite/pipeline.yml", nil) {
		t.Error("Expected .buildkite path detected")
	}
	if !f.Detect("pipeline.yml", []byte("steps:\n  - command: make\n")) {
		t.Error("Expected steps: document detected")
	}
	if f.Detect("workflow.yml", []byte("on: push\njobs: {}\n")) {
		t.Error("Did not expect GitHub Actions document detected")
	}
}
