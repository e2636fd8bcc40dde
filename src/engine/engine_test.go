package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"kiln-runner/src/contracts"
	"kiln-runner/src/event"
	"kiln-runner/src/store"
	"kiln-runner/src/workflow"
)

func parseWorkflow(t *testing.T, src string) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Failed to parse workflow: %v", err)
	}
	if err := workflow.Validate(wf); err != nil {
		t.Fatalf("Workflow invalid: %v", err)
	}
	return wf
}

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	eng := New(Options{Store: st, Workspace: t.TempDir()})
	return eng, st
}

func TestRun_Success(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: echo hello
      - run: echo world
`)
	eng, st := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc123", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != contracts.StatusSuccess {
		t.Errorf("Expected run status success, got %s", run.Status)
	}

	jobs, err := st.GetJobs(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Status != contracts.StatusSuccess {
		t.Errorf("Expected job status success, got %s", jobs[0].Status)
	}

	log, err := st.GetJobLog(context.Background(), jobs[0].ID)
	if err != nil {
		t.Fatalf("GetJobLog failed: %v", err)
	}
	if !strings.Contains(log, "hello") || !strings.Contains(log, "world") {
		t.Errorf("Expected both step outputs in log, got:\n%s", log)
	}
}

func TestRun_StepFailureAbortsJob(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: echo before
      - run: exit 3
      - run: echo after
`)
	eng, st := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != contracts.StatusFailed {
		t.Errorf("Expected run status failed, got %s", run.Status)
	}

	jobs, _ := st.GetJobs(context.Background(), run.ID)
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Status != contracts.StatusFailed {
		t.Errorf("Expected job status failed, got %s", jobs[0].Status)
	}
	if jobs[0].ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", jobs[0].ExitCode)
	}

	log, _ := st.GetJobLog(context.Background(), jobs[0].ID)
	if strings.Contains(log, "after") {
		t.Errorf("Expected step after failure to be skipped, got:\n%s", log)
	}
}

func TestRun_ContinueOnError(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: exit 1
        continue-on-error: true
      - run: echo recovered
`)
	eng, st := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != contracts.StatusSuccess {
		t.Errorf("Expected run status success, got %s", run.Status)
	}

	jobs, _ := st.GetJobs(context.Background(), run.ID)
	log, _ := st.GetJobLog(context.Background(), jobs[0].ID)
	if !strings.Contains(log, "recovered") {
		t.Errorf("Expected step after continue-on-error failure to run, got:\n%s", log)
	}
}

func TestRun_MatrixFanOut(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  test:
    runs-on: ubuntu-latest
    strategy:
      fail-fast: false
      matrix:
        python-version: ["3.8", "3.9", "3.10", "3.11", "3.12"]
    steps:
      - run: echo "version ${{ matrix.python-version }}"
`)
	eng, st := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != contracts.StatusSuccess {
		t.Errorf("Expected run status success, got %s", run.Status)
	}

	jobs, _ := st.GetJobs(context.Background(), run.ID)
	if len(jobs) != 5 {
		t.Fatalf("Expected 5 matrix jobs, got %d", len(jobs))
	}
	if jobs[2].Name != "test (3.10)" {
		t.Errorf("Expected job name 'test (3.10)', got %q", jobs[2].Name)
	}
	log, _ := st.GetJobLog(context.Background(), jobs[2].ID)
	if !strings.Contains(log, "version 3.10") {
		t.Errorf("Expected expanded matrix value in log, got:\n%s", log)
	}
}

func TestRun_FailFastFalseSiblingsComplete(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  test:
    runs-on: ubuntu-latest
    strategy:
      fail-fast: false
      matrix:
        leg: ["ok", "bad"]
    steps:
      - run: |
          if [ "${{ matrix.leg }}" = "bad" ]; then exit 1; fi
          echo fine
`)
	eng, st := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != contracts.StatusFailed {
		t.Errorf("Expected run status failed, got %s", run.Status)
	}

	jobs, _ := st.GetJobs(context.Background(), run.ID)
	byName := map[string]store.Job{}
	for _, j := range jobs {
		byName[j.Name] = j
	}
	if got := byName["test (ok)"].Status; got != contracts.StatusSuccess {
		t.Errorf("Expected healthy leg to succeed, got %s", got)
	}
	if got := byName["test (bad)"].Status; got != contracts.StatusFailed {
		t.Errorf("Expected failing leg to fail, got %s", got)
	}
}

func TestRun_FailFastCancelsSiblings(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  test:
    runs-on: ubuntu-latest
    strategy:
      max-parallel: 2
      matrix:
        leg: ["bad", "slow"]
    steps:
      - run: |
          if [ "${{ matrix.leg }}" = "bad" ]; then exit 1; fi
          sleep 30
`)
	eng, st := newTestEngine(t)

	start := time.Now()
	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Second {
		t.Fatalf("Expected fail-fast to cancel the slow leg, run took %s", elapsed)
	}
	if run.Status != contracts.StatusFailed {
		t.Errorf("Expected run status failed, got %s", run.Status)
	}

	jobs, _ := st.GetJobs(context.Background(), run.ID)
	statuses := map[string]string{}
	for _, j := range jobs {
		statuses[j.Name] = j.Status
	}
	if statuses["test (bad)"] != contracts.StatusFailed {
		t.Errorf("Expected failing leg failed, got %s", statuses["test (bad)"])
	}
	if statuses["test (slow)"] != contracts.StatusCanceled {
		t.Errorf("Expected slow leg canceled, got %s", statuses["test (slow)"])
	}
}

func TestRun_NeedsOrderingAndSkip(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: exit 1
  deploy:
    runs-on: ubuntu-latest
    needs: [build]
    steps:
      - run: echo deployed
`)
	eng, st := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != contracts.StatusFailed {
		t.Errorf("Expected run status failed, got %s", run.Status)
	}

	jobs, _ := st.GetJobs(context.Background(), run.ID)
	statuses := map[string]string{}
	for _, j := range jobs {
		statuses[j.Name] = j.Status
	}
	if statuses["build"] != contracts.StatusFailed {
		t.Errorf("Expected build failed, got %s", statuses["build"])
	}
	if statuses["deploy"] != contracts.StatusSkipped {
		t.Errorf("Expected deploy skipped after failed need, got %s", statuses["deploy"])
	}
}

func TestRun_StepConditionOnFailure(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: exit 1
      - run: echo cleanup
        if: always()
      - run: echo postmortem
        if: failure()
      - run: echo never
        if: success()
`)
	eng, st := newTestEngine(t)

	run, _ := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	jobs, _ := st.GetJobs(context.Background(), run.ID)
	log, _ := st.GetJobLog(context.Background(), jobs[0].ID)

	if !strings.Contains(log, "cleanup") {
		t.Errorf("Expected always() step to run, got:\n%s", log)
	}
	if !strings.Contains(log, "postmortem") {
		t.Errorf("Expected failure() step to run, got:\n%s", log)
	}
	if strings.Contains(log, "never") {
		t.Errorf("Expected success() step to be skipped, got:\n%s", log)
	}
}

func TestRun_SecretMasking(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: echo "token is ${{ secrets.API_TOKEN }}"
      - run: echo "::add-mask::hunter2"
      - run: echo "password hunter2 leaked"
`)
	st := store.NewInMemoryStore()
	eng := New(Options{
		Store:     st,
		Workspace: t.TempDir(),
		Secrets:   map[string]string{"API_TOKEN": "s3cr3t-value"},
	})

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	jobs, _ := st.GetJobs(context.Background(), run.ID)
	log, _ := st.GetJobLog(context.Background(), jobs[0].ID)

	if strings.Contains(log, "s3cr3t-value") {
		t.Errorf("Expected secret masked in log, got:\n%s", log)
	}
	if strings.Contains(log, "hunter2") {
		t.Errorf("Expected add-mask value masked in log, got:\n%s", log)
	}
	if !strings.Contains(log, "token is ***") {
		t.Errorf("Expected mask replacement in log, got:\n%s", log)
	}
}

func TestRun_BuiltinActions(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-python@v5
        with:
          python-version: "${{ matrix.python-version }}"
      - run: echo "requested $KILN_PYTHON_VERSION"
    strategy:
      matrix:
        python-version: ["3.12"]
`)
	eng, st := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != contracts.StatusSuccess {
		t.Errorf("Expected run status success, got %s", run.Status)
	}
	jobs, _ := st.GetJobs(context.Background(), run.ID)
	log, _ := st.GetJobLog(context.Background(), jobs[0].ID)
	if !strings.Contains(log, "requested 3.12") {
		t.Errorf("Expected setup action export visible to later step, got:\n%s", log)
	}
}

func TestRun_UnknownActionFailsJob(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: acme/deploy-everywhere@v1
`)
	eng, _ := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != contracts.StatusFailed {
		t.Errorf("Expected run status failed for unknown action, got %s", run.Status)
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: echo hi
`)
	eng, _ := newTestEngine(t)

	sub, err := eng.broker.Subscribe(context.Background(), contracts.TopicRunEvents, "test")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	documented := map[string]bool{
		contracts.StatusPending:  true,
		contracts.StatusRunning:  true,
		contracts.StatusSuccess:  true,
		contracts.StatusFailed:   true,
		contracts.StatusCanceled: true,
		contracts.StatusSkipped:  true,
	}

	var events []contracts.RunEvent
	deadline := time.After(2 * time.Second)
	// pending, running, success for the run; running, success for the
	// job; running, success for the step.
	for len(events) < 7 {
		select {
		case msg := <-sub:
			if msg.Key != run.ID {
				t.Errorf("Expected event key %s, got %s", run.ID, msg.Key)
			}
			var ev contracts.RunEvent
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				t.Fatalf("Failed to decode run event: %v", err)
			}
			if !documented[ev.Status] {
				t.Errorf("Expected a documented status, got %q (scope %s)", ev.Status, ev.Scope)
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("Expected 7 run events, got %d", len(events))
		}
	}
	if events[0].Scope != "run" || events[0].Status != contracts.StatusPending {
		t.Errorf("Expected first event run/pending, got %s/%s", events[0].Scope, events[0].Status)
	}
}

func TestRun_ConcurrencyCancelInProgress(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
concurrency:
  group: ${{ github.workflow }}-${{ github.ref }}
  cancel-in-progress: true
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: sleep 30
`)
	eng, st := newTestEngine(t)

	firstDone := make(chan *store.Run, 1)
	go func() {
		run, _ := eng.Run(context.Background(), wf, event.NewPush("master", "old", "dev"))
		firstDone <- run
	}()

	// Wait for the first run to be executing before starting the second.
	waitForRunning(t, st)

	second := parseWorkflow(t, `
name: CI
on: push
concurrency:
  group: ${{ github.workflow }}-${{ github.ref }}
  cancel-in-progress: true
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: echo quick
`)
	run2, err := eng.Run(context.Background(), second, event.NewPush("master", "new", "dev"))
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if run2.Status != contracts.StatusSuccess {
		t.Errorf("Expected second run success, got %s", run2.Status)
	}

	select {
	case run1 := <-firstDone:
		if run1.Status != contracts.StatusCanceled {
			t.Errorf("Expected first run canceled, got %s", run1.Status)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("First run did not finish after cancellation")
	}
}

// Report globs carrying matrix expressions resolve per leg.
func TestRun_ReportGlobExpansion(t *testing.T) {
	wf := parseWorkflow(t, `
name: CI
on: push
jobs:
  test:
    runs-on: ubuntu-latest
    strategy:
      matrix:
        v: ["3.12"]
    steps:
      - name: Run tests
        run: |
          mkdir -p reports-${{ matrix.v }}
          printf '%s' '<testsuite name="s" tests="1" failures="1"><testcase name="test_boom" classname="pkg.Case"><failure message="boom">trace line</failure></testcase></testsuite>' > reports-${{ matrix.v }}/junit.xml
        with:
          reports: reports-${{ matrix.v }}/*.xml
`)
	eng, st := newTestEngine(t)

	run, err := eng.Run(context.Background(), wf, event.NewPush("master", "abc", "dev"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	anns, err := st.GetAnnotations(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetAnnotations failed: %v", err)
	}
	if len(anns) != 1 {
		t.Fatalf("Expected 1 report annotation, got %d", len(anns))
	}
	if anns[0].Matcher != "junit" {
		t.Errorf("Expected junit matcher, got %s", anns[0].Matcher)
	}
	if !strings.Contains(anns[0].RawMessage, "test_boom") {
		t.Errorf("Expected failure message to name the test, got %q", anns[0].RawMessage)
	}
}

func waitForRunning(t *testing.T, st store.Store) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runs, _ := st.ListRuns(context.Background(), 0)
		for _, r := range runs {
			if r.Status == contracts.StatusRunning {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("No run reached running state")
}
