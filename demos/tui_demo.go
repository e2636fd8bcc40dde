// Demo program to showcase the kiln run TUI with a realistic dataset.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"kiln-runner/src/contracts"
	"kiln-runner/src/store"
	"kiln-runner/src/tui"
)

func main() {
	fmt.Println("Seeding sample run data...")
	st, runID := seedSampleRun()

	fmt.Println("Launching TUI...")
	time.Sleep(300 * time.Millisecond)

	model := tui.NewRunModel(st, nil, runID)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}

func seedSampleRun() (store.Store, string) {
	ctx := context.Background()
	st := store.NewInMemoryStore()

	run := &store.Run{
		ID:               "run-demo-0001",
		WorkflowName:     "ci",
		WorkflowPath:     ".github/workflows/ci.yml",
		EventKind:        "push",
		Ref:              "refs/heads/master",
		SHA:              "4bf51c7",
		ConcurrencyGroup: "ci-refs/heads/master",
		Status:           contracts.StatusFailed,
	}
	if err := st.CreateRun(ctx, run); err != nil {
		panic(err)
	}

	versions := []string{"3.8", "3.9", "3.10", "3.11", "3.12"}
	for i, v := range versions {
		job := &store.Job{
			ID:        fmt.Sprintf("job-%d", i),
			RunID:     run.ID,
			Name:      fmt.Sprintf("test (%s)", v),
			Status:    contracts.StatusSuccess,
			StartedAt: time.Now().Add(-3 * time.Minute),
		}
		job.FinishedAt = job.StartedAt.Add(2 * time.Minute)

		log := sampleLog(v, false)
		if v == "3.12" {
			job.Status = contracts.StatusFailed
			job.ExitCode = 1
			log = sampleLog(v, true)
		}
		if err := st.SaveJob(ctx, job); err != nil {
			panic(err)
		}
		if err := st.AppendJobLog(ctx, job.ID, log); err != nil {
			panic(err)
		}
	}

	return st, run.ID
}

func sampleLog(version string, failed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[test (%s)] actions/checkout@v4\n", version)
	b.WriteString("Using working tree at 4bf51c7\n")
	fmt.Fprintf(&b, "[test (%s)] actions/setup-python@v5\n", version)
	fmt.Fprintf(&b, "Requested python %s\n", version)
	fmt.Fprintf(&b, "[test (%s)] Install dependencies\n", version)
	b.WriteString("Collecting numpy\nCollecting scipy\nCollecting pandas\n")
	b.WriteString("Successfully installed numpy scipy pandas biopython matplotlib\n")
	fmt.Fprintf(&b, "[test (%s)] Run tests\n", version)
	if failed {
		b.WriteString("Traceback (most recent call last):\n")
		b.WriteString(`  File "/app/tests/test_align.py", line 44, in test_gap_penalty` + "\n")
		b.WriteString("    assert score == -11\n")
		b.WriteString("AssertionError: assert -12 == -11\n")
		b.WriteString("FAILED tests/test_align.py::test_gap_penalty\n")
		b.WriteString("1 failed, 127 passed in 41.3s\n")
	} else {
		b.WriteString("128 passed in 38.9s\n")
	}
	return b.String()
}
