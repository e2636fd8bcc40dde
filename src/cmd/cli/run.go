package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"kiln-runner/src/contracts"
	"kiln-runner/src/engine"
	"kiln-runner/src/event"
	"kiln-runner/src/store"
	"kiln-runner/src/tui"
	"kiln-runner/src/watch"
	"kiln-runner/src/workflow"

	kilnlog "kiln-runner/src/logger"
)

var (
	flagEvent  string
	flagBranch string
	flagNoTUI  bool
	flagDetach bool
)

var runCmd = &cobra.Command{
	Use:   "run [workflow-file]",
	Short: "Execute a workflow file locally",
	Long: `Parses a workflow file, checks its triggers against the given event
and executes every matching job with full matrix fan-out.

By default a TUI shows job progress and streaming logs. Use --no-tui
for plain console output (CI-friendly), or --detach with a configured
Redpanda broker to submit the run to remote runner agents.

Examples:
  kiln run .github/workflows/ci.yml
  kiln run ci.yml --event pull_request
  kiln run ci.yml --branch feature/parser --no-tui
  kiln run ci.yml --detach`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		wf, err := loadWorkflow(args[0])
		if err != nil {
			return err
		}
		wf.Path = args[0]

		ev := buildEvent()
		if !event.Matches(wf, ev) {
			fmt.Printf("%s workflow %s does not trigger on %s for branch %s\n",
				yellow("skipped:"), wf.Name, ev.Kind, ev.Branch)
			return nil
		}

		if flagDetach {
			return submitDetached(args[0], ev)
		}
		return executeLocally(wf, ev)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [workflow-file]",
	Short: "Re-run a workflow whenever its file changes",
	Long: `Runs the workflow once, then watches the file and re-runs it on
every save. Plain console output; stop with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lm, err := newLocalMode(appConfig, false)
		if err != nil {
			return err
		}
		defer lm.Close()

		runOnce := func(path string) {
			wf, err := loadWorkflow(path)
			if err != nil {
				fmt.Printf("%s %v\n", red("invalid:"), err)
				return
			}
			wf.Path = path
			ev := buildEvent()
			if !event.Matches(wf, ev) {
				fmt.Printf("%s no trigger for %s on %s\n", yellow("skipped:"), ev.Kind, ev.Branch)
				return
			}
			run, err := lm.engine.Run(ctx, wf, ev)
			if err != nil {
				fmt.Printf("%s %v\n", red("error:"), err)
				return
			}
			jobs, _ := lm.store.GetJobs(ctx, run.ID)
			printRunSummary(run, jobs)
		}

		runOnce(args[0])

		w := watch.New(args[0], runOnce, kilnlog.NewConsoleLogger())
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&flagEvent, "event", event.KindPush, "triggering event: push, pull_request or workflow_dispatch")
	runCmd.Flags().StringVar(&flagBranch, "branch", "", "branch the event targets (default: repository branch or KILN_DEFAULT_BRANCH)")
	runCmd.Flags().BoolVar(&flagNoTUI, "no-tui", false, "plain console output instead of the TUI")
	runCmd.Flags().BoolVar(&flagDetach, "detach", false, "submit to remote runner agents and exit (requires KILN_REDPANDA_BROKERS)")

	watchCmd.Flags().StringVar(&flagEvent, "event", event.KindPush, "triggering event")
	watchCmd.Flags().StringVar(&flagBranch, "branch", "", "branch the event targets")
}

// buildEvent derives the triggering event from the local repository and
// the command flags.
func buildEvent() event.Event {
	ev := event.FromLocalRepo(appConfig.Workspace, appConfig.DefaultBranch)
	if flagBranch != "" {
		ev = event.NewPush(flagBranch, ev.SHA, ev.Actor)
	}
	switch flagEvent {
	case event.KindPullRequest:
		pr := event.NewPullRequest(0, ev.Branch, ev.SHA, ev.Actor)
		return pr
	case event.KindWorkflowDispatch:
		ev.Kind = event.KindWorkflowDispatch
		return ev
	default:
		return ev
	}
}

// submitDetached publishes a run request for remote runner agents.
func submitDetached(path string, ev event.Event) error {
	if !appConfig.Distributed() {
		return fmt.Errorf("--detach requires KILN_REDPANDA_BROKERS to be set")
	}
	lm, err := newLocalMode(appConfig, false)
	if err != nil {
		return err
	}
	defer lm.Close()

	req := contracts.RunRequest{
		RunID:        uuid.NewString(),
		WorkflowPath: path,
		EventKind:    ev.Kind,
		Ref:          ev.Ref,
		SHA:          ev.SHA,
		Actor:        ev.Actor,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := lm.broker.Publish(context.Background(), contracts.TopicRunRequests, ev.Ref, data); err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}

	fmt.Printf("%s submitted %s (%s on %s)\n", green("✓"), path, ev.Kind, ev.Ref)
	fmt.Printf("  run ID: %s\n", req.RunID)
	return nil
}

// executeLocally runs the workflow in-process, with or without the TUI.
func executeLocally(wf *workflow.Workflow, ev event.Event) error {
	lm, err := newLocalMode(appConfig, !flagNoTUI)
	if err != nil {
		return err
	}
	defer lm.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan, err := engine.BuildPlan(wf, ev)
	if err != nil {
		return err
	}

	if flagNoTUI {
		run, err := lm.engine.Execute(ctx, plan)
		if err != nil {
			return err
		}
		jobs, _ := lm.store.GetJobs(ctx, run.ID)
		printRunSummary(run, jobs)
		if run.Status != contracts.StatusSuccess {
			os.Exit(1)
		}
		return nil
	}

	events, err := lm.broker.Subscribe(ctx, contracts.TopicRunEvents, "kiln-tui")
	if err != nil {
		return fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	done := make(chan *store.Run, 1)
	go func() {
		run, err := lm.engine.Execute(ctx, plan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run error: %v\n", err)
		}
		done <- run
	}()

	model := tui.NewRunModel(lm.store, events, plan.RunID)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	stop()

	select {
	case run := <-done:
		if run != nil {
			jobs, _ := lm.store.GetJobs(context.Background(), run.ID)
			printRunSummary(run, jobs)
			if run.Status != contracts.StatusSuccess {
				os.Exit(1)
			}
		}
	case <-time.After(5 * time.Second):
	}
	return nil
}
