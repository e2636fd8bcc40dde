package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"kiln-runner/src/event"
	"kiln-runner/src/matrix"
	"kiln-runner/src/tui"
	"kiln-runner/src/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow-file]",
	Short: "Parse and validate a workflow file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		wf, err := loadWorkflow(args[0])
		if err != nil {
			fmt.Printf("%s %v\n", red("✗"), err)
			return err
		}
		if err := workflow.Validate(wf); err != nil {
			fmt.Printf("%s %v\n", red("✗"), err)
			return err
		}

		fmt.Printf("%s %s is valid\n", green("✓"), args[0])
		for _, jobID := range wf.JobOrder {
			job := wf.Jobs[jobID]
			var m *workflow.Matrix
			if job.Strategy != nil {
				m = job.Strategy.Matrix
			}
			legs := len(matrix.Expand(m))
			if legs > 1 {
				fmt.Printf("  %s: %d steps × %d matrix legs\n", jobID, len(job.Steps), legs)
			} else {
				fmt.Printf("  %s: %d steps\n", jobID, len(job.Steps))
			}
		}
		if wf.Concurrency.Group != "" {
			fmt.Printf("  concurrency: %s (cancel-in-progress: %t)\n",
				faint(wf.Concurrency.Group), wf.Concurrency.CancelInProgress)
		}
		return nil
	},
}

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Long: `Lists runs from the configured store, newest first. Without
KILN_POSTGRES_DSN there is no persistent history to list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		lm, err := newLocalMode(appConfig, true)
		if err != nil {
			return err
		}
		defer lm.Close()

		runs, err := lm.store.ListRuns(context.Background(), listLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			if appConfig.PostgresDSN == "" {
				fmt.Println(faint("Set KILN_POSTGRES_DSN to keep run history between invocations."))
			}
			return nil
		}

		for _, run := range runs {
			fmt.Printf("%s %s  %-20s %-12s %s\n",
				statusMark(run.Status),
				shortID(run.ID),
				run.WorkflowName,
				run.EventKind,
				faint(run.CreatedAt.Format("2006-01-02 15:04:05")))
		}
		return nil
	},
}

var viewCmd = &cobra.Command{
	Use:   "view [run-id]",
	Short: "Open the TUI for a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		lm, err := newLocalMode(appConfig, true)
		if err != nil {
			return err
		}
		defer lm.Close()

		runID := args[0]
		if _, err := lm.store.GetRun(context.Background(), runID); err != nil {
			return fmt.Errorf("run not found: %s", runID)
		}

		model := tui.NewRunModel(lm.store, nil, runID)
		if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Show the event kiln derives from the local repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ev := event.FromLocalRepo(appConfig.Workspace, appConfig.DefaultBranch)
		fmt.Printf("kind:   %s\n", ev.Kind)
		fmt.Printf("ref:    %s\n", ev.Ref)
		fmt.Printf("branch: %s\n", ev.Branch)
		fmt.Printf("sha:    %s\n", ev.SHA)
		fmt.Printf("actor:  %s\n", ev.Actor)
		return nil
	},
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "max runs to list (0 for all)")
}
