package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"

	"kiln-runner/src/broker"
	"kiln-runner/src/config"
	"kiln-runner/src/contracts"
	"kiln-runner/src/engine"
	"kiln-runner/src/logger"
	"kiln-runner/src/pipeline"
	"kiln-runner/src/provider"
	"kiln-runner/src/store"
	"kiln-runner/src/workflow"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// localMode wires the store, the broker, the annotation pipeline and an
// engine according to the configuration: in-process by default,
// Redpanda plus Postgres when configured.
type localMode struct {
	store  store.Store
	broker broker.Broker
	engine *engine.Engine
	ctx    context.Context
	cancel context.CancelFunc
}

// newLocalMode builds the execution infrastructure. quiet selects
// silent logging for TUI mode.
func newLocalMode(cfg *config.Config, quiet bool) (*localMode, error) {
	var log logger.Logger = logger.NewConsoleLogger()
	if quiet {
		log = logger.NewSilentLogger()
	}

	var st store.Store = store.NewInMemoryStore()
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		st = pg
	}

	var brk broker.Broker = broker.NewInMemoryBroker()
	if cfg.Distributed() {
		rp, err := broker.NewRedpandaBroker(cfg.RedpandaBrokers, log)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to connect to Redpanda: %w", err)
		}
		brk = rp
	}

	ctx, cancel := context.WithCancel(context.Background())
	pipeline.Start(brk, st, ctx)

	eng := engine.New(engine.Options{
		Store:     st,
		Broker:    brk,
		Logger:    log,
		Workspace: cfg.Workspace,
		Secrets:   config.SecretsFromEnv(),
	})

	return &localMode{
		store:  st,
		broker: brk,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (lm *localMode) Close() {
	lm.cancel()
	lm.broker.Close()
	lm.store.Close()
}

// loadWorkflow resolves the format frontend for a file and parses it.
func loadWorkflow(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	p, err := provider.ForFile(path, data)
	if err != nil {
		return nil, provider.WrapError(err)
	}
	return p.Load(path)
}

// printRunSummary prints the per-job outcome table after a run.
func printRunSummary(run *store.Run, jobs []store.Job) {
	fmt.Println()
	for _, job := range jobs {
		mark := statusMark(job.Status)
		line := fmt.Sprintf("%s %s", mark, job.Name)
		if job.Status == contracts.StatusFailed {
			line += faint(fmt.Sprintf(" (exit %d)", job.ExitCode))
		}
		fmt.Println(line)
	}
	fmt.Println()
	fmt.Printf("Run %s: %s\n", faint(shortID(run.ID)), statusMark(run.Status)+" "+run.Status)
}

func statusMark(status string) string {
	switch status {
	case contracts.StatusSuccess:
		return green("✓")
	case contracts.StatusFailed:
		return red("✗")
	case contracts.StatusCanceled:
		return yellow("⊘")
	case contracts.StatusSkipped:
		return faint("-")
	default:
		return faint("·")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
