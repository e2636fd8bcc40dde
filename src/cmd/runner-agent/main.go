// Package main provides the standalone runner agent for distributed
// mode: it consumes run requests from Redpanda and executes them,
// persisting results to Postgres.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kiln-runner/src/broker"
	"kiln-runner/src/config"
	"kiln-runner/src/engine"
	"kiln-runner/src/logger"
	"kiln-runner/src/store"

	_ "kiln-runner/src/buildkite"
	_ "kiln-runner/src/githubactions"
)

func main() {
	cfg := config.MustLoadFromEnv()
	log := logger.NewConsoleLogger()

	if !cfg.Distributed() {
		fmt.Fprintln(os.Stderr, "runner-agent requires KILN_REDPANDA_BROKERS")
		os.Exit(1)
	}

	var st store.Store = store.NewInMemoryStore()
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Postgres: %v\n", err)
			os.Exit(1)
		}
		st = pg
	} else {
		log.Info("[RunnerAgent] KILN_POSTGRES_DSN not set, run state will not be persisted")
	}
	defer st.Close()

	brk, err := broker.NewRedpandaBroker(cfg.RedpandaBrokers, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to Redpanda: %v\n", err)
		os.Exit(1)
	}
	defer brk.Close()

	eng := engine.New(engine.Options{
		Store:     st,
		Broker:    brk,
		Logger:    log,
		Workspace: cfg.Workspace,
		Secrets:   config.SecretsFromEnv(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent := engine.NewAgent(eng, brk, log)
	if err := agent.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Runner agent error: %v\n", err)
		os.Exit(1)
	}
}
