// Package main provides the standalone annotation agent for distributed
// mode: it consumes log chunks from Redpanda and publishes annotations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kiln-runner/src/annotate"
	"kiln-runner/src/broker"
	"kiln-runner/src/config"
	"kiln-runner/src/logger"
	"kiln-runner/src/store"
)

func main() {
	cfg := config.MustLoadFromEnv()
	log := logger.NewConsoleLogger()

	if !cfg.Distributed() {
		fmt.Fprintln(os.Stderr, "annotate-agent requires KILN_REDPANDA_BROKERS")
		os.Exit(1)
	}

	var st store.Store
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Postgres: %v\n", err)
			os.Exit(1)
		}
		st = pg
		defer pg.Close()
	}

	brk, err := broker.NewRedpandaBroker(cfg.RedpandaBrokers, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to Redpanda: %v\n", err)
		os.Exit(1)
	}
	defer brk.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent := annotate.NewAgent(brk, st, log)
	if err := agent.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Annotate agent error: %v\n", err)
		os.Exit(1)
	}
}
