// Package main provides the MCP server entry point for kiln. It exposes
// run_workflow and the run inspection tools over stdio.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"kiln-runner/src/broker"
	"kiln-runner/src/config"
	"kiln-runner/src/logger"
	"kiln-runner/src/mcp"
	"kiln-runner/src/store"

	_ "kiln-runner/src/buildkite"
	_ "kiln-runner/src/githubactions"
)

func main() {
	cfg := config.MustLoadFromEnv()

	opts := mcp.Options{
		Workspace: cfg.Workspace,
		Secrets:   config.SecretsFromEnv(),
	}
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Postgres: %v\n", err)
			os.Exit(1)
		}
		defer pg.Close()
		opts.Store = pg
	}
	if cfg.Distributed() {
		rp, err := broker.NewRedpandaBroker(cfg.RedpandaBrokers, logger.NewSilentLogger())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Redpanda: %v\n", err)
			os.Exit(1)
		}
		defer rp.Close()
		opts.Broker = rp
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := mcp.NewServer(opts)
	server.StartPipeline(ctx)

	if err := server.Run(); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
