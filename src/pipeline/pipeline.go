// Package pipeline starts the background agents shared by the CLI
// (local mode) and the MCP server.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"kiln-runner/src/annotate"
	"kiln-runner/src/broker"
	"kiln-runner/src/logger"
	"kiln-runner/src/store"
)

// Start launches the annotation agent as a goroutine. It uses silent
// logging to prevent log pollution when running in TUI mode or MCP
// server mode; errors still go to stderr.
func Start(msgBroker broker.Broker, st store.Store, ctx context.Context) {
	log := logger.NewSilentLogger()

	annotateAgent := annotate.NewAgent(msgBroker, st, log)
	go func() {
		if err := annotateAgent.Run(ctx); err != nil && err != context.Canceled {
			fmt.Fprintf(os.Stderr, "[Pipeline] Annotate agent error: %v\n", err)
		}
	}()
}
