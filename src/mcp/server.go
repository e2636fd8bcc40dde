// Package mcp exposes kiln to MCP clients: run workflows, inspect runs,
// fetch compressed job logs and tiered annotations.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"kiln-runner/src/broker"
	"kiln-runner/src/engine"
	"kiln-runner/src/logger"
	"kiln-runner/src/pipeline"
	"kiln-runner/src/store"
)

// Server is the MCP server for kiln.
type Server struct {
	mcpServer *server.MCPServer
	store     store.Store
	broker    broker.Broker
	engine    *engine.Engine
	workspace string
}

// Options configures the MCP server. Nil store and broker default to
// in-memory implementations, which is the common single-process setup.
type Options struct {
	Store     store.Store
	Broker    broker.Broker
	Workspace string
	Secrets   map[string]string
}

// NewServer creates a new MCP server with its own engine and a running
// annotation pipeline.
func NewServer(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}
	if opts.Broker == nil {
		opts.Broker = broker.NewInMemoryBroker()
	}
	if opts.Workspace == "" {
		opts.Workspace = "."
	}

	s := server.NewMCPServer(
		"kiln",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	eng := engine.New(engine.Options{
		Store:     opts.Store,
		Broker:    opts.Broker,
		Logger:    logger.NewSilentLogger(),
		Workspace: opts.Workspace,
		Secrets:   opts.Secrets,
	})

	srv := &Server{
		mcpServer: s,
		store:     opts.Store,
		broker:    opts.Broker,
		engine:    eng,
		workspace: opts.Workspace,
	}
	srv.registerTools()

	return srv
}

// registerTools registers all available tools.
func (s *Server) registerTools() {
	runTool := mcp.NewTool("run_workflow",
		mcp.WithDescription("Execute a CI workflow file locally and return the run result with job statuses and tiered annotations. Blocks until the run finishes."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the workflow file (GitHub Actions or Buildkite format)"),
		),
		mcp.WithString("event",
			mcp.Description("Triggering event: push, pull_request or workflow_dispatch (default: push)"),
		),
		mcp.WithString("branch",
			mcp.Description("Branch the event targets (default: master)"),
		),
	)

	statusTool := mcp.NewTool("get_run_status",
		mcp.WithDescription("Get the current status of a run and its jobs."),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID from run_workflow or list_runs"),
		),
	)

	listTool := mcp.NewTool("list_runs",
		mcp.WithDescription("List recent runs, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Max runs to return (default: 20)"),
		),
	)

	logTool := mcp.NewTool("get_job_log",
		mcp.WithDescription("Get a job's log, compressed for context efficiency: ANSI stripped, timestamps and hashes masked, long shared prefixes collapsed. Use tail to bound output."),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID"),
		),
		mcp.WithString("job",
			mcp.Required(),
			mcp.Description("Job display name, e.g. 'test (3.10)'"),
		),
		mcp.WithNumber("tail",
			mcp.Description("Max trailing lines to return (default: 200)"),
		),
	)

	annotationsTool := mcp.NewTool("get_annotations",
		mcp.WithDescription("Get a run's annotations tiered by signal: unique failures first (appear on a single job), recurring noise after. Unique failures are the likely root causes."),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max annotations per tier (default: 15)"),
		),
	)

	s.mcpServer.AddTool(runTool, s.handleRunWorkflow)
	s.mcpServer.AddTool(statusTool, s.handleGetRunStatus)
	s.mcpServer.AddTool(listTool, s.handleListRuns)
	s.mcpServer.AddTool(logTool, s.handleGetJobLog)
	s.mcpServer.AddTool(annotationsTool, s.handleGetAnnotations)
}

// Run serves MCP on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// StartPipeline launches the background annotation agent.
func (s *Server) StartPipeline(ctx context.Context) {
	pipeline.Start(s.broker, s.store, ctx)
}
