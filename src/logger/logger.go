// Package logger is the logging surface shared by the CLI, the agents
// and the engine. The interface is deliberately small so the TUI can
// swap in a silent implementation and own the terminal.
package logger

import (
	"fmt"
	"os"
)

// Logger is implemented by console and silent loggers.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// ConsoleLogger writes human-readable lines to stdout/stderr.
// Debug output is gated behind the KILN_DEBUG environment variable.
type ConsoleLogger struct {
	debug bool
}

func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{debug: os.Getenv("KILN_DEBUG") != ""}
}

func (c *ConsoleLogger) Info(msg string, args ...any) {
	fmt.Printf("[INFO] "+msg+"\n", args...)
}

func (c *ConsoleLogger) Error(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "[ERROR] "+msg+"\n", args...)
}

func (c *ConsoleLogger) Debug(msg string, args ...any) {
	if !c.debug {
		return
	}
	fmt.Printf("[DEBUG] "+msg+"\n", args...)
}

// SilentLogger discards everything. Used under the TUI and in tests.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...any)  {}
func (s *SilentLogger) Error(msg string, args ...any) {}
func (s *SilentLogger) Debug(msg string, args ...any) {}
