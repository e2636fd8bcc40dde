// Package shell runs step scripts as child processes and streams their
// output line by line.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Sink receives one log line at a time, without the trailing newline.
type Sink func(line string)

// Command describes one script invocation.
type Command struct {
	// Script is the shell script body from a run step.
	Script string
	// Shell selects the interpreter; empty means bash.
	Shell string
	// Dir is the working directory.
	Dir string
	// Env is the full environment for the process.
	Env []string
}

// argv builds the interpreter invocation the way the hosted platform
// does: bash runs with -e and pipefail so any failing command fails the
// step.
func (c Command) argv() []string {
	switch c.Shell {
	case "", "bash":
		return []string{"bash", "--noprofile", "--norc", "-eo", "pipefail", "-c", c.Script}
	case "sh":
		return []string{"sh", "-e", "-c", c.Script}
	case "python":
		return []string{"python", "-c", c.Script}
	default:
		// A custom shell string names the interpreter directly.
		parts := strings.Fields(c.Shell)
		return append(parts, "-c", c.Script)
	}
}

// Run executes the command, streaming combined stdout and stderr to the
// sink. It returns the process exit code; err is non-nil only for
// failures to run at all or context cancellation.
func Run(ctx context.Context, cmd Command, sink Sink) (int, error) {
	argv := cmd.argv()
	proc := exec.CommandContext(ctx, argv[0], argv[1:]...)
	proc.Dir = cmd.Dir
	proc.Env = cmd.Env
	// The script runs in its own process group so cancellation reaches
	// backgrounded children, not just the interpreter.
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	proc.Cancel = func() error {
		return syscall.Kill(-proc.Process.Pid, syscall.SIGKILL)
	}
	// Give the pipes a moment to drain after kill, then Wait closes
	// them even if an orphaned grandchild still holds the write end.
	proc.WaitDelay = 2 * time.Second

	stdout, err := proc.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	proc.Stderr = proc.Stdout

	if err := proc.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	// Drain in a goroutine: a reader inlined here would pin Run for as
	// long as any inheritor of the pipe keeps it open.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if sink != nil {
				sink(scanner.Text())
			}
		}
	}()

	waitErr := proc.Wait()
	<-drained
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("process failed: %w", waitErr)
	}
	return 0, nil
}

// MergeEnv layers environment maps over the parent process environment.
// Later maps win; the merged result is in KEY=VALUE form.
func MergeEnv(layers ...map[string]string) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
