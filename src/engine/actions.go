package engine

import (
	"fmt"
	"os"
	"strings"
)

// ActionHandler executes a uses: step locally. Handlers run in-process;
// they log through the sink and may export env for later steps.
type ActionHandler func(st *stepState) error

// stepState is what a built-in action can see and touch.
type stepState struct {
	workspace string
	sha       string
	with      map[string]string
	// exports accumulates env for subsequent steps in the same job.
	exports map[string]string
	sink    func(line string)
}

// builtinActions maps the action name (without version ref) to its
// local handler. Unknown actions fail the job: silently skipping a step
// the workflow depends on would make green runs meaningless.
var builtinActions = map[string]ActionHandler{
	"actions/checkout":     checkoutAction,
	"actions/setup-python": setupAction("python"),
	"actions/setup-go":     setupAction("go"),
	"actions/setup-node":   setupAction("node"),
	"actions/setup-java":   setupAction("java"),
	"actions/cache":        cacheAction,
}

// actionName strips the version ref: "actions/checkout@v4" -> "actions/checkout".
func actionName(uses string) string {
	if i := strings.IndexByte(uses, '@'); i >= 0 {
		return uses[:i]
	}
	return uses
}

// lookupAction resolves a uses: reference.
func lookupAction(uses string) (ActionHandler, error) {
	handler, ok := builtinActions[actionName(uses)]
	if !ok {
		return nil, fmt.Errorf("unsupported action %q", uses)
	}
	return handler, nil
}

// checkoutAction verifies the workspace exists. The local runner
// executes against the working tree as-is; there is nothing to fetch.
func checkoutAction(st *stepState) error {
	if _, err := os.Stat(st.workspace); err != nil {
		return fmt.Errorf("workspace not available: %w", err)
	}
	if st.sha != "" {
		st.sink(fmt.Sprintf("Using working tree at %s", st.sha))
	} else {
		st.sink("Using working tree")
	}
	return nil
}

// setupAction records the requested toolchain version in env for later
// steps. Locally the interpreter on PATH is what runs; the exported
// version makes the requested one observable to scripts.
func setupAction(tool string) ActionHandler {
	versionKeys := []string{tool + "-version", "version"}
	envKey := "KILN_" + strings.ToUpper(tool) + "_VERSION"

	return func(st *stepState) error {
		version := ""
		for _, key := range versionKeys {
			if v, ok := st.with[key]; ok {
				version = v
				break
			}
		}
		if version == "" {
			st.sink(fmt.Sprintf("Using system %s", tool))
			return nil
		}
		st.exports[envKey] = version
		st.sink(fmt.Sprintf("Requested %s %s", tool, version))
		return nil
	}
}

// cacheAction is a no-op locally; the working tree already persists
// between runs.
func cacheAction(st *stepState) error {
	if key := st.with["key"]; key != "" {
		st.sink(fmt.Sprintf("Cache key %s (local runner, cache is the working tree)", key))
	}
	return nil
}
