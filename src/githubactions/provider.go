// Package githubactions is the canonical workflow format frontend.
// The on-disk format is already the kiln model's native dialect, so
// loading delegates to the workflow parser.
package githubactions

import (
	"bytes"
	"strings"

	"kiln-runner/src/provider"
	"kiln-runner/src/workflow"
)

// Frontend loads GitHub-Actions-shaped workflow files.
type Frontend struct{}

func init() {
	provider.Register(&Frontend{})
}

// Name returns the format name.
func (f *Frontend) Name() string { return "github-actions" }

// Detect accepts files under .github/workflows/ and, as a fallback,
// any YAML document that declares jobs: at the top level.
func (f *Frontend) Detect(path string, data []byte) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	if strings.Contains(normalized, ".github/workflows/") {
		return true
	}
	return bytes.Contains(data, []byte("\njobs:")) || bytes.HasPrefix(data, []byte("jobs:"))
}

// Load parses the file into the kiln workflow model.
func (f *Frontend) Load(path string) (*workflow.Workflow, error) {
	return workflow.ParseFile(path)
}
