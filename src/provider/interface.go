// Package provider defines the registry of workflow format frontends.
// Each frontend loads one CI configuration dialect into the kiln
// workflow model.
package provider

import (
	"errors"
	"fmt"
	"sync"

	"kiln-runner/src/workflow"
)

var (
	ErrUnknownFormat = errors.New("unknown workflow format")
	ErrNoProvider    = errors.New("no provider registered")
)

// Provider loads one workflow configuration format.
type Provider interface {
	// Name returns the format name (e.g. "github-actions", "buildkite").
	Name() string

	// Detect reports whether this provider understands the file.
	Detect(path string, data []byte) bool

	// Load parses the file into the kiln workflow model.
	Load(path string) (*workflow.Workflow, error)
}

var (
	mu        sync.RWMutex
	providers []Provider
)

// Register adds a provider to the registry. Called from provider
// package init functions.
func Register(p Provider) {
	mu.Lock()
	defer mu.Unlock()
	providers = append(providers, p)
}

// ForFile returns the first registered provider that detects the file.
func ForFile(path string, data []byte) (Provider, error) {
	mu.RLock()
	defer mu.RUnlock()

	if len(providers) == 0 {
		return nil, ErrNoProvider
	}
	for _, p := range providers {
		if p.Detect(path, data) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Names lists the registered format names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	return names
}
