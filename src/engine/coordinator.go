package engine

import (
	"context"
	"sync"
)

// Coordinator serializes runs through concurrency groups. At most one
// run per expanded group key is in flight; later runs either queue FIFO
// behind it or, with cancel-in-progress, cancel it and take its place.
type Coordinator struct {
	mu    sync.Mutex
	tails map[string]*groupEntry
}

type groupEntry struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{tails: make(map[string]*groupEntry)}
}

// Acquire claims the group for a new run. It returns the run's context
// (cancelled if a newer cancel-in-progress run supersedes this one) and
// a release function that must be called when the run finishes.
//
// With cancelInProgress the current holder is cancelled immediately;
// either way Acquire blocks until every earlier run in the group has
// released. An empty group means no serialization.
func (c *Coordinator) Acquire(ctx context.Context, group string, cancelInProgress bool) (context.Context, func(), error) {
	runCtx, cancel := context.WithCancel(ctx)

	if group == "" {
		return runCtx, func() { cancel() }, nil
	}

	entry := &groupEntry{done: make(chan struct{}), cancel: cancel}

	c.mu.Lock()
	prev := c.tails[group]
	c.tails[group] = entry
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if c.tails[group] == entry {
			delete(c.tails, group)
		}
		c.mu.Unlock()
		close(entry.done)
		cancel()
	}

	if prev != nil {
		if cancelInProgress {
			prev.cancel()
		}
		select {
		case <-prev.done:
		case <-ctx.Done():
			release()
			return nil, nil, ctx.Err()
		}
	}

	return runCtx, release, nil
}
