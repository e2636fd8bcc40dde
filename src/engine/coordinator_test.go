package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCoordinator_EmptyGroupNoSerialization(t *testing.T) {
	c := NewCoordinator()

	ctx1, release1, err := c.Acquire(context.Background(), "", false)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release1()

	done := make(chan struct{})
	go func() {
		_, release2, err := c.Acquire(context.Background(), "", false)
		if err != nil {
			t.Errorf("Second acquire failed: %v", err)
		}
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected ungrouped acquires not to block each other")
	}
	if ctx1.Err() != nil {
		t.Errorf("Expected first context alive, got %v", ctx1.Err())
	}
}

func TestCoordinator_QueueIsFIFO(t *testing.T) {
	c := NewCoordinator()

	_, release1, err := c.Acquire(context.Background(), "ci-master", false)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	var mu sync.Mutex
	var order []int
	acquired := func(i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	}

	releases := make(chan func(), 2)
	var wg sync.WaitGroup
	for i := 2; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, release, err := c.Acquire(context.Background(), "ci-master", false)
			if err != nil {
				t.Errorf("Acquire %d failed: %v", i, err)
				return
			}
			acquired(i)
			releases <- release
		}(i)
		// Stagger starts so queue positions are deterministic.
		time.Sleep(50 * time.Millisecond)
	}

	mu.Lock()
	if len(order) != 0 {
		t.Errorf("Expected waiters blocked while holder active, got %v", order)
	}
	mu.Unlock()

	release1()
	(<-releases)()
	wg.Wait()
	(<-releases)()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 2 || order[1] != 3 {
		t.Errorf("Expected FIFO order [2 3], got %v", order)
	}
}

func TestCoordinator_CancelInProgress(t *testing.T) {
	c := NewCoordinator()

	ctx1, release1, err := c.Acquire(context.Background(), "ci-master", true)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan context.Context, 1)
	go func() {
		ctx2, release2, err := c.Acquire(context.Background(), "ci-master", true)
		if err != nil {
			t.Errorf("Second acquire failed: %v", err)
			return
		}
		acquired <- ctx2
		release2()
	}()

	select {
	case <-ctx1.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected first run's context cancelled by newer run")
	}

	// The second run still waits for the first to release.
	select {
	case <-acquired:
		t.Fatal("Expected second acquire to block until first releases")
	case <-time.After(100 * time.Millisecond):
	}

	release1()
	select {
	case ctx2 := <-acquired:
		if ctx2.Err() != nil {
			t.Errorf("Expected second context alive, got %v", ctx2.Err())
		}
	case <-time.After(time.Second):
		t.Fatal("Second acquire did not proceed after release")
	}
}

func TestCoordinator_ContextCancelWhileQueued(t *testing.T) {
	c := NewCoordinator()

	_, release1, err := c.Acquire(context.Background(), "ci-master", false)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release1()

	waitCtx, cancelWait := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, release, err := c.Acquire(waitCtx, "ci-master", false)
		if err == nil {
			release()
		}
		errCh <- err
	}()

	cancelWait()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Expected error when queued acquire is cancelled")
		}
	case <-time.After(time.Second):
		t.Fatal("Cancelled acquire did not return")
	}
}
