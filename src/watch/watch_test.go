package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kiln-runner/src/logger"
)

func TestWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ci.yml")
	if err := os.WriteFile(path, []byte("name: CI\n"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	changed := make(chan string, 1)
	w := New(path, func(p string) {
		select {
		case changed <- p:
		default:
		}
	}, logger.NewSilentLogger())
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Run(ctx)
	}()

	// Let the watcher register before touching the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("name: CI\non: push\n"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}

	select {
	case p := <-changed:
		if filepath.Base(p) != "ci.yml" {
			t.Errorf("Expected change for ci.yml, got %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a change notification")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ci.yml")
	if err := os.WriteFile(path, []byte("name: CI\n"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	changed := make(chan string, 1)
	w := New(path, func(p string) { changed <- p }, logger.NewSilentLogger())
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("scratch"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case p := <-changed:
		t.Errorf("Expected no notification for unrelated file, got %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_MissingPath(t *testing.T) {
	w := New("/nonexistent/ci.yml", func(string) {}, logger.NewSilentLogger())
	if err := w.Run(context.Background()); err == nil {
		t.Error("Expected error for missing path")
	}
}
