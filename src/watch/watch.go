// Package watch re-triggers workflows when their files change on disk.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"kiln-runner/src/logger"
)

// DefaultDebounce coalesces the burst of events editors emit per save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes a workflow file or a directory of workflow files and
// invokes the callback once per settled change.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(path string)
	logger   logger.Logger
}

// New creates a watcher. path may be a single workflow file or a
// directory; onChange receives the changed file's path.
func New(path string, onChange func(path string), log logger.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   log,
	}
}

// Run watches until the context is cancelled. Editors typically replace
// files on save, so the parent directory is watched rather than the
// file itself.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", w.path, err)
	}

	watchDir := w.path
	var onlyFile string
	if !info.IsDir() {
		watchDir = filepath.Dir(w.path)
		onlyFile = filepath.Base(w.path)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(watchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", watchDir, err)
	}

	w.logger.Info("[Watch] Watching %s for changes...", w.path)

	var timer *time.Timer
	var pending string
	fire := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if onlyFile != "" && name != onlyFile {
				continue
			}
			if onlyFile == "" && !isWorkflowFile(name) {
				continue
			}

			pending = ev.Name
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			w.logger.Info("[Watch] Change detected: %s", pending)
			w.onChange(pending)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("[Watch] Watcher error: %v", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isWorkflowFile(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}
