package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of filesystem events (editors and git
// checkouts touch many files) into a single rebuild.
const reloadDebounce = 500 * time.Millisecond

// Watcher keeps a catalog snapshot current while the library is edited.
// Lookups go through Current(); the snapshot pointer is swapped atomically so
// in-flight compositions keep the catalog they started with.
type Watcher struct {
	root    string
	logger  *slog.Logger
	current atomic.Pointer[Catalog]
	fsw     *fsnotify.Watcher
}

// NewWatcher builds the initial catalog and starts watching the library root.
// Stop the watcher by cancelling ctx.
func NewWatcher(ctx context.Context, root string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	initial, err := Load(root, logger)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:   initial.Root(),
		logger: logger,
		fsw:    fsw,
	}
	w.current.Store(initial)

	// Watch the category directories; template subdirectories are picked up
	// through their parent's events on create.
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(w.root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = fsw.Add(filepath.Join(w.root, e.Name()))
			}
		}
	}

	go w.loop(ctx)

	return w, nil
}

// Current returns the latest catalog snapshot.
func (w *Watcher) Current() *Catalog {
	return w.current.Load()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.fsw.Close()

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Library watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.root, w.logger)
	if err != nil {
		w.logger.Warn("Library reload failed, keeping previous catalog", "error", err)
		return
	}

	prev := w.current.Swap(next)
	if prev.Snapshot() != next.Snapshot() {
		w.logger.Info("Template catalog reloaded",
			"templates", next.Len(),
			"snapshot", next.Snapshot())
	}
}
