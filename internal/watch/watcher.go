// Package watch re-runs a callback when project artifacts change on disk.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"taskforge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches rapid saves into one callback.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc is called with the changed paths once a burst of events settles.
type ChangeFunc func(ctx context.Context, paths []string)

// Stats counts watcher activity.
type Stats struct {
	Events    int
	Callbacks int
	Errors    int
	LastPath  string
	LastEvent time.Time
}

// Watcher watches a fixed set of directories for files with the given
// extensions.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	dirs     []string
	exts     map[string]bool
	onChange ChangeFunc
	debounce time.Duration
	pending  map[string]time.Time
	stats    Stats
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a watcher over dirs. Only files whose extension is in exts
// trigger the callback.
func New(dirs, exts []string, onChange ChangeFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return &Watcher{
		watcher:  fw,
		dirs:     dirs,
		exts:     set,
		onChange: onChange,
		debounce: DefaultDebounce,
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetDebounce changes the settle interval. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Start adds the directories and begins the event loop. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, dir := range w.dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryWatch).Warn("cannot create %s: %v", dir, err)
		}
		if err := w.watcher.Add(dir); err != nil {
			logging.Get(logging.CategoryWatch).Warn("cannot watch %s: %v", dir, err)
			continue
		}
		logging.Watch("watching %s", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop ends the event loop, waits for it and releases the OS watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
}

// Done is closed when the event loop exits.
func (w *Watcher) Done() <-chan struct{} { return w.doneCh }

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 5
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !w.exts[filepath.Ext(event.Name)] {
		return
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	logging.Get(logging.CategoryWatch).Debug("%s %s", event.Op, event.Name)

	now := time.Now()
	w.mu.Lock()
	w.pending[event.Name] = now
	w.stats.Events++
	w.stats.LastPath = event.Name
	w.stats.LastEvent = now
	w.mu.Unlock()
}

// flush fires the callback once no event has arrived for the debounce interval.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	var latest time.Time
	for _, t := range w.pending {
		if t.After(latest) {
			latest = t
		}
	}
	if time.Since(latest) < w.debounce {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]time.Time)
	w.stats.Callbacks++
	w.mu.Unlock()

	sort.Strings(paths)
	w.onChange(ctx, paths)
}
