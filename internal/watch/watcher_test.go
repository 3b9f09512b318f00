package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	ch    chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 16)} }

func (r *recorder) onChange(_ context.Context, paths []string) {
	r.mu.Lock()
	r.calls = append(r.calls, paths)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no change callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func TestWatcherDebouncesAndFilters(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	rec := newRecorder()
	w, err := New([]string{dir}, []string{".go"}, rec.onChange)
	require.NoError(t, err)
	w.SetDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	a := filepath.Join(dir, "a.go")
	b := filepath.Join(dir, "b.go")
	require.NoError(t, os.WriteFile(a, []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("package main\n"), 0o644))

	paths := rec.wait(t)
	assert.Subset(t, []string{a, b}, paths)
	assert.NotContains(t, paths, filepath.Join(dir, "notes.txt"))

	w.Stop()
	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Callbacks, 1)
	assert.Zero(t, stats.Errors)
}

func TestWatcherStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := New([]string{t.TempDir()}, []string{".md"}, func(context.Context, []string) {})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "second start is a no-op")

	cancel()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not exit")
	}
	w.Stop()
}
