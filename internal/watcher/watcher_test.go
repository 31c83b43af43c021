package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/registry"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
	// busy is how many initial calls report the source as already indexing.
	busy int
}

func (r *recorder) reindex(_ context.Context, id string) error {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	n := len(r.calls)
	r.mu.Unlock()
	r.ch <- id
	if n <= r.busy {
		return rag.ErrAlreadyIndexing
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestWatcher_SyncWatchesOnlyLocalSources(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry(nil)
	ctx := t.Context()
	_, err := reg.Register(ctx, "a", "file://"+filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, "b", filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, "web", "https://example.com/doc")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "inline", "data:,hello")
	require.NoError(t, err)

	rec := &recorder{ch: make(chan string, 4)}
	w, err := New(reg, rec.reindex, Options{})
	require.NoError(t, err)
	t.Cleanup(w.shutdown)

	require.NoError(t, w.Sync(ctx))
	assert.Equal(t, 1, w.Watched())
	assert.Len(t, w.byPath, 2)
}

func TestWatcher_DebouncesWritesIntoOneReindex(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	reg := registry.NewMemoryRegistry(nil)
	_, err := reg.Register(t.Context(), "doc", "file://"+path)
	require.NoError(t, err)

	rec := &recorder{ch: make(chan string, 8)}
	w, err := New(reg, rec.reindex, Options{Debounce: 100 * time.Millisecond, Refresh: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.Watched() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := range 5 {
		require.NoError(t, os.WriteFile(path, []byte{'v', byte('2' + i)}, 0o600))
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case id := <-rec.ch:
		assert.Equal(t, "doc", id)
	case <-time.After(5 * time.Second):
		t.Fatal("no reindex after file change")
	}

	// Give a second debounce window a chance to (wrongly) fire.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	reg := registry.NewMemoryRegistry(nil)
	_, err := reg.Register(t.Context(), "doc", path)
	require.NoError(t, err)

	rec := &recorder{ch: make(chan string, 8)}
	w, err := New(reg, rec.reindex, Options{Debounce: 20 * time.Millisecond, Refresh: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return w.Watched() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, rec.count())

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_RetriesWhenSourceIsBusy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	reg := registry.NewMemoryRegistry(nil)
	_, err := reg.Register(t.Context(), "doc", path)
	require.NoError(t, err)

	rec := &recorder{ch: make(chan string, 8), busy: 2}
	w, err := New(reg, rec.reindex, Options{Debounce: 30 * time.Millisecond, Refresh: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return w.Watched() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o600))

	// Two busy attempts, then the one that succeeds.
	require.Eventually(t, func() bool { return rec.count() >= 3 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 3, rec.count())

	cancel()
	require.NoError(t, <-done)
}
