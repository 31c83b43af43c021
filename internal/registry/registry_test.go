package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/store"
)

// fakeClock advances one second per call so timestamps are distinct.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func registries(t *testing.T) map[string]rag.SourceRegistry {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return map[string]rag.SourceRegistry{
		"memory": NewMemoryRegistry((&fakeClock{now: start}).Now),
		"sqlite": NewSQLiteRegistry(db, (&fakeClock{now: start}).Now),
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			s, err := r.Register(ctx, "doc-1", "file:///tmp/doc.txt")
			require.NoError(t, err)
			assert.Equal(t, rag.StatusPending, s.Status)
			assert.Nil(t, s.LastIndexedAt)
			assert.False(t, s.CreatedAt.IsZero())

			got, err := r.Get(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, s, got)

			_, err = r.Register(ctx, "doc-1", "file:///elsewhere")
			require.ErrorIs(t, err, rag.ErrAlreadyExists)

			_, err = r.Get(ctx, "missing")
			require.ErrorIs(t, err, rag.ErrNotFound)
		})
	}
}

func TestRegistry_RegisterValidates(t *testing.T) {
	t.Parallel()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			_, err := r.Register(t.Context(), "  ", "file:///x")
			require.ErrorIs(t, err, rag.ErrInvalidArgument)
			_, err = r.Register(t.Context(), "ok", "")
			require.ErrorIs(t, err, rag.ErrInvalidArgument)
		})
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			_, err := r.Register(ctx, "doc", "data:,hello")
			require.NoError(t, err)

			s, err := r.BeginIndexing(ctx, "doc")
			require.NoError(t, err)
			assert.Equal(t, rag.StatusIndexing, s.Status)

			_, err = r.BeginIndexing(ctx, "doc")
			require.ErrorIs(t, err, rag.ErrAlreadyIndexing)

			indexedAt := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
			require.NoError(t, r.MarkReady(ctx, "doc", indexedAt, 7))
			s, err = r.Get(ctx, "doc")
			require.NoError(t, err)
			assert.Equal(t, rag.StatusReady, s.Status)
			require.NotNil(t, s.LastIndexedAt)
			assert.True(t, indexedAt.Equal(*s.LastIndexedAt))
			assert.Equal(t, 7, s.ChunkCount)

			// READY -> INDEXING -> FAILED keeps the previous run's facts.
			_, err = r.BeginIndexing(ctx, "doc")
			require.NoError(t, err)
			require.NoError(t, r.MarkFailed(ctx, "doc", "fetch failed: 404"))
			s, err = r.Get(ctx, "doc")
			require.NoError(t, err)
			assert.Equal(t, rag.StatusFailed, s.Status)
			assert.Equal(t, "fetch failed: 404", s.ErrorMessage)
			assert.Equal(t, 7, s.ChunkCount)
			require.NotNil(t, s.LastIndexedAt)

			// FAILED -> INDEXING -> READY clears the error.
			_, err = r.BeginIndexing(ctx, "doc")
			require.NoError(t, err)
			require.NoError(t, r.MarkReady(ctx, "doc", indexedAt.Add(time.Hour), 0))
			s, err = r.Get(ctx, "doc")
			require.NoError(t, err)
			assert.Empty(t, s.ErrorMessage)
			assert.Zero(t, s.ChunkCount)
		})
	}
}

func TestRegistry_MissingSource(t *testing.T) {
	t.Parallel()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			_, err := r.BeginIndexing(ctx, "missing")
			require.ErrorIs(t, err, rag.ErrNotFound)
			require.ErrorIs(t, r.MarkReady(ctx, "missing", time.Now(), 1), rag.ErrNotFound)
			require.ErrorIs(t, r.MarkFailed(ctx, "missing", "x"), rag.ErrNotFound)
			require.ErrorIs(t, r.Delete(ctx, "missing"), rag.ErrNotFound)

			list, err := r.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestRegistry_ConcurrentBeginIndexingHasOneWinner(t *testing.T) {
	t.Parallel()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			_, err := r.Register(ctx, "doc", "data:,x")
			require.NoError(t, err)

			var wins, conflicts atomic.Int32
			var wg sync.WaitGroup
			for range 16 {
				wg.Go(func() {
					_, err := r.BeginIndexing(ctx, "doc")
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, rag.ErrAlreadyIndexing):
						conflicts.Add(1)
					}
				})
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(15), conflicts.Load())
		})
	}
}

func TestRegistry_DeleteRequiresClaim(t *testing.T) {
	t.Parallel()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.ErrorIs(t, r.Delete(ctx, "missing"), rag.ErrNotFound)

			_, err := r.Register(ctx, "doc", "data:,x")
			require.NoError(t, err)
			require.ErrorIs(t, r.Delete(ctx, "doc"), rag.ErrConflict)

			_, err = r.BeginIndexing(ctx, "doc")
			require.NoError(t, err)
			require.NoError(t, r.Delete(ctx, "doc"))

			_, err = r.Get(ctx, "doc")
			require.ErrorIs(t, err, rag.ErrNotFound)
			_, err = r.BeginIndexing(ctx, "doc")
			require.ErrorIs(t, err, rag.ErrNotFound)
		})
	}
}

func TestRegistry_ListOrderedByID(t *testing.T) {
	t.Parallel()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for _, id := range []string{"c", "a", "b"} {
				_, err := r.Register(ctx, id, "data:,"+id)
				require.NoError(t, err)
			}
			list, err := r.List(ctx)
			require.NoError(t, err)
			ids := make([]string, len(list))
			for i, s := range list {
				ids[i] = s.ID
			}
			assert.Equal(t, []string{"a", "b", "c"}, ids)
		})
	}
}

func TestRegistry_ResetStale(t *testing.T) {
	t.Parallel()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for _, id := range []string{"a", "b", "c"} {
				_, err := r.Register(ctx, id, "data:,"+id)
				require.NoError(t, err)
			}
			_, err := r.BeginIndexing(ctx, "a")
			require.NoError(t, err)
			_, err = r.BeginIndexing(ctx, "b")
			require.NoError(t, err)

			n, err := r.ResetStale(ctx, "interrupted by restart")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			s, err := r.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, rag.StatusFailed, s.Status)
			assert.Equal(t, "interrupted by restart", s.ErrorMessage)

			s, err = r.Get(ctx, "c")
			require.NoError(t, err)
			assert.Equal(t, rag.StatusPending, s.Status)
		})
	}
}

func TestMemoryRegistry_ReturnsCopies(t *testing.T) {
	t.Parallel()
	r := NewMemoryRegistry(nil)
	s, err := r.Register(t.Context(), "doc", "data:,x")
	require.NoError(t, err)
	s.Status = rag.StatusReady

	got, err := r.Get(t.Context(), "doc")
	require.NoError(t, err)
	assert.Equal(t, rag.StatusPending, got.Status)
}
