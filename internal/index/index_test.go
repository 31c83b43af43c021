package index

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/store"
)

const testDims = 3

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// backends returns a fresh instance of every in-process adapter.
func backends(t *testing.T) map[string]rag.IndexStore {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]rag.IndexStore{
		"memory": NewMemoryStore(testDims),
		"sqlite": NewSQLiteStore(db, testDims),
		"hnsw":   NewHNSWStore(testDims),
	}
}

func chunk(sourceID string, seq int, text string, vec []float32, created time.Time) rag.Chunk {
	return rag.Chunk{
		ID:            uuid.NewString(),
		SourceID:      sourceID,
		SequenceIndex: seq,
		Text:          text,
		Embedding:     vec,
		CreatedAt:     created,
	}
}

func texts(hits []rag.ScoredChunk) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk.Text
	}
	return out
}

func TestIndex_UpsertReplacesPreviousGeneration(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.UpsertChunks(ctx, "doc", []rag.Chunk{
				chunk("doc", 0, "old-a", []float32{1, 0, 0}, t0),
				chunk("doc", 1, "old-b", []float32{0, 1, 0}, t0),
			}))
			require.NoError(t, s.UpsertChunks(ctx, "doc", []rag.Chunk{
				chunk("doc", 0, "new-a", []float32{1, 0, 0}, t0.Add(time.Hour)),
			}))

			n, err := s.CountChunks(ctx, "doc")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			hits, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"new-a"}, texts(hits))
		})
	}
}

func TestIndex_UpsertEmptyClearsSource(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.UpsertChunks(ctx, "doc", []rag.Chunk{chunk("doc", 0, "a", []float32{1, 0, 0}, t0)}))
			require.NoError(t, s.UpsertChunks(ctx, "doc", nil))
			n, err := s.CountChunks(ctx, "doc")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestIndex_DeleteSourceIsolatesOthers(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.UpsertChunks(ctx, "a", []rag.Chunk{chunk("a", 0, "from a", []float32{1, 0, 0}, t0)}))
			require.NoError(t, s.UpsertChunks(ctx, "b", []rag.Chunk{chunk("b", 0, "from b", []float32{1, 0, 0}, t0)}))
			require.NoError(t, s.DeleteSource(ctx, "a"))
			require.NoError(t, s.DeleteSource(ctx, "never-existed"))

			hits, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"from b"}, texts(hits))
		})
	}
}

func TestIndex_ThresholdAndOrdering(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			older := chunk("doc", 0, "tie-older", []float32{1, 0, 0}, t0)
			newer := chunk("doc", 1, "tie-newer", []float32{2, 0, 0}, t0.Add(time.Minute))
			near := chunk("doc", 2, "close", []float32{1, 0.2, 0}, t0)
			far := chunk("doc", 3, "far", []float32{0, 0, 1}, t0)
			require.NoError(t, s.UpsertChunks(ctx, "doc", []rag.Chunk{older, newer, near, far}))

			hits, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, 0.5)
			require.NoError(t, err)
			assert.Equal(t, []string{"tie-newer", "tie-older", "close"}, texts(hits))
			for _, h := range hits {
				assert.GreaterOrEqual(t, h.Score, float32(0.5))
			}

			hits, err = s.SimilaritySearch(ctx, []float32{1, 0, 0}, 1, 0.5)
			require.NoError(t, err)
			assert.Equal(t, []string{"tie-newer"}, texts(hits))
		})
	}
}

func TestIndex_TieOnScoreAndTimeBreaksByID(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			a := chunk("doc", 0, "a", []float32{0, 1, 0}, t0)
			b := chunk("doc", 1, "b", []float32{0, 1, 0}, t0)
			a.ID, b.ID = "00000000-0000-0000-0000-000000000002", "00000000-0000-0000-0000-000000000001"
			require.NoError(t, s.UpsertChunks(ctx, "doc", []rag.Chunk{a, b}))

			hits, err := s.SimilaritySearch(ctx, []float32{0, 1, 0}, 10, 0.9)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a"}, texts(hits))
		})
	}
}

func TestIndex_EmptyAndZeroTopK(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			hits, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 5, 0.7)
			require.NoError(t, err)
			assert.NotNil(t, hits)
			assert.Empty(t, hits)

			require.NoError(t, s.UpsertChunks(ctx, "doc", []rag.Chunk{chunk("doc", 0, "a", []float32{1, 0, 0}, t0)}))
			hits, err = s.SimilaritySearch(ctx, []float32{1, 0, 0}, 0, 0)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestIndex_ZeroNormScoresZero(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.UpsertChunks(ctx, "doc", []rag.Chunk{
				chunk("doc", 0, "zero", []float32{0, 0, 0}, t0),
				chunk("doc", 1, "unit", []float32{1, 0, 0}, t0),
			}))

			hits, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 10, 0)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "unit", hits[0].Chunk.Text)
			assert.Equal(t, float32(0), hits[1].Score)

			hits, err = s.SimilaritySearch(ctx, []float32{0, 0, 0}, 10, 0.1)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestIndex_RejectsBadInput(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			err := s.UpsertChunks(ctx, "doc", []rag.Chunk{chunk("doc", 0, "a", []float32{1, 0}, t0)})
			require.ErrorIs(t, err, rag.ErrDimensionMismatch)

			err = s.UpsertChunks(ctx, "doc", []rag.Chunk{chunk("other", 0, "a", []float32{1, 0, 0}, t0)})
			require.ErrorIs(t, err, rag.ErrInvalidArgument)

			err = s.UpsertChunks(ctx, " ", nil)
			require.ErrorIs(t, err, rag.ErrInvalidArgument)

			_, err = s.SimilaritySearch(ctx, []float32{1, 0, 0}, -1, 0)
			require.ErrorIs(t, err, rag.ErrInvalidArgument)

			_, err = s.SimilaritySearch(ctx, []float32{1, 0, 0}, 1, 1.5)
			require.ErrorIs(t, err, rag.ErrInvalidArgument)

			_, err = s.SimilaritySearch(ctx, []float32{1, 0}, 1, 0)
			require.ErrorIs(t, err, rag.ErrDimensionMismatch)
		})
	}
}

// TestIndex_RandomisedBoundsAndOrder checks the search contract against a
// brute-force oracle on random data.
func TestIndex_RandomisedBoundsAndOrder(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 11))

	var chunks []rag.Chunk
	for i := range 60 {
		vec := []float32{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
		chunks = append(chunks, chunk("doc", i, fmt.Sprintf("c%02d", i), vec, t0.Add(time.Duration(i%5)*time.Second)))
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.UpsertChunks(ctx, "doc", chunks))

			for range 20 {
				q := []float32{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
				topK := rng.IntN(10)
				minSim := rng.Float32() * 0.9

				hits, err := s.SimilaritySearch(ctx, q, topK, minSim)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(hits), topK)
				for i, h := range hits {
					assert.GreaterOrEqual(t, h.Score, minSim)
					if i > 0 {
						assert.LessOrEqual(t, rag.CompareScored(hits[i-1], h), 0)
					}
				}

				if name == "hnsw" {
					continue // approximate candidate generation
				}
				var oracle []rag.ScoredChunk
				for _, c := range chunks {
					oracle = append(oracle, rag.ScoredChunk{Chunk: c, Score: rag.Cosine(q, c.Embedding)})
				}
				want := rag.TopK(oracle, topK, minSim)
				assert.Equal(t, texts(want), texts(hits))
			}
		})
	}
}

func TestIndex_ConcurrentUpsertAndSearch(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			var wg sync.WaitGroup
			for i := range 8 {
				wg.Go(func() {
					src := fmt.Sprintf("src-%d", i%2)
					_ = s.UpsertChunks(ctx, src, []rag.Chunk{
						chunk(src, 0, "x", []float32{1, float32(i), 0}, t0),
						chunk(src, 1, "y", []float32{0, 1, float32(i)}, t0),
					})
					_, _ = s.SimilaritySearch(ctx, []float32{1, 1, 0}, 5, 0)
				})
			}
			wg.Wait()

			for _, src := range []string{"src-0", "src-1"} {
				n, err := s.CountChunks(ctx, src)
				require.NoError(t, err)
				assert.Equal(t, 2, n, "each source holds exactly one generation")
			}
		})
	}
}

func TestHNSW_CompactsOrphans(t *testing.T) {
	t.Parallel()
	s := NewHNSWStore(testDims)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.UpsertChunks(ctx, "doc", []rag.Chunk{
			chunk("doc", 0, fmt.Sprintf("gen-%d", i), []float32{1, 0, 0}, t0),
		}))
	}
	assert.LessOrEqual(t, s.orphans, 1)
	assert.LessOrEqual(t, s.graph.Len(), 2)

	hits, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"gen-4"}, texts(hits))
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0, -1.5, 3.25, 1e-8}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestNew_Backends(t *testing.T) {
	t.Parallel()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, b := range []string{BackendMemory, BackendSQLite, BackendHNSW, ""} {
		s, err := New(t.Context(), Config{Backend: b, Dimensions: 3}, db)
		require.NoError(t, err, b)
		require.NoError(t, s.Close())
	}
	_, err = New(t.Context(), Config{Backend: "faiss"}, db)
	require.Error(t, err)
	_, err = New(t.Context(), Config{Backend: BackendSQLite}, nil)
	require.Error(t, err)
}
