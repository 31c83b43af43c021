package index

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	"github.com/54b3r/semsearch/internal/rag"
)

// hnswOversample multiplies topK when asking the graph for candidates so the
// exact re-score has room to apply the threshold and the tie-break.
const hnswOversample = 4

// HNSWStore is an in-memory rag.IndexStore that uses an HNSW graph for
// candidate generation and exact cosine for the final scores. Results are
// therefore exact over the candidate set but may miss chunks the graph does
// not surface.
//
// Replaced chunks are removed lazily: their keys are orphaned rather than
// deleted from the graph, and the graph is rebuilt once orphans outnumber
// live nodes.
type HNSWStore struct {
	mu    sync.RWMutex
	dims  int
	graph *hnsw.Graph[uint64]

	// chunks maps a graph key to its live chunk.
	chunks map[uint64]rag.Chunk
	// bySource lists the live keys of each source.
	bySource map[string][]uint64
	// zeroNorm holds keys of zero vectors, which the graph cannot place.
	zeroNorm map[uint64]struct{}
	nextKey  uint64
	orphans  int
}

// NewHNSWStore returns an empty store for vectors of length dims.
func NewHNSWStore(dims int) *HNSWStore {
	return &HNSWStore{
		dims:     dims,
		graph:    newGraph(),
		chunks:   make(map[uint64]rag.Chunk),
		bySource: make(map[string][]uint64),
		zeroNorm: make(map[uint64]struct{}),
	}
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 64
	g.Ml = 0.25
	return g
}

// UpsertChunks replaces every chunk of sourceID with chunks under one write
// lock, so searches never see a mixed generation.
func (s *HNSWStore) UpsertChunks(_ context.Context, sourceID string, chunks []rag.Chunk) error {
	if err := validateChunks(sourceID, chunks, s.dims); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sourceID)

	keys := make([]uint64, 0, len(chunks))
	for _, c := range chunks {
		c.Embedding = slices.Clone(c.Embedding)
		key := s.nextKey
		s.nextKey++
		s.chunks[key] = c
		keys = append(keys, key)
		if isZero(c.Embedding) {
			s.zeroNorm[key] = struct{}{}
			continue
		}
		s.graph.Add(hnsw.MakeNode(key, normalized(c.Embedding)))
	}
	if len(keys) > 0 {
		s.bySource[sourceID] = keys
	}
	s.maybeCompactLocked()
	return nil
}

// DeleteSource removes every chunk of sourceID.
func (s *HNSWStore) DeleteSource(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sourceID)
	s.maybeCompactLocked()
	return nil
}

func (s *HNSWStore) removeLocked(sourceID string) {
	for _, key := range s.bySource[sourceID] {
		delete(s.chunks, key)
		if _, ok := s.zeroNorm[key]; ok {
			delete(s.zeroNorm, key)
			continue
		}
		s.orphans++
	}
	delete(s.bySource, sourceID)
}

// maybeCompactLocked rebuilds the graph from live chunks once orphaned
// nodes outnumber live ones.
func (s *HNSWStore) maybeCompactLocked() {
	live := len(s.chunks) - len(s.zeroNorm)
	if s.orphans == 0 || s.orphans <= live {
		return
	}
	g := newGraph()
	for key, c := range s.chunks {
		if _, ok := s.zeroNorm[key]; ok {
			continue
		}
		g.Add(hnsw.MakeNode(key, normalized(c.Embedding)))
	}
	s.graph = g
	s.orphans = 0
}

// SimilaritySearch generates candidates from the graph, re-scores them
// exactly, and applies the threshold and ordering.
func (s *HNSWStore) SimilaritySearch(_ context.Context, query []float32, topK int, minSimilarity float32) ([]rag.ScoredChunk, error) {
	if err := validateQuery(query, topK, minSimilarity, s.dims); err != nil {
		return nil, err
	}
	if topK == 0 {
		return []rag.ScoredChunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []rag.ScoredChunk
	add := func(c rag.Chunk) {
		if sc := rag.Cosine(query, c.Embedding); sc >= minSimilarity {
			scored = append(scored, rag.ScoredChunk{Chunk: c, Score: sc})
		}
	}

	switch {
	case isZero(query):
		// Every score is zero; the graph has no meaningful neighbourhood.
		for _, c := range s.chunks {
			add(c)
		}
	default:
		if s.graph.Len() > 0 {
			k := min(topK*hnswOversample+s.orphans, s.graph.Len())
			for _, n := range s.graph.Search(normalized(query), k) {
				if c, ok := s.chunks[n.Key]; ok {
					add(c)
				}
			}
		}
		for key := range s.zeroNorm {
			add(s.chunks[key])
		}
	}

	out := rag.TopK(scored, topK, minSimilarity)
	if out == nil {
		out = []rag.ScoredChunk{}
	}
	return out, nil
}

// CountChunks returns the number of live chunks for sourceID.
func (s *HNSWStore) CountChunks(_ context.Context, sourceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySource[sourceID]), nil
}

// Close is a no-op.
func (s *HNSWStore) Close() error { return nil }

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// normalized returns a unit-length copy of v.
func normalized(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
