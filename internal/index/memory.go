package index

import (
	"context"
	"slices"
	"sync"

	"github.com/54b3r/semsearch/internal/rag"
)

// MemoryStore is an exact, brute-force rag.IndexStore held in process memory.
// Replacement of a source's chunks is a single map assignment under the
// write lock, so readers never observe a mixed or empty generation.
type MemoryStore struct {
	mu       sync.RWMutex
	dims     int
	bySource map[string][]rag.Chunk
}

// NewMemoryStore returns an empty store for vectors of length dims.
// A dims of zero disables the dimension check.
func NewMemoryStore(dims int) *MemoryStore {
	return &MemoryStore{dims: dims, bySource: make(map[string][]rag.Chunk)}
}

// UpsertChunks replaces every chunk of sourceID with chunks.
func (m *MemoryStore) UpsertChunks(_ context.Context, sourceID string, chunks []rag.Chunk) error {
	if err := validateChunks(sourceID, chunks, m.dims); err != nil {
		return err
	}
	cp := make([]rag.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = slices.Clone(c.Embedding)
		cp[i] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(cp) == 0 {
		delete(m.bySource, sourceID)
		return nil
	}
	m.bySource[sourceID] = cp
	return nil
}

// DeleteSource removes every chunk of sourceID. Unknown ids are a no-op.
func (m *MemoryStore) DeleteSource(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySource, sourceID)
	return nil
}

// SimilaritySearch scores every stored chunk against query.
func (m *MemoryStore) SimilaritySearch(_ context.Context, query []float32, topK int, minSimilarity float32) ([]rag.ScoredChunk, error) {
	if err := validateQuery(query, topK, minSimilarity, m.dims); err != nil {
		return nil, err
	}
	if topK == 0 {
		return []rag.ScoredChunk{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var scored []rag.ScoredChunk
	for _, chunks := range m.bySource {
		for _, c := range chunks {
			s := rag.Cosine(query, c.Embedding)
			if s < minSimilarity {
				continue
			}
			scored = append(scored, rag.ScoredChunk{Chunk: c, Score: s})
		}
	}
	out := rag.TopK(scored, topK, minSimilarity)
	if out == nil {
		out = []rag.ScoredChunk{}
	}
	return out, nil
}

// CountChunks returns the number of chunks stored for sourceID.
func (m *MemoryStore) CountChunks(_ context.Context, sourceID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySource[sourceID]), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
