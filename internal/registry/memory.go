package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/semsearch/internal/rag"
)

// MemoryRegistry is a mutex-guarded in-process rag.SourceRegistry.
type MemoryRegistry struct {
	mu      sync.Mutex
	clock   rag.Clock
	sources map[string]*rag.Source
}

// NewMemoryRegistry returns an empty registry. A nil clock uses rag.SystemClock.
func NewMemoryRegistry(clock rag.Clock) *MemoryRegistry {
	if clock == nil {
		clock = rag.SystemClock
	}
	return &MemoryRegistry{clock: clock, sources: make(map[string]*rag.Source)}
}

// snapshot returns a copy safe to hand to callers.
func snapshot(s *rag.Source) *rag.Source {
	cp := *s
	if s.LastIndexedAt != nil {
		t := *s.LastIndexedAt
		cp.LastIndexedAt = &t
	}
	return &cp
}

// Register creates a PENDING source.
func (r *MemoryRegistry) Register(_ context.Context, id, location string) (*rag.Source, error) {
	if err := validate(id, location); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; ok {
		return nil, fmt.Errorf("registry: source %q: %w", id, rag.ErrAlreadyExists)
	}
	now := r.clock()
	s := &rag.Source{ID: id, Location: location, Status: rag.StatusPending, CreatedAt: now, UpdatedAt: now}
	r.sources[id] = s
	return snapshot(s), nil
}

// Get returns the source or rag.ErrNotFound.
func (r *MemoryRegistry) Get(_ context.Context, id string) (*rag.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, notFound(id)
	}
	return snapshot(s), nil
}

// List returns all sources ordered by id.
func (r *MemoryRegistry) List(_ context.Context) ([]rag.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rag.Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, *snapshot(s))
	}
	slices.SortFunc(out, func(a, b rag.Source) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Delete removes a source held in INDEXING by the caller.
func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return notFound(id)
	}
	if s.Status != rag.StatusIndexing {
		return notClaimed(id)
	}
	delete(r.sources, id)
	return nil
}

// BeginIndexing moves the source to INDEXING unless a run already owns it.
func (r *MemoryRegistry) BeginIndexing(_ context.Context, id string) (*rag.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, notFound(id)
	}
	if s.Status == rag.StatusIndexing {
		return nil, alreadyIndexing(id)
	}
	s.Status = rag.StatusIndexing
	s.UpdatedAt = r.clock()
	return snapshot(s), nil
}

// MarkReady records a successful run and clears any previous error.
func (r *MemoryRegistry) MarkReady(_ context.Context, id string, indexedAt time.Time, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return notFound(id)
	}
	t := indexedAt
	s.Status = rag.StatusReady
	s.LastIndexedAt = &t
	s.ChunkCount = chunkCount
	s.ErrorMessage = ""
	s.UpdatedAt = r.clock()
	return nil
}

// MarkFailed records a failed run. LastIndexedAt and ChunkCount keep
// describing the previous successful run, whose chunks still serve.
func (r *MemoryRegistry) MarkFailed(_ context.Context, id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return notFound(id)
	}
	s.Status = rag.StatusFailed
	s.ErrorMessage = message
	s.UpdatedAt = r.clock()
	return nil
}

// ResetStale moves every INDEXING source to FAILED.
func (r *MemoryRegistry) ResetStale(_ context.Context, message string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := r.clock()
	for _, s := range r.sources {
		if s.Status != rag.StatusIndexing {
			continue
		}
		s.Status = rag.StatusFailed
		s.ErrorMessage = message
		s.UpdatedAt = now
		n++
	}
	return n, nil
}

// Close is a no-op.
func (r *MemoryRegistry) Close() error { return nil }
