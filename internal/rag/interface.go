// Package rag defines the data model and the interfaces shared by the
// indexing and query paths: sources, chunks, embedding, vector storage, and
// the source registry. Concrete implementations (SQLite, Qdrant, HNSW,
// Ollama, OpenAI, ...) satisfy these interfaces so neither the pipeline nor
// the query engine depends on a specific backend.
package rag

import (
	"context"
	"time"
)

// Status is the indexing state of a Source.
type Status string

const (
	// StatusPending is the initial state of a freshly registered source.
	StatusPending Status = "PENDING"
	// StatusIndexing means a reindex run currently owns the source.
	StatusIndexing Status = "INDEXING"
	// StatusReady means the source's chunks are durably written and queryable.
	StatusReady Status = "READY"
	// StatusFailed means the last run failed; ErrorMessage carries the reason.
	StatusFailed Status = "FAILED"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusIndexing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Source is a registered document location whose content is indexed.
type Source struct {
	// ID is the caller-chosen unique identifier.
	ID string `json:"id"`
	// Location is the URI the content is fetched from (http(s)://, file://, data:).
	Location string `json:"location"`
	// Status is the current indexing state.
	Status Status `json:"status"`
	// LastIndexedAt is set when a run completes successfully. Nil until then.
	LastIndexedAt *time.Time `json:"lastIndexedAt"`
	// ErrorMessage is the non-sensitive summary of the last failure, empty otherwise.
	ErrorMessage string `json:"errorMessage,omitempty"`
	// ChunkCount is the number of chunks written by the last successful run.
	ChunkCount int `json:"chunkCount"`
	// CreatedAt is when the source was registered.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the source row was last mutated.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chunk is a bounded slice of a source's text with its own embedding.
// Chunks are immutable; a reindex replaces a source's chunk set wholesale.
type Chunk struct {
	// ID is freshly generated per indexing run.
	ID string
	// SourceID references the owning Source.
	SourceID string
	// SequenceIndex preserves document order. Not used for ranking.
	SequenceIndex int
	// Text is the chunk content.
	Text string
	// Embedding has exactly the system-wide dimension D.
	Embedding []float32
	// CreatedAt is when the run that produced the chunk started writing it.
	CreatedAt time.Time
}

// ScoredChunk is a Chunk returned by a similarity search with its cosine score.
type ScoredChunk struct {
	Chunk Chunk
	Score float32
}

// Clock returns the current time. Injected so timestamps are testable.
type Clock func() time.Time

// SystemClock is the production Clock.
func SystemClock() time.Time { return time.Now().UTC() }

// Embedder converts text into dense vector embeddings of a fixed dimension.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into embeddings. The returned slice is
	// parallel to texts. Upstream failures wrap ErrEmbeddingUnavailable.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed output size D.
	Dimensions() int
}

// IndexStore persists chunks and answers similarity queries.
// Implementations must be safe to call from multiple goroutines and are
// responsible for their own concurrency control across different sources.
type IndexStore interface {
	// UpsertChunks replaces every chunk of sourceID with chunks. Existing
	// chunks are deleted before the new set becomes visible.
	UpsertChunks(ctx context.Context, sourceID string, chunks []Chunk) error

	// DeleteSource removes all chunks of sourceID.
	DeleteSource(ctx context.Context, sourceID string) error

	// SimilaritySearch returns at most topK chunks whose cosine similarity to
	// query is >= minSimilarity, ordered by score descending, then newer
	// CreatedAt, then ID.
	SimilaritySearch(ctx context.Context, query []float32, topK int, minSimilarity float32) ([]ScoredChunk, error)

	// CountChunks returns the number of stored chunks for sourceID.
	CountChunks(ctx context.Context, sourceID string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// SourceRegistry tracks known sources and their indexing status.
// Implementations must be safe for concurrent use.
type SourceRegistry interface {
	// Register creates a PENDING source. ErrAlreadyExists if id is taken.
	Register(ctx context.Context, id, location string) (*Source, error)

	// Get returns the source or ErrNotFound.
	Get(ctx context.Context, id string) (*Source, error)

	// List returns all sources ordered by id.
	List(ctx context.Context) ([]Source, error)

	// BeginIndexing atomically moves the source to INDEXING. It returns
	// ErrAlreadyIndexing if another run owns it and ErrNotFound if absent.
	BeginIndexing(ctx context.Context, id string) (*Source, error)

	// Delete removes a source the caller holds in INDEXING through
	// BeginIndexing. ErrNotFound if absent, ErrConflict if not INDEXING.
	Delete(ctx context.Context, id string) error

	// MarkReady records a successful run.
	MarkReady(ctx context.Context, id string, indexedAt time.Time, chunkCount int) error

	// MarkFailed records a failed run with a human-readable message.
	MarkFailed(ctx context.Context, id string, message string) error

	// ResetStale moves every INDEXING source to FAILED. Used on startup to
	// recover from a process that died mid-run.
	ResetStale(ctx context.Context, message string) (int, error)

	// Close releases any resources held by the registry.
	Close() error
}
