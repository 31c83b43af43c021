// Package index provides rag.IndexStore adapters: an exact in-memory store,
// a SQLite store with transactional per-source replacement, a Qdrant store,
// and an HNSW approximate store that re-scores its candidates exactly.
//
// Every adapter enforces the same contract: results contain at most topK
// chunks, every score is at least minSimilarity, and ordering is score
// descending with ties broken by newer CreatedAt and then by ID ascending.
package index

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/store"
)

// Backend names accepted by INDEX_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
	BackendHNSW   = "hnsw"
)

// Config selects and configures an index backend.
type Config struct {
	// Backend is one of memory, sqlite, qdrant, hnsw. Defaults to sqlite.
	Backend string
	// Dimensions is the embedding length every stored vector must have.
	Dimensions int
	// Qdrant configures the qdrant backend.
	Qdrant QdrantConfig
}

// ConfigFromEnv reads INDEX_BACKEND and the QDRANT_* variables.
// dims comes from the embedder so the two never disagree.
func ConfigFromEnv(dims int) Config {
	port, _ := strconv.Atoi(os.Getenv("QDRANT_PORT"))
	return Config{
		Backend:    strings.ToLower(getEnvOrDefault("INDEX_BACKEND", BackendSQLite)),
		Dimensions: dims,
		Qdrant: QdrantConfig{
			Host:       os.Getenv("QDRANT_HOST"),
			Port:       port,
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "semsearch"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		},
	}
}

// New constructs the configured backend. db is required for the sqlite
// backend and ignored otherwise.
func New(ctx context.Context, cfg Config, db *store.DB) (rag.IndexStore, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(cfg.Dimensions), nil
	case BackendSQLite, "":
		if db == nil {
			return nil, fmt.Errorf("index: sqlite backend requires a database")
		}
		return NewSQLiteStore(db, cfg.Dimensions), nil
	case BackendQdrant:
		q := cfg.Qdrant
		q.VectorSize = uint64(cfg.Dimensions) //nolint:gosec // dimensions are positive
		return NewQdrantStore(ctx, &q)
	case BackendHNSW:
		return NewHNSWStore(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("index: unknown backend %q, valid values: memory, sqlite, qdrant, hnsw", cfg.Backend)
	}
}

// validateChunks checks a replacement batch before any store mutation.
func validateChunks(sourceID string, chunks []rag.Chunk, dims int) error {
	if strings.TrimSpace(sourceID) == "" {
		return fmt.Errorf("index: %w: source id is required", rag.ErrInvalidArgument)
	}
	for i := range chunks {
		c := &chunks[i]
		if c.SourceID != sourceID {
			return fmt.Errorf("index: %w: chunk %s belongs to %q, not %q", rag.ErrInvalidArgument, c.ID, c.SourceID, sourceID)
		}
		if c.ID == "" {
			return fmt.Errorf("index: %w: chunk %d has no id", rag.ErrInvalidArgument, c.SequenceIndex)
		}
		if err := rag.CheckDimension(c.Embedding, dims); err != nil {
			return fmt.Errorf("index: chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// validateQuery checks search arguments. A topK of zero is legal and
// yields an empty result.
func validateQuery(query []float32, topK int, minSimilarity float32, dims int) error {
	if topK < 0 {
		return fmt.Errorf("index: %w: topK must be >= 0, got %d", rag.ErrInvalidArgument, topK)
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return fmt.Errorf("index: %w: minSimilarity must be within [0,1], got %v", rag.ErrInvalidArgument, minSimilarity)
	}
	if err := rag.CheckDimension(query, dims); err != nil {
		return fmt.Errorf("index: query: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
