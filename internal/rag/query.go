package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/semsearch/internal/logging"
)

// Search defaults applied when the caller omits a field.
const (
	// DefaultMaxResults is used when SearchRequest.MaxResults is nil.
	DefaultMaxResults = 10
	// MaxResultsCap is the largest result count a caller may ask for.
	// Larger values are clamped.
	MaxResultsCap = 50
	// DefaultMinSimilarity is used when SearchRequest.MinSimilarity is nil.
	DefaultMinSimilarity float32 = 0.7
)

// SearchRequest is the caller-facing search payload. Optional fields are
// pointers so an explicit zero is distinguishable from "not provided".
type SearchRequest struct {
	// Query is the natural-language query. Must not be blank.
	Query string `json:"query"`
	// MaxResults bounds the number of hits (default 10, clamped to 50).
	MaxResults *int `json:"maxResults,omitempty"`
	// MinSimilarity is the cosine threshold in [0,1] (default 0.7).
	MinSimilarity *float32 `json:"minSimilarity,omitempty"`
}

// SearchParams is a validated SearchRequest with every default applied.
type SearchParams struct {
	Query         string
	MaxResults    int
	MinSimilarity float32
}

// Resolve validates r and fills in defaults.
func (r SearchRequest) Resolve(defaults SearchParams) (SearchParams, error) {
	p := SearchParams{
		Query:         strings.TrimSpace(r.Query),
		MaxResults:    defaults.MaxResults,
		MinSimilarity: defaults.MinSimilarity,
	}
	if p.Query == "" {
		return SearchParams{}, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	if r.MaxResults != nil {
		p.MaxResults = *r.MaxResults
	}
	if p.MaxResults < 0 {
		return SearchParams{}, fmt.Errorf("%w: maxResults must not be negative", ErrInvalidArgument)
	}
	if p.MaxResults == 0 {
		p.MaxResults = DefaultMaxResults
	}
	if p.MaxResults > MaxResultsCap {
		p.MaxResults = MaxResultsCap
	}
	if r.MinSimilarity != nil {
		p.MinSimilarity = *r.MinSimilarity
	}
	if p.MinSimilarity < 0 || p.MinSimilarity > 1 {
		return SearchParams{}, fmt.Errorf("%w: minSimilarity must be within [0, 1]", ErrInvalidArgument)
	}
	return p, nil
}

// SearchHit is a single ranked result.
type SearchHit struct {
	// Text is the chunk content.
	Text string `json:"text"`
	// SourceID is the source the chunk belongs to.
	SourceID string `json:"sourceId"`
	// Score is the cosine similarity to the query.
	Score float32 `json:"score"`
}

// SearchResponse is the result of QueryEngine.Search.
type SearchResponse struct {
	// Chunks is ordered by descending score.
	Chunks []SearchHit `json:"chunks"`
	// TotalResults is len(Chunks).
	TotalResults int `json:"totalResults"`
}

// QueryEngine embeds a query and delegates similarity search to the index
// store. It never mutates state.
type QueryEngine struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store IndexStore

	// defaults are applied to fields the caller leaves unset.
	defaults SearchParams
}

// NewQueryEngine constructs a QueryEngine from the given Embedder and IndexStore.
// Zero-valued defaults fall back to DefaultMaxResults / DefaultMinSimilarity.
func NewQueryEngine(embedder Embedder, store IndexStore, defaults SearchParams) (*QueryEngine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaults.MaxResults <= 0 {
		defaults.MaxResults = DefaultMaxResults
	}
	if defaults.MaxResults > MaxResultsCap {
		defaults.MaxResults = MaxResultsCap
	}
	if defaults.MinSimilarity <= 0 || defaults.MinSimilarity > 1 {
		defaults.MinSimilarity = DefaultMinSimilarity
	}
	return &QueryEngine{
		embedder: embedder,
		store:    store,
		defaults: defaults,
	}, nil
}

// Search validates req, embeds the query, and returns the ranked hits.
// A blank query is rejected before the embedder is called. An empty index
// yields an empty response, not an error.
func (q *QueryEngine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	params, err := req.Resolve(q.defaults)
	if err != nil {
		return nil, err
	}

	embeddings, err := q.embedder.Embed(ctx, []string{params.Query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query: %w", ErrEmbeddingUnavailable)
	}

	scored, err := q.store.SimilaritySearch(ctx, embeddings[0], params.MaxResults, params.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	resp := &SearchResponse{Chunks: make([]SearchHit, 0, len(scored))}
	for _, s := range scored {
		resp.Chunks = append(resp.Chunks, SearchHit{
			Text:     s.Chunk.Text,
			SourceID: s.Chunk.SourceID,
			Score:    s.Score,
		})
	}
	resp.TotalResults = len(resp.Chunks)

	logging.FromContext(ctx).Debug("search completed",
		slog.Int("max_results", params.MaxResults),
		slog.Float64("min_similarity", float64(params.MinSimilarity)),
		slog.Int("hits", resp.TotalResults),
	)

	return resp, nil
}
