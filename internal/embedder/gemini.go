package embedder

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/54b3r/semsearch/internal/rag"
)

// GeminiEmbedder implements rag.Embedder using the Gemini API
// EmbedContent endpoint through the google.golang.org/genai SDK.
type GeminiEmbedder struct {
	// models is the genai Models service used for EmbedContent.
	models *genai.Models
	// model is the embedding model name (e.g. "text-embedding-004").
	model string
	// dimensions is the requested output dimensionality.
	dimensions int
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Google API key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the requested output dimensionality.
	Dimensions int
}

// NewGeminiEmbedder creates the genai client and returns a ready embedder.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return &GeminiEmbedder{
		models:     client.Models,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Dimensions returns the requested output dimensionality.
func (e *GeminiEmbedder) Dimensions() int { return e.dimensions }

// Embed converts a batch of texts into their corresponding embeddings.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		dims := int32(e.dimensions) //nolint:gosec // dimensions are bounded
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	resp, err := e.models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && !transientStatus(apiErr.Code) {
			return nil, fmt.Errorf("gemini embedder: %w", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("gemini embedder: %w", err)
		}
		return nil, fmt.Errorf("gemini embedder: %w: %w", rag.ErrEmbeddingUnavailable, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embedder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
