package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/semsearch/internal/rag"
)

// FixedDimension rejects any vector whose length differs from the wrapped
// embedder's declared dimension.
type FixedDimension struct {
	inner rag.Embedder
}

// NewFixedDimension wraps inner.
func NewFixedDimension(inner rag.Embedder) *FixedDimension {
	return &FixedDimension{inner: inner}
}

// Dimensions delegates to the wrapped embedder.
func (f *FixedDimension) Dimensions() int { return f.inner.Dimensions() }

// Embed forwards to the wrapped embedder and checks every vector and the
// batch length.
func (f *FixedDimension) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	dim := f.inner.Dimensions()
	for i, v := range vecs {
		if err := rag.CheckDimension(v, dim); err != nil {
			return nil, fmt.Errorf("embedder: text %d: %w", i, err)
		}
	}
	return vecs, nil
}

// VerifyDimension embeds a fixed text once and verifies the result has the declared
// dimension. Run it at startup so a misconfigured model fails fast instead
// of on the first reindex.
func VerifyDimension(ctx context.Context, e rag.Embedder) error {
	vecs, err := e.Embed(ctx, []string{"dimension check"})
	if err != nil {
		return fmt.Errorf("embedder: dimension check: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedder: dimension check: expected 1 embedding, got %d", len(vecs))
	}
	if err := rag.CheckDimension(vecs[0], e.Dimensions()); err != nil {
		return fmt.Errorf("embedder: dimension check: %w", err)
	}
	return nil
}
