package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/54b3r/semsearch/internal/rag"
)

// RateLimited paces calls to the wrapped embedder so bulk reindexing stays
// under a provider's request quota.
type RateLimited struct {
	inner   rag.Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst.
func NewRateLimited(inner rag.Embedder, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Dimensions delegates to the wrapped embedder.
func (r *RateLimited) Dimensions() int { return r.inner.Dimensions() }

// Embed blocks until the limiter admits the call or ctx is done.
func (r *RateLimited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedder: rate limit wait: %w", err)
	}
	return r.inner.Embed(ctx, texts)
}
