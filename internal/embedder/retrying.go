package embedder

import (
	"context"

	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/retry"
)

// Retrying retries transient failures of the wrapped embedder with
// exponential backoff.
type Retrying struct {
	inner  rag.Embedder
	policy retry.Config
}

// NewRetrying wraps inner with the given retry policy.
func NewRetrying(inner rag.Embedder, policy retry.Config) *Retrying {
	return &Retrying{inner: inner, policy: policy}
}

// Dimensions delegates to the wrapped embedder.
func (r *Retrying) Dimensions() int { return r.inner.Dimensions() }

// Embed calls the wrapped embedder until it succeeds or the policy gives up.
func (r *Retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := retry.Do(ctx, r.policy, "embed", func(ctx context.Context) error {
		v, err := r.inner.Embed(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
