package embedder

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/54b3r/semsearch/internal/rag"
)

// DefaultCacheSize is the number of texts the query cache remembers.
const DefaultCacheSize = 1024

// Cached memoises embeddings per text in an LRU cache. Repeated queries skip
// the upstream call entirely. Vectors in the cache are shared; callers must
// not modify returned slices.
type Cached struct {
	inner rag.Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU cache of the given size.
func NewCached(inner rag.Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c}, nil
}

// Dimensions delegates to the wrapped embedder.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Embed serves hits from the cache and forwards only the misses, in one batch.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		c.cache.Add(missTexts[j], v)
	}
	return out, nil
}

// Len reports the number of cached texts.
func (c *Cached) Len() int { return c.cache.Len() }
