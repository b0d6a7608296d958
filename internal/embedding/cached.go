package embedding

import (
	"context"

	"github.com/hyperjump/mnemo/pkg/utils"
)

// CachedEmbedder memoizes embeddings by exact text.
type CachedEmbedder struct {
	Embedder
	cache *utils.LRU[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{
		Embedder: inner,
		cache:    utils.NewLRU[string, []float32](capacity),
	}
}

// Embed returns the cached embedding for text or computes and stores it.
// Callers must not mutate the returned slice.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

// EmbedBatch embeds each text through the cache.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, c.Embed)
}

// Len reports the number of cached embeddings.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
