package embedding

import (
	"context"

	"github.com/crossmindhq/consensus/internal/cache"
)

// Cached decorates an Embedder with the shared cache store. Lookup misses
// fall through to the wrapped embedder and write back; cache failures are
// invisible to callers.
type Cached struct {
	inner Embedder
	store *cache.Store
}

var _ Embedder = (*Cached)(nil)

// NewCached wraps inner with store-backed memoisation.
func NewCached(inner Embedder, store *cache.Store) *Cached {
	return &Cached{inner: inner, store: store}
}

func (c *Cached) Dim() int { return c.inner.Dim() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.store.GetEmbedding(ctx, text); ok && len(vec) == c.inner.Dim() {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	_ = c.store.PutEmbedding(ctx, text, vec)
	return vec, nil
}
