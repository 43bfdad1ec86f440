package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hyperjump/gramaudit/internal/textnorm"
)

// CachedEmbedder memoizes another Embedder's vectors in a bounded LRU keyed by folded text.
// It serves reference data (taxonomy entries) that is embedded repeatedly but never persisted.
type CachedEmbedder struct {
	Embedder
	memo *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) (*CachedEmbedder, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	memo, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding memo: %w", err)
	}
	return &CachedEmbedder{Embedder: inner, memo: memo}, nil
}

// Embed returns the memoized vector for text, computing it on a miss.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := textnorm.Fold(text)
	if v, ok := c.memo.Get(key); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.memo.Add(key, v)
	return v, nil
}

// EmbedBatch embeds only the texts missing from the memo.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.memo.Get(textnorm.Fold(text)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	computed, err := c.Embedder.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range computed {
		out[missingIdx[j]] = v
		c.memo.Add(textnorm.Fold(missing[j]), v)
	}
	return out, nil
}

// Len returns the number of memoized vectors.
func (c *CachedEmbedder) Len() int {
	return c.memo.Len()
}
