// Package embedding provides embedding providers and the content-addressed embedding cache.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// EmbedFunc computes the embedding of one text value. Embedder.Embed satisfies it.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// embedEach implements EmbedBatch for providers without a native batch call.
func embedEach(ctx context.Context, embed EmbedFunc, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}
