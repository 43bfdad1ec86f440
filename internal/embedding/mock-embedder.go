package embedding

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/hyperjump/gramaudit/internal/textnorm"
	"github.com/hyperjump/gramaudit/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline runs. Each folded word maps to a
// fixed pseudo-random direction; a text's vector is the normalized sum of its words, so texts that
// share words score as similar.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the bag-of-words embedding of text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, word := range strings.Fields(textnorm.Fold(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		rng := rand.New(rand.NewSource(int64(h.Sum64())))
		for i := range emb {
			emb[i] += float32(rng.NormFloat64())
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e.Embed, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
