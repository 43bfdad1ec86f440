package similarity

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/gramaudit/internal/embedding"
)

func benchPool(b *testing.B, n, dims int) []Candidate {
	b.Helper()
	e := embedding.NewMockEmbedder(dims)
	ctx := context.Background()
	pool := make([]Candidate, n)
	for i := range n {
		v, err := e.Embed(ctx, fmt.Sprintf("attribute value %d", i))
		if err != nil {
			b.Fatal(err)
		}
		pool[i] = Candidate{Key: fmt.Sprintf("k%04d", i), Vector: v}
	}
	return pool
}

func BenchmarkMatch(b *testing.B) {
	pool := benchPool(b, 1000, 384)
	source := pool[0].Vector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Match(source, pool, 0.85)
	}
}

func BenchmarkGroupNearDuplicates(b *testing.B) {
	pool := benchPool(b, 300, 384)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = GroupNearDuplicates(pool, 0.9)
	}
}
