package taxonomy

import (
	"context"
	"fmt"

	"github.com/hyperjump/gramaudit/internal/embedding"
	"github.com/hyperjump/gramaudit/internal/models"
)

// Prepare returns copies of sets in which every entry carries a vector. Entries that already
// have one keep it; the rest are embedded in one batch per set.
func Prepare(ctx context.Context, embedder embedding.Embedder, sets []models.TaxonomySet) ([]models.TaxonomySet, error) {
	out := make([]models.TaxonomySet, len(sets))
	for i, set := range sets {
		entries := append([]models.TaxonomyEntry(nil), set.Entries...)

		var texts []string
		var idx []int
		for j, e := range entries {
			if len(e.Vector) == 0 {
				texts = append(texts, e.CanonicalValue)
				idx = append(idx, j)
			}
		}
		if len(texts) > 0 {
			vecs, err := embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return nil, fmt.Errorf("failed to embed taxonomy %s: %w", set.Source, err)
			}
			if len(vecs) != len(texts) {
				return nil, fmt.Errorf("embedder returned %d vectors for %d entries of taxonomy %s", len(vecs), len(texts), set.Source)
			}
			for k, j := range idx {
				entries[j].Vector = vecs[k]
			}
		}
		out[i] = models.TaxonomySet{Source: set.Source, Entries: entries}
	}
	return out, nil
}
