package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/gramaudit/internal/keyword"
	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/similarity"
)

// candidatePool is how many hits each side contributes before fusion.
const candidatePool = 50

// LabelSearchResponse is the fused result of a label search.
type LabelSearchResponse struct {
	Query      string        `json:"query"`
	Results    []*FusedLabel `json:"results"`
	Total      int           `json:"total"`
	Suggestion string        `json:"suggestion,omitempty"`
	QueryTime  int64         `json:"query_time_ms"`
}

// SearchLabels runs keyword search over indexed labels and semantic search over cached values in
// parallel, then fuses both by folded value. When the keyword side finds nothing, a spelling
// correction built from the index dictionary is suggested.
func (s *Service) SearchLabels(ctx context.Context, q *models.LabelQuery) (*LabelSearchResponse, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, &models.MalformedInputError{Reason: err.Error()}
	}

	var (
		hits     []*keyword.LabelHit
		scored   []similarity.Scored
		rawByKey map[string]string
		errChan  = make(chan error, 2)
		wg       sync.WaitGroup
	)

	if q.KeywordWeight > 0 && s.labels != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.labels.Search(ctx, q.Query, candidatePool, &keyword.SearchOptions{
				Kind:      q.Kind,
				Source:    q.Source,
				Fuzziness: q.Fuzziness,
			})
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			hits = res
		}()
	}

	// Cached values are grammar labels and observed values; taxonomy filters leave them out.
	if q.SemanticWeight > 0 && q.Kind != keyword.KindTaxonomy && q.Source == "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := s.embedder.Embed(ctx, q.Query)
			if err != nil {
				errChan <- &models.EmbeddingComputationError{Value: q.Query, Err: err}
				return
			}
			records := s.cache.Records()
			candidates := make([]similarity.Candidate, 0, len(records))
			raw := make(map[string]string, len(records))
			for _, r := range records {
				if len(r.Vector) != len(vec) {
					continue
				}
				if q.Kind != "" && r.Source != q.Kind {
					continue
				}
				candidates = append(candidates, similarity.Candidate{Key: r.ValueHash, Vector: r.Vector})
				raw[r.ValueHash] = r.RawValue
			}
			ranked := similarity.Rank(vec, candidates)
			if len(ranked) > candidatePool {
				ranked = ranked[:candidatePool]
			}
			scored, rawByKey = ranked, raw
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	kwScores, kwDisplay, kinds := normalizeKeywordScores(hits)
	semScores, semDisplay := semanticScores(scored, rawByKey)
	fused := fuse(kwScores, semScores, q.KeywordWeight, q.SemanticWeight)
	for _, f := range fused {
		f.Value = kwDisplay[f.Key]
		if f.Value == "" {
			f.Value = semDisplay[f.Key]
		}
		f.Kinds = kinds[f.Key]
	}

	resp := &LabelSearchResponse{Query: q.Query, Total: len(fused)}
	if len(fused) > q.Limit {
		fused = fused[:q.Limit]
	}
	resp.Results = fused
	if len(hits) == 0 && s.labels != nil && q.KeywordWeight > 0 {
		if terms, err := s.labels.Terms(); err == nil {
			if corrected, ok := keyword.NewSuggester(terms, 2).Correct(q.Query); ok {
				resp.Suggestion = corrected
			}
		}
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}
