// Package taxonomy reconciles observed values against canonical reference taxonomies.
package taxonomy

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/similarity"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

// DefaultMaxCandidates bounds the ranked candidate list of each verdict.
const DefaultMaxCandidates = 5

// Reconciler scores a value against each taxonomy independently: an exact case-insensitive
// match wins outright, otherwise the best cosine match decides between partial and no.
type Reconciler struct {
	maxCandidates int
	logger        *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxCandidates sets how many ranked candidates each fuzzy verdict carries.
func WithMaxCandidates(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxCandidates = n
		}
	}
}

// NewReconciler returns a Reconciler.
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{maxCandidates: DefaultMaxCandidates, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile returns one verdict per set, in the order of sets. Sets may be evaluated concurrently.
// value.Vector is only consulted for sets without an exact match; every entry of such a set must
// carry a vector (see Prepare).
func (r *Reconciler) Reconcile(ctx context.Context, value *models.EmbeddingRecord, sets []models.TaxonomySet, threshold float64) (*models.ReconciliationResult, error) {
	if value == nil {
		return nil, fmt.Errorf("value is required")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be within [0,1], got %g", threshold)
	}

	verdicts := make([]models.TaxonomyVerdict, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	for i := range sets {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := r.evaluate(value, sets[i], threshold)
			if err != nil {
				return fmt.Errorf("taxonomy %s: %w", sets[i].Source, err)
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.ReconciliationResult{
		ValueHash:  value.ValueHash,
		RawValue:   value.RawValue,
		Taxonomies: verdicts,
	}, nil
}

func (r *Reconciler) evaluate(value *models.EmbeddingRecord, set models.TaxonomySet, threshold float64) (models.TaxonomyVerdict, error) {
	verdict := models.TaxonomyVerdict{Source: set.Source, Verdict: models.VerdictNo, Candidates: []models.Candidate{}}

	if entry, ok := exactMatch(value.RawValue, set); ok {
		best := models.Candidate{Value: entry.CanonicalValue, Score: 1, Percent: 100}
		verdict.Verdict = models.VerdictYes
		verdict.Score = 1
		verdict.Percent = 100
		verdict.Best = &best
		verdict.Candidates = []models.Candidate{best}
		return verdict, nil
	}
	if len(set.Entries) == 0 {
		return verdict, nil
	}
	if len(value.Vector) == 0 {
		return verdict, fmt.Errorf("value %q has no vector for fuzzy matching", value.RawValue)
	}

	candidates := make([]similarity.Candidate, len(set.Entries))
	for i, e := range set.Entries {
		if len(e.Vector) == 0 {
			return verdict, fmt.Errorf("entry %q has no vector", e.CanonicalValue)
		}
		candidates[i] = similarity.Candidate{Key: e.CanonicalValue, Vector: e.Vector}
	}

	ranked := similarity.Rank(value.Vector, candidates)
	if len(ranked) > r.maxCandidates {
		ranked = ranked[:r.maxCandidates]
	}
	for _, s := range ranked {
		verdict.Candidates = append(verdict.Candidates, models.Candidate{
			Value:   s.Key,
			Score:   s.Score,
			Percent: models.MatchPercent(s.Score),
		})
	}

	best := verdict.Candidates[0]
	verdict.Score = best.Score
	verdict.Percent = best.Percent
	if best.Score >= threshold {
		verdict.Verdict = models.VerdictPartial
		verdict.Best = &best
	}
	r.logger.Debug("fuzzy match",
		zap.String("source", set.Source),
		zap.String("value_hash", value.ValueHash),
		zap.String("best", best.Value),
		zap.Float64("score", best.Score))
	return verdict, nil
}

func exactMatch(raw string, set models.TaxonomySet) (models.TaxonomyEntry, bool) {
	for _, e := range set.Entries {
		if textnorm.Equal(raw, e.CanonicalValue) {
			return e, true
		}
	}
	return models.TaxonomyEntry{}, false
}
