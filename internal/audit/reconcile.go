package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/gramaudit/internal/keyword"
	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/taxonomy"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

const batchWorkers = 8

// LoadTaxonomies reads the configured taxonomy sources from dir, embeds entries that lack vectors,
// and installs them.
func (s *Service) LoadTaxonomies(ctx context.Context, dir string) error {
	sets, err := taxonomy.LoadDir(dir, s.cfg.TaxonomySources)
	if err != nil {
		return err
	}
	return s.SetTaxonomies(ctx, sets)
}

// SetTaxonomies prepares sets and replaces the loaded taxonomies. Their order is the order in
// which verdicts are reported.
func (s *Service) SetTaxonomies(ctx context.Context, sets []models.TaxonomySet) error {
	prepared, err := taxonomy.Prepare(ctx, s.embedder, sets)
	if err != nil {
		return err
	}
	if s.labels != nil {
		var docs []keyword.LabelDoc
		for _, set := range prepared {
			for _, e := range set.Entries {
				docs = append(docs, keyword.LabelDoc{
					ID:     keyword.TaxonomyDocID(set.Source, textnorm.ValueHash(e.CanonicalValue)),
					Kind:   keyword.KindTaxonomy,
					Value:  e.CanonicalValue,
					Source: set.Source,
				})
			}
		}
		if err := s.labels.Index(ctx, docs); err != nil {
			return fmt.Errorf("index taxonomy entries: %w", err)
		}
	}

	s.taxMu.Lock()
	s.taxonomies = prepared
	s.taxMu.Unlock()
	for _, set := range prepared {
		s.logger.Info("taxonomy loaded", zap.String("source", set.Source), zap.Int("entries", len(set.Entries)))
	}
	return nil
}

// Taxonomies returns the loaded taxonomy sets. Callers must treat them as read-only.
func (s *Service) Taxonomies() []models.TaxonomySet {
	s.taxMu.RLock()
	defer s.taxMu.RUnlock()
	return s.taxonomies
}

// Reconcile records rawValue in the embedding cache and reports one verdict per loaded taxonomy.
// A nil threshold uses the configured similarity threshold. When embedding fails the value is
// still reconciled if every taxonomy matches it exactly.
func (s *Service) Reconcile(ctx context.Context, rawValue, source string, t *float64) (*models.ReconciliationResult, error) {
	threshold := models.ThresholdOr(t, s.cfg.SimilarityThreshold)
	if threshold < 0 || threshold > 1 {
		return nil, &models.MalformedInputError{Reason: fmt.Sprintf("threshold must be within [0,1], got %g", threshold)}
	}
	sets := s.Taxonomies()
	rec, err := s.cache.GetOrCompute(ctx, rawValue, source, s.embedder.Embed)
	if err != nil {
		if !errors.Is(err, models.ErrEmbeddingComputation) {
			return nil, err
		}
		bare := &models.EmbeddingRecord{ValueHash: textnorm.ValueHash(rawValue), RawValue: rawValue}
		if res, rerr := s.reconciler.Reconcile(ctx, bare, sets, threshold); rerr == nil {
			return res, nil
		}
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, rec, sets, threshold)
}

// BatchItem is the outcome for one value of a batch: exactly one of Result and Error is set.
type BatchItem struct {
	Value  string                       `json:"value"`
	Result *models.ReconciliationResult `json:"result,omitempty"`
	Error  string                       `json:"error,omitempty"`
	Err    error                        `json:"-"`
}

// ReconcileBatch reconciles every value of q concurrently. Items keep the order of q.Values and a
// failing value never fails the batch; only cancellation does.
func (s *Service) ReconcileBatch(ctx context.Context, q *models.ReconcileQuery) ([]BatchItem, error) {
	if err := q.Validate(); err != nil {
		return nil, &models.MalformedInputError{Reason: err.Error()}
	}
	items := make([]BatchItem, len(q.Values))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for i, v := range q.Values {
		g.Go(func() error {
			items[i].Value = v
			res, err := s.Reconcile(gctx, v, q.Source, q.Threshold)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				items[i].Err = err
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
