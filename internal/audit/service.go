// Package audit wires the grammar audit core into one service with an explicit lifecycle:
// Init loads persisted cohorts and embeddings, the service then serves requests, and Close
// flushes and releases every handle it owns.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/gramaudit/internal/cohort"
	"github.com/hyperjump/gramaudit/internal/config"
	"github.com/hyperjump/gramaudit/internal/embedding"
	"github.com/hyperjump/gramaudit/internal/ingest"
	"github.com/hyperjump/gramaudit/internal/keyword"
	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/projection"
	"github.com/hyperjump/gramaudit/internal/storage"
	"github.com/hyperjump/gramaudit/internal/taxonomy"
)

// Deps are the external handles a Service owns. Labels may be nil to disable label search.
type Deps struct {
	Store    storage.Storage
	Embedder embedding.Embedder
	Reducer  projection.Reducer
	Labels   keyword.LabelIndex
}

// Service runs ingestion, reconciliation, similarity, and projection over shared state.
type Service struct {
	cfg      config.Core
	store    storage.Storage
	embedder embedding.Embedder
	labels   keyword.LabelIndex
	logger   *zap.Logger

	registry   *cohort.Registry
	cache      *embedding.Cache
	ingester   *ingest.Ingester
	reconciler *taxonomy.Reconciler
	projector  *projection.Projector

	taxMu      sync.RWMutex
	taxonomies []models.TaxonomySet

	projectMu sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger; components log under named children of it.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Service from cfg and deps. Call Init before serving.
func New(cfg config.Core, deps Deps, opts ...Option) (*Service, error) {
	if deps.Store == nil || deps.Embedder == nil || deps.Reducer == nil {
		return nil, fmt.Errorf("store, embedder and reducer are required")
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be within [0,1], got %g", cfg.SimilarityThreshold)
	}
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		embedder: deps.Embedder,
		labels:   deps.Labels,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = cohort.NewRegistry(s.store, cohort.WithLogger(s.logger.Named("cohort")))
	s.cache = embedding.NewCache(s.store,
		embedding.WithLogger(s.logger.Named("embedding")),
		embedding.WithTimeout(cfg.EmbedTimeout),
		embedding.WithDimensions(cfg.EmbeddingDimensions),
	)
	ingestOpts := []ingest.Option{
		ingest.WithLogger(s.logger.Named("ingest")),
		ingest.WithExtensions(cfg.Extensions),
	}
	if s.labels != nil {
		ingestOpts = append(ingestOpts, ingest.WithLabelIndex(s.labels))
	}
	s.ingester = ingest.NewIngester(s.store, s.registry, s.cache, s.embedder.Embed, ingestOpts...)
	s.reconciler = taxonomy.NewReconciler(
		taxonomy.WithLogger(s.logger.Named("taxonomy")),
		taxonomy.WithMaxCandidates(cfg.MaxCandidates),
	)
	s.projector = projection.NewProjector(deps.Reducer, projection.WithLogger(s.logger.Named("projection")))
	return s, nil
}

// Init loads persisted cohorts and embeddings into memory.
func (s *Service) Init(ctx context.Context) error {
	if err := s.registry.Init(ctx); err != nil {
		return fmt.Errorf("load cohorts: %w", err)
	}
	if err := s.cache.Init(ctx); err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	s.logger.Info("audit service initialized",
		zap.Int("cohorts", s.registry.Len()),
		zap.Int("embeddings", s.cache.Len()))
	return nil
}

// Flush persists buffered state. Writes are already durable, so this checkpoints the store.
func (s *Service) Flush(ctx context.Context) error {
	return s.store.Checkpoint(ctx)
}

// Close flushes and releases every owned handle. It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.Flush(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
		if s.labels != nil {
			if err := s.labels.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close label index: %w", err))
			}
		}
		if err := s.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Config returns the core configuration the service runs with.
func (s *Service) Config() config.Core { return s.cfg }

// IngestFile ingests one grammar spreadsheet.
func (s *Service) IngestFile(ctx context.Context, path string) (*ingest.Report, error) {
	return s.ingester.IngestFile(ctx, path)
}

// IngestDirectory ingests every accepted grammar under dir.
func (s *Service) IngestDirectory(ctx context.Context, dir string, recursive bool) ([]*ingest.Report, []ingest.FileError, error) {
	return s.ingester.IngestDirectory(ctx, dir, recursive)
}

// Accepts reports whether path would be ingested by IngestDirectory.
func (s *Service) Accepts(path string) bool { return s.ingester.Accepts(path) }

// DeleteFile removes a grammar file by ID.
func (s *Service) DeleteFile(ctx context.Context, id string) error {
	return s.ingester.DeleteFile(ctx, id)
}

// DeletePath removes the grammar previously ingested from path.
func (s *Service) DeletePath(ctx context.Context, path string) error {
	return s.ingester.DeletePath(ctx, path)
}

// Files lists ingested files, most recent first.
func (s *Service) Files(ctx context.Context, offset, limit int) ([]*models.ConfigurationFile, error) {
	return s.store.ListFiles(ctx, offset, limit)
}

// File returns one file with its positions.
func (s *Service) File(ctx context.Context, id string) (*models.ConfigurationFile, error) {
	return s.store.GetFile(ctx, id)
}

// Cohorts lists every cohort, oldest first.
func (s *Service) Cohorts() []*models.GrammarCohort {
	return s.registry.Cohorts()
}

// CohortDetail is a cohort with its member files.
type CohortDetail struct {
	*models.GrammarCohort
	Files []*models.ConfigurationFile `json:"files"`
}

// Cohort returns a cohort and its member files. Members whose rows are gone are skipped.
func (s *Service) Cohort(ctx context.Context, id string) (*CohortDetail, error) {
	c, ok := s.registry.Cohort(id)
	if !ok {
		return nil, fmt.Errorf("cohort %s: %w", id, storage.ErrNotFound)
	}
	detail := &CohortDetail{GrammarCohort: c, Files: []*models.ConfigurationFile{}}
	for _, fid := range c.FileIDs {
		f, err := s.store.GetFile(ctx, fid)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		f.Positions = nil
		detail.Files = append(detail.Files, f)
	}
	return detail, nil
}

// TaxonomySummary names a loaded taxonomy and its size.
type TaxonomySummary struct {
	Source  string `json:"source"`
	Entries int    `json:"entries"`
}

// Status summarizes persisted and in-memory state.
type Status struct {
	Storage      *storage.Stats    `json:"storage"`
	Cohorts      int               `json:"cohorts"`
	CachedValues int               `json:"cached_values"`
	LabelDocs    uint64            `json:"label_docs"`
	Taxonomies   []TaxonomySummary `json:"taxonomies"`
}

// Status reports counts for status pages and the CLI.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Status{
		Storage:      st,
		Cohorts:      s.registry.Len(),
		CachedValues: s.cache.Len(),
		Taxonomies:   []TaxonomySummary{},
	}
	if s.labels != nil {
		if n, err := s.labels.DocCount(); err == nil {
			out.LabelDocs = n
		}
	}
	for _, set := range s.Taxonomies() {
		out.Taxonomies = append(out.Taxonomies, TaxonomySummary{Source: set.Source, Entries: len(set.Entries)})
	}
	return out, nil
}
