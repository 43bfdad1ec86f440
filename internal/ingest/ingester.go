package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/gramaudit/internal/cohort"
	"github.com/hyperjump/gramaudit/internal/embedding"
	"github.com/hyperjump/gramaudit/internal/extract"
	"github.com/hyperjump/gramaudit/internal/fileid"
	"github.com/hyperjump/gramaudit/internal/keyword"
	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/signature"
	"github.com/hyperjump/gramaudit/internal/storage"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

// Embedding sources recorded for values first seen during ingestion.
const (
	SourceAttribute = keyword.KindAttribute
	SourceOption    = keyword.KindOption
)

const defaultWorkers = 4

// FileStore is the persistence the ingester needs.
type FileStore interface {
	UpsertFile(ctx context.Context, file *models.ConfigurationFile) error
	GetFile(ctx context.Context, id string) (*models.ConfigurationFile, error)
	DeleteFile(ctx context.Context, id string) error
}

// Report summarizes one ingested file.
type Report struct {
	FileID    string              `json:"file_id"`
	Path      string              `json:"path"`
	CohortID  string              `json:"cohort_id"`
	Hash      string              `json:"signature_hash"`
	Positions int                 `json:"positions"`
	Embedded  int                 `json:"embedded"`
	Skipped   bool                `json:"skipped,omitempty"`
	Failed    []models.ValueError `json:"failed,omitempty"`
}

// FileError is a file that could not be ingested during a directory walk.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e FileError) Unwrap() error { return e.Err }

// Ingester parses grammar files, assigns them to cohorts, persists them, and embeds their text values.
type Ingester struct {
	store      FileStore
	registry   *cohort.Registry
	cache      *embedding.Cache
	embed      embedding.EmbedFunc
	labels     keyword.LabelIndex
	extractor  *extract.Extractor
	extensions []string
	workers    int
	logger     *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingester) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithLabelIndex makes the ingester index labels and option values for search.
func WithLabelIndex(idx keyword.LabelIndex) Option {
	return func(in *Ingester) { in.labels = idx }
}

// WithExtensions restricts directory ingestion to the given extensions (case-insensitive, dot optional).
func WithExtensions(exts []string) Option {
	return func(in *Ingester) {
		if len(exts) > 0 {
			in.extensions = exts
		}
	}
}

// WithWorkers bounds concurrent embedding calls per file and concurrent files per directory.
func WithWorkers(n int) Option {
	return func(in *Ingester) {
		if n > 0 {
			in.workers = n
		}
	}
}

// NewIngester creates an ingester. embed computes vectors for values the cache has not seen.
func NewIngester(store FileStore, registry *cohort.Registry, cache *embedding.Cache, embed embedding.EmbedFunc, opts ...Option) *Ingester {
	in := &Ingester{
		store:      store,
		registry:   registry,
		cache:      cache,
		embed:      embed,
		extractor:  extract.NewExtractor(),
		extensions: extract.SupportedExtensions,
		workers:    defaultWorkers,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestFile reads the grammar at path and records it. The file ID is derived from the absolute path
// so re-ingesting replaces the previous version. A file whose bytes are unchanged since the last
// ingest is not parsed again and usage counts of its cached values are left alone, but values
// whose embedding failed on an earlier ingest are retried.
//
// Per-value embedding failures are reported in Report.Failed and never abort the file.
func (in *Ingester) IngestFile(ctx context.Context, path string) (*Report, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !extract.Supported(absPath) {
		return nil, &models.MalformedInputError{Reason: fmt.Sprintf("unsupported grammar file: %s", absPath)}
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])
	id := fileid.GrammarID(absPath)

	if prev, err := in.store.GetFile(ctx, id); err == nil && prev.ContentHash == contentHash && prev.Path == absPath {
		in.logger.Debug("ingest skipping unchanged file", zap.String("path", absPath))
		report := &Report{
			FileID:    id,
			Path:      absPath,
			CohortID:  prev.CohortID,
			Hash:      prev.Hash,
			Positions: len(prev.Positions),
			Skipped:   true,
		}
		report.Embedded, report.Failed, err = in.embedValues(ctx, in.uncached(textValues(prev.Positions)))
		if report.Embedded > 0 {
			in.logger.Info("retried missing embeddings",
				zap.String("path", absPath),
				zap.Int("embedded", report.Embedded),
				zap.Int("failed", len(report.Failed)))
		}
		return report, err
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load previous version: %w", err)
	}

	sheets, err := in.extractor.ExtractBytes(content, strings.ToLower(filepath.Ext(absPath)))
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	positions, err := Parse(sheets)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		positions[i].FileID = id
	}
	sig, err := signature.Canonicalize(positions)
	if err != nil {
		return nil, err
	}

	cohortID, err := in.registry.Assign(ctx, sig, id)
	if err != nil {
		return nil, fmt.Errorf("assign cohort: %w", err)
	}
	file := &models.ConfigurationFile{
		ID:          id,
		Path:        absPath,
		Name:        filepath.Base(absPath),
		Hash:        sig.Hash,
		CohortID:    cohortID,
		Positions:   positions,
		ContentHash: contentHash,
	}
	if err := in.store.UpsertFile(ctx, file); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	report := &Report{
		FileID:    id,
		Path:      absPath,
		CohortID:  cohortID,
		Hash:      sig.Hash,
		Positions: len(positions),
	}
	report.Embedded, report.Failed, err = in.embedValues(ctx, textValues(positions))
	if err != nil {
		return report, err
	}
	if err := in.indexLabels(ctx, id, positions); err != nil {
		return report, fmt.Errorf("index labels: %w", err)
	}

	in.logger.Info("grammar ingested",
		zap.String("path", absPath),
		zap.String("file_id", id),
		zap.String("cohort_id", cohortID),
		zap.Int("positions", len(positions)),
		zap.Int("embedded", report.Embedded),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

type textValue struct {
	raw    string
	source string
}

// textValues lists the distinct embeddable labels and option descriptions of positions, in order.
func textValues(positions []models.Position) []textValue {
	seen := make(map[string]struct{})
	var out []textValue
	add := func(raw, source string) {
		if !textnorm.IsEmbeddable(raw) {
			return
		}
		key := textnorm.Fold(raw)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, textValue{raw: raw, source: source})
	}
	for _, p := range positions {
		add(p.Label, SourceAttribute)
		for _, code := range p.OptionCodes {
			add(p.OptionDescriptions[code], SourceOption)
		}
	}
	return out
}

// uncached drops the values the cache already holds.
func (in *Ingester) uncached(values []textValue) []textValue {
	var out []textValue
	for _, v := range values {
		if _, ok := in.cache.Lookup(v.raw); !ok {
			out = append(out, v)
		}
	}
	return out
}

// embedValues runs every value through the cache. Only context cancellation aborts the batch.
func (in *Ingester) embedValues(ctx context.Context, values []textValue) (int, []models.ValueError, error) {
	var (
		mu       sync.Mutex
		failed   []models.ValueError
		embedded int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for _, v := range values {
		g.Go(func() error {
			if _, err := in.cache.GetOrCompute(gctx, v.raw, v.source, in.embed); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				in.logger.Warn("embedding failed", zap.String("value", v.raw), zap.Error(err))
				mu.Lock()
				failed = append(failed, models.ValueError{Value: v.raw, Err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			embedded++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return embedded, failed, err
}

func (in *Ingester) indexLabels(ctx context.Context, fileID string, positions []models.Position) error {
	if in.labels == nil {
		return nil
	}
	if err := in.labels.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	var docs []keyword.LabelDoc
	for _, p := range positions {
		docs = append(docs, keyword.LabelDoc{
			ID:       keyword.AttributeDocID(fileID, p.Index),
			Kind:     keyword.KindAttribute,
			Value:    p.Label,
			FileID:   fileID,
			Position: p.Index,
		})
		for _, code := range p.OptionCodes {
			value := code
			if d := p.OptionDescriptions[code]; d != "" {
				value = d
			}
			docs = append(docs, keyword.LabelDoc{
				ID:       keyword.OptionDocID(fileID, p.Index, code),
				Kind:     keyword.KindOption,
				Value:    value,
				FileID:   fileID,
				Position: p.Index,
			})
		}
	}
	return in.labels.Index(ctx, docs)
}

// IngestDirectory walks dir and ingests every regular file with an allowed extension, up to the
// configured number of files at a time. Reports and failures keep walk order. Files that fail are
// collected in the returned FileErrors; the returned error is reserved for walk failures and
// cancellation.
func (in *Ingester) IngestDirectory(ctx context.Context, dir string, recursive bool) ([]*Report, []FileError, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("not a directory: %s", absDir)
	}

	var paths []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !in.Accepts(path) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	reports := make([]*Report, len(paths))
	errs := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for i, path := range paths {
		g.Go(func() error {
			report, ingestErr := in.IngestFile(gctx, path)
			if ingestErr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				in.logger.Warn("ingest failed", zap.String("path", path), zap.Error(ingestErr))
				errs[i] = ingestErr
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var done []*Report
	var failures []FileError
	for i, path := range paths {
		if errs[i] != nil {
			failures = append(failures, FileError{Path: path, Err: errs[i]})
		} else if reports[i] != nil {
			done = append(done, reports[i])
		}
	}
	return done, failures, nil
}

// Accepts reports whether path has an allowed, supported extension and is not an editor lock file.
func (in *Ingester) Accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), "~$") || !extract.Supported(path) {
		return false
	}
	return extensionAllowed(filepath.Ext(path), in.extensions)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteFile removes a grammar file from storage, its cohort, and the label index.
// The cohort itself is kept.
func (in *Ingester) DeleteFile(ctx context.Context, id string) error {
	if in.labels != nil {
		if err := in.labels.DeleteFile(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from label index: %w", err)
		}
	}
	if err := in.store.DeleteFile(ctx, id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	in.registry.Forget(id)
	in.logger.Debug("grammar deleted", zap.String("file_id", id))
	return nil
}

// DeletePath removes the grammar previously ingested from path.
func (in *Ingester) DeletePath(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return in.DeleteFile(ctx, fileid.GrammarID(absPath))
}
