// Package projection reduces embedding vectors to 2D or 3D coordinates for inspection.
package projection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/vector"
)

// MinItems is the smallest batch a reduction is defined for.
const MinItems = 2

// Reducer maps n input rows to n rows of cfg.Dimensions coordinates.
type Reducer interface {
	Reduce(ctx context.Context, data [][]float64, cfg models.ProjectionConfig) ([][]float64, error)
}

// Item is one keyed vector to project.
type Item struct {
	Key    string
	Vector []float32
}

// Projector validates a batch and hands it to a Reducer in a reproducible order.
// Batches are always projected whole; re-projecting a subset moves every point.
type Projector struct {
	reducer Reducer
	logger  *zap.Logger
}

// Option configures a Projector.
type Option func(*Projector)

// WithLogger sets the projector logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProjector returns a Projector that delegates to reducer.
func NewProjector(reducer Reducer, opts ...Option) *Projector {
	p := &Projector{reducer: reducer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project returns coordinates for every item keyed by Item.Key. Items are sorted by key before
// reduction, so the same set with the same config yields the same output regardless of input order.
func (p *Projector) Project(ctx context.Context, items []Item, cfg models.ProjectionConfig) (map[string]models.Coordinates, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(items) < MinItems {
		return nil, &models.InsufficientDataError{Got: len(items), Need: MinItems}
	}

	sorted := append([]Item(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	dims := len(sorted[0].Vector)
	data := make([][]float64, len(sorted))
	for i, it := range sorted {
		if i > 0 && it.Key == sorted[i-1].Key {
			return nil, fmt.Errorf("duplicate projection key: %s", it.Key)
		}
		if len(it.Vector) == 0 || len(it.Vector) != dims {
			return nil, fmt.Errorf("vector for %s has %d dimensions, expected %d", it.Key, len(it.Vector), dims)
		}
		data[i] = vector.ToFloat64(it.Vector)
	}

	start := time.Now()
	out, err := p.reducer.Reduce(ctx, data, cfg)
	if err != nil {
		return nil, fmt.Errorf("reduction failed: %w", err)
	}
	if len(out) != len(sorted) {
		return nil, fmt.Errorf("reducer returned %d rows for %d inputs", len(out), len(sorted))
	}

	coords := make(map[string]models.Coordinates, len(sorted))
	for i, row := range out {
		if len(row) != cfg.Dimensions {
			return nil, fmt.Errorf("reducer returned %d coordinates for %s, expected %d", len(row), sorted[i].Key, cfg.Dimensions)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("reducer returned a non-finite coordinate for %s", sorted[i].Key)
			}
		}
		coords[sorted[i].Key] = models.Coordinates(row)
	}

	p.logger.Info("projection complete",
		zap.Int("points", len(coords)),
		zap.Int("dimensions", cfg.Dimensions),
		zap.Duration("took", time.Since(start)))
	return coords, nil
}
