package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/projection"
	"github.com/hyperjump/gramaudit/internal/similarity"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

// SimilarValue is a cached value scored against a query.
type SimilarValue struct {
	ValueHash  string  `json:"value_hash"`
	Value      string  `json:"value"`
	Source     string  `json:"source,omitempty"`
	UsageCount int64   `json:"usage_count"`
	Score      float64 `json:"score"`
	Percent    int     `json:"percent"`
}

// Similar lists cached values whose similarity to q.Value reaches the threshold, best first.
// A value already in the cache is compared by its stored vector and excluded from its own results;
// any other value is embedded without being recorded.
func (s *Service) Similar(ctx context.Context, q *models.SimilarQuery) ([]SimilarValue, error) {
	if err := q.Validate(); err != nil {
		return nil, &models.MalformedInputError{Reason: err.Error()}
	}
	threshold := models.ThresholdOr(q.Threshold, s.cfg.SimilarityThreshold)

	self := textnorm.ValueHash(q.Value)
	var vec []float32
	if rec, ok := s.cache.LookupHash(self); ok {
		vec = rec.Vector
	} else {
		v, err := s.embedder.Embed(ctx, q.Value)
		if err != nil {
			return nil, &models.EmbeddingComputationError{Value: q.Value, Err: err}
		}
		vec = v
	}

	records := s.cache.Records()
	byHash := make(map[string]*models.EmbeddingRecord, len(records))
	candidates := make([]similarity.Candidate, 0, len(records))
	for _, r := range records {
		if r.ValueHash == self || len(r.Vector) != len(vec) {
			continue
		}
		byHash[r.ValueHash] = r
		candidates = append(candidates, similarity.Candidate{Key: r.ValueHash, Vector: r.Vector})
	}

	matches := similarity.Match(vec, candidates, threshold)
	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	out := make([]SimilarValue, len(matches))
	for i, m := range matches {
		r := byHash[m.Key]
		out[i] = SimilarValue{
			ValueHash:  r.ValueHash,
			Value:      r.RawValue,
			Source:     r.Source,
			UsageCount: r.UsageCount,
			Score:      m.Score,
			Percent:    models.MatchPercent(m.Score),
		}
	}
	return out, nil
}

// DuplicateMember is one value of a near-duplicate group.
type DuplicateMember struct {
	ValueHash  string `json:"value_hash"`
	Value      string `json:"value"`
	UsageCount int64  `json:"usage_count"`
}

// DuplicateReport lists groups of cached values that are near-duplicates of each other.
type DuplicateReport struct {
	Threshold float64             `json:"threshold"`
	Groups    [][]DuplicateMember `json:"groups"`
	Pairs     []DuplicatePair     `json:"pairs"`
}

// DuplicatePair is two cached values and their similarity.
type DuplicatePair struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// Duplicates groups cached values by pairwise similarity at or above threshold; nil uses the
// configured duplicate threshold. Members within a group are ordered by usage, most used first.
func (s *Service) Duplicates(t *float64) (*DuplicateReport, error) {
	threshold := models.ThresholdOr(t, s.cfg.DuplicateThreshold)
	if threshold < 0 || threshold > 1 {
		return nil, &models.MalformedInputError{Reason: fmt.Sprintf("threshold must be within [0,1], got %g", threshold)}
	}
	records := s.cache.Records()
	byHash := make(map[string]*models.EmbeddingRecord, len(records))
	items := make([]similarity.Candidate, 0, len(records))
	for _, r := range records {
		if len(r.Vector) == 0 {
			continue
		}
		byHash[r.ValueHash] = r
		items = append(items, similarity.Candidate{Key: r.ValueHash, Vector: r.Vector})
	}

	report := &DuplicateReport{Threshold: threshold, Groups: [][]DuplicateMember{}, Pairs: []DuplicatePair{}}
	for _, group := range similarity.GroupNearDuplicates(items, threshold) {
		members := make([]DuplicateMember, len(group))
		for i, h := range group {
			r := byHash[h]
			members[i] = DuplicateMember{ValueHash: h, Value: r.RawValue, UsageCount: r.UsageCount}
		}
		sort.SliceStable(members, func(i, j int) bool { return members[i].UsageCount > members[j].UsageCount })
		report.Groups = append(report.Groups, members)
	}
	for _, p := range similarity.Pairs(items, threshold) {
		report.Pairs = append(report.Pairs, DuplicatePair{A: byHash[p.A].RawValue, B: byHash[p.B].RawValue, Score: p.Score})
	}
	return report, nil
}

// ProjectionReport summarizes a projection batch.
type ProjectionReport struct {
	Points     int           `json:"points"`
	Dimensions []int         `json:"dimensions"`
	Took       time.Duration `json:"took"`
}

// ProjectAll projects every cached vector for each configured dimensionality and persists the
// coordinates. The whole set is projected at once; runs are serialized.
func (s *Service) ProjectAll(ctx context.Context) (*ProjectionReport, error) {
	s.projectMu.Lock()
	defer s.projectMu.Unlock()

	start := time.Now()
	var items []projection.Item
	for _, r := range s.cache.Records() {
		if len(r.Vector) > 0 {
			items = append(items, projection.Item{Key: r.ValueHash, Vector: r.Vector})
		}
	}
	for _, dims := range s.cfg.Projection.Dimensions {
		coords, err := s.projector.Project(ctx, items, s.cfg.Projection.For(dims))
		if err != nil {
			return nil, fmt.Errorf("project %dD: %w", dims, err)
		}
		if err := s.cache.SetProjections(ctx, dims, coords); err != nil {
			return nil, fmt.Errorf("store %dD projections: %w", dims, err)
		}
	}
	report := &ProjectionReport{
		Points:     len(items),
		Dimensions: append([]int(nil), s.cfg.Projection.Dimensions...),
		Took:       time.Since(start),
	}
	s.logger.Info("projection complete",
		zap.Int("points", report.Points),
		zap.Ints("dimensions", report.Dimensions),
		zap.Duration("took", report.Took))
	return report, nil
}

// Point is a projected cached value.
type Point struct {
	ValueHash   string             `json:"value_hash"`
	Value       string             `json:"value"`
	Source      string             `json:"source,omitempty"`
	UsageCount  int64              `json:"usage_count"`
	Coordinates models.Coordinates `json:"coordinates"`
}

// Points returns every cached value that has a dims-dimensional projection, ordered by value hash.
func (s *Service) Points(dims int) ([]Point, error) {
	if dims != 2 && dims != 3 {
		return nil, &models.MalformedInputError{Reason: fmt.Sprintf("dimensions must be 2 or 3, got %d", dims)}
	}
	out := []Point{}
	for _, r := range s.cache.Records() {
		c := r.Projected2D
		if dims == 3 {
			c = r.Projected3D
		}
		if len(c) != dims {
			continue
		}
		out = append(out, Point{
			ValueHash:   r.ValueHash,
			Value:       r.RawValue,
			Source:      r.Source,
			UsageCount:  r.UsageCount,
			Coordinates: c,
		})
	}
	return out, nil
}

// Records returns a snapshot of every cached embedding record, ordered by value hash.
func (s *Service) Records() []*models.EmbeddingRecord {
	return s.cache.Records()
}
