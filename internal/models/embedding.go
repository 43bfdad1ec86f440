package models

import (
	"fmt"
	"time"
)

// Coordinates is a projected 2D or 3D point.
type Coordinates []float64

// EmbeddingRecord is the cached embedding of one distinct normalized text value.
type EmbeddingRecord struct {
	ValueHash   string      `json:"value_hash" db:"value_hash"`
	RawValue    string      `json:"value" db:"value"`
	Source      string      `json:"source,omitempty" db:"source"`
	Vector      []float32   `json:"-" db:"vector"`
	UsageCount  int64       `json:"usage_count" db:"usage_count"`
	Projected2D Coordinates `json:"projected_2d,omitempty" db:"projected_2d"`
	Projected3D Coordinates `json:"projected_3d,omitempty" db:"projected_3d"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// SimilarityMatch is a scored pair produced per query; it is never persisted.
type SimilarityMatch struct {
	SourceValueHash    string  `json:"source_value_hash"`
	CandidateValueHash string  `json:"candidate_value_hash"`
	Score              float64 `json:"score"`
}

// Distance metrics understood by reducers.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
)

// ProjectionConfig holds the fixed hyperparameters of one projection run.
type ProjectionConfig struct {
	Dimensions  int     `json:"dimensions" yaml:"dimensions"`
	Neighbors   int     `json:"neighbors" yaml:"neighbors"`
	MinDistance float64 `json:"min_distance" yaml:"min_distance"`
	Metric      string  `json:"metric" yaml:"metric"`
	Seed        int64   `json:"seed" yaml:"seed"`
}

// Validate returns an error when the config cannot drive a reduction.
func (c ProjectionConfig) Validate() error {
	if c.Dimensions != 2 && c.Dimensions != 3 {
		return fmt.Errorf("projection dimensions must be 2 or 3, got %d", c.Dimensions)
	}
	if c.Neighbors <= 0 {
		return fmt.Errorf("projection neighbors must be positive, got %d", c.Neighbors)
	}
	if c.MinDistance < 0 || c.MinDistance > 1 {
		return fmt.Errorf("projection min_distance must be within [0,1], got %g", c.MinDistance)
	}
	switch c.Metric {
	case MetricCosine, MetricEuclidean:
	default:
		return fmt.Errorf("unknown projection metric: %q (supported: cosine, euclidean)", c.Metric)
	}
	return nil
}

// WithDimensions returns a copy of c targeting dims.
func (c ProjectionConfig) WithDimensions(dims int) ProjectionConfig {
	c.Dimensions = dims
	return c
}
