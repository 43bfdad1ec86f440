// Package storage defines the persistence collaborator for grammars, cohorts, and embeddings.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/gramaudit/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the narrow persistence surface used by the audit core.
// Implementations own all query text; callers never build SQL.
type Storage interface {
	// Cohort operations
	LoadAllCohorts(ctx context.Context) ([]*models.GrammarCohort, error)
	UpsertCohort(ctx context.Context, cohort *models.GrammarCohort) error
	UpsertMembership(ctx context.Context, fileID, cohortID string) error

	// File operations
	UpsertFile(ctx context.Context, file *models.ConfigurationFile) error
	GetFile(ctx context.Context, id string) (*models.ConfigurationFile, error)
	ListFiles(ctx context.Context, offset, limit int) ([]*models.ConfigurationFile, error)
	DeleteFile(ctx context.Context, id string) error

	// Embedding operations
	LoadAllEmbeddings(ctx context.Context) ([]*models.EmbeddingRecord, error)
	UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
	IncrementUsage(ctx context.Context, valueHash string, delta int64) error
	UpdateProjections(ctx context.Context, dims int, coords map[string]models.Coordinates) error

	// Stats
	Stats(ctx context.Context) (*Stats, error)

	// Checkpoint flushes pending writes to the main database file.
	Checkpoint(ctx context.Context) error
	Close() error
}

// Stats summarizes stored data for status reporting.
type Stats struct {
	Files            int64         `json:"files"`
	Cohorts          int64         `json:"cohorts"`
	Embeddings       int64         `json:"embeddings"`
	WithVector       int64         `json:"with_vector"`
	WithProjection2D int64         `json:"with_projection_2d"`
	WithProjection3D int64         `json:"with_projection_3d"`
	BySource         []SourceCount `json:"by_source"`
}

// SourceCount is the per-source breakdown of embedding records.
type SourceCount struct {
	Source         string `json:"source"`
	Count          int64  `json:"count"`
	WithProjection int64  `json:"with_projection"`
}
