// Package config provides configuration loading and structs for the gramaudit server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/gramaudit/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Projection ProjectionConfig `yaml:"projection"`
	Matching   MatchingConfig   `yaml:"matching"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and the label search index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	LabelIndexPath string `yaml:"label_index_path"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // mock, ollama or onnx
	ModelPath   string        `yaml:"model_path"`
	LibraryPath string        `yaml:"library_path"`
	OutputName  string        `yaml:"output_name"`
	Host        string        `yaml:"host"`
	Model       string        `yaml:"model"`
	Dimensions  int           `yaml:"dimensions"`
	MaxTokens   int           `yaml:"max_tokens"`
	CacheSize   int           `yaml:"cache_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ProjectionConfig holds the reducer hyperparameters shared by the 2D and 3D runs.
type ProjectionConfig struct {
	Dimensions  []int    `yaml:"dimensions"`
	Neighbors   int      `yaml:"neighbors"`
	MinDistance float64  `yaml:"min_distance"`
	Metric      string   `yaml:"metric"`
	Seed        int64    `yaml:"seed"`
	Reducer     string   `yaml:"reducer"` // pca or command
	Command     []string `yaml:"command"`
}

// For returns the projection parameters for one target dimensionality.
func (p ProjectionConfig) For(dims int) models.ProjectionConfig {
	return models.ProjectionConfig{
		Dimensions:  dims,
		Neighbors:   p.Neighbors,
		MinDistance: p.MinDistance,
		Metric:      p.Metric,
		Seed:        p.Seed,
	}
}

// MatchingConfig holds similarity thresholds and taxonomy sources.
type MatchingConfig struct {
	SimilarityThreshold float64  `yaml:"similarity_threshold"`
	DuplicateThreshold  float64  `yaml:"duplicate_threshold"`
	TaxonomySources     []string `yaml:"taxonomy_sources"`
	TaxonomyDir         string   `yaml:"taxonomy_dir"`
	MaxCandidates       int      `yaml:"max_candidates"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Core is the explicit configuration object handed to the audit core.
type Core struct {
	EmbeddingDimensions int
	Projection          ProjectionConfig
	SimilarityThreshold float64
	TaxonomySources     []string

	DuplicateThreshold float64
	MaxCandidates      int
	EmbedTimeout       time.Duration
	Extensions         []string
}

// Core extracts the audit core configuration.
func (c *Config) Core() Core {
	return Core{
		EmbeddingDimensions: c.Embedding.Dimensions,
		Projection:          c.Projection,
		SimilarityThreshold: c.Matching.SimilarityThreshold,
		TaxonomySources:     append([]string(nil), c.Matching.TaxonomySources...),
		DuplicateThreshold:  c.Matching.DuplicateThreshold,
		MaxCandidates:       c.Matching.MaxCandidates,
		EmbedTimeout:        c.Embedding.Timeout,
		Extensions:          append([]string(nil), c.Watch.Extensions...),
	}
}

// Validate reports settings that would make the core misbehave.
func (c *Config) Validate() error {
	if t := c.Matching.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("matching.similarity_threshold must be within [0,1], got %g", t)
	}
	if t := c.Matching.DuplicateThreshold; t < 0 || t > 1 {
		return fmt.Errorf("matching.duplicate_threshold must be within [0,1], got %g", t)
	}
	for _, dims := range c.Projection.Dimensions {
		if err := c.Projection.For(dims).Validate(); err != nil {
			return fmt.Errorf("projection: %w", err)
		}
	}
	switch c.Projection.Reducer {
	case "pca":
	case "command":
		if len(c.Projection.Command) == 0 {
			return fmt.Errorf("projection.command is required when reducer is command")
		}
	default:
		return fmt.Errorf("unknown projection reducer: %q (supported: pca, command)", c.Projection.Reducer)
	}
	return nil
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.LabelIndexPath = expandPath(cfg.Storage.LabelIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Matching.TaxonomyDir = expandPath(cfg.Matching.TaxonomyDir, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
