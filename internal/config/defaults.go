package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/gramaudit/data/db/gramaudit.db"
	}
	if cfg.Storage.LabelIndexPath == "" {
		cfg.Storage.LabelIndexPath = "/usr/local/var/gramaudit/data/indices/labels"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Host == "" {
		cfg.Embedding.Host = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 128
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}

	if cfg.Projection.Dimensions == nil {
		cfg.Projection.Dimensions = []int{2, 3}
	}
	if cfg.Projection.Neighbors == 0 {
		cfg.Projection.Neighbors = 20
	}
	if cfg.Projection.MinDistance == 0 {
		cfg.Projection.MinDistance = 0.1
	}
	if cfg.Projection.Metric == "" {
		cfg.Projection.Metric = "cosine"
	}
	if cfg.Projection.Seed == 0 {
		cfg.Projection.Seed = 42
	}
	if cfg.Projection.Reducer == "" {
		cfg.Projection.Reducer = "pca"
	}

	if cfg.Matching.SimilarityThreshold == 0 {
		cfg.Matching.SimilarityThreshold = 0.85
	}
	if cfg.Matching.DuplicateThreshold == 0 {
		cfg.Matching.DuplicateThreshold = 0.9
	}
	if cfg.Matching.TaxonomySources == nil {
		cfg.Matching.TaxonomySources = []string{"zebra", "htb"}
	}
	if cfg.Matching.TaxonomyDir == "" {
		cfg.Matching.TaxonomyDir = "/usr/local/var/gramaudit/data/taxonomies"
	}
	if cfg.Matching.MaxCandidates == 0 {
		cfg.Matching.MaxCandidates = 5
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".xlsx", ".csv"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
