package embedding

import (
	"fmt"
	"strings"

	"github.com/hyperjump/gramaudit/internal/config"
)

// ONNXOptions configures NewONNXEmbedder.
type ONNXOptions struct {
	ModelPath   string
	LibraryPath string
	OutputName  string
	Dimensions  int
	MaxTokens   int
}

func (o *ONNXOptions) applyDefaults() {
	if o.OutputName == "" {
		o.OutputName = "output"
	}
	if o.Dimensions <= 0 {
		o.Dimensions = 384
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 128
	}
}

// NewEmbedder creates the provider named by cfg.Provider and wraps it in a CachedEmbedder.
func NewEmbedder(cfg *config.EmbeddingConfig) (*CachedEmbedder, error) {
	var inner Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		inner = NewMockEmbedder(cfg.Dimensions)
	case "ollama":
		if cfg.Model == "" {
			return nil, fmt.Errorf("ollama provider requires embedding.model")
		}
		inner = NewOllamaEmbedder(cfg.Host, cfg.Model, cfg.Dimensions)
	case "onnx":
		e, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.LibraryPath,
			OutputName:  cfg.OutputName,
			Dimensions:  cfg.Dimensions,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q (supported: mock, ollama, onnx)", cfg.Provider)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize)
}
