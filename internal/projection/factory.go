package projection

import (
	"fmt"

	"github.com/hyperjump/gramaudit/internal/config"
)

// NewReducer returns the reducer named by cfg.Reducer.
func NewReducer(cfg config.ProjectionConfig) (Reducer, error) {
	switch cfg.Reducer {
	case "", "pca":
		return PCAReducer{}, nil
	case "command":
		return NewCommandReducer(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown projection reducer: %q (supported: pca, command)", cfg.Reducer)
	}
}
