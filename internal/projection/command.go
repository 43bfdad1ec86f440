package projection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hyperjump/gramaudit/internal/models"
)

// CommandReducer runs an external program (typically a UMAP script) as the reducer.
// The program reads one JSON request on stdin and writes one JSON response on stdout.
type CommandReducer struct {
	Argv []string
}

type commandRequest struct {
	Vectors     [][]float64 `json:"vectors"`
	Dimensions  int         `json:"n_components"`
	Neighbors   int         `json:"n_neighbors"`
	MinDistance float64     `json:"min_dist"`
	Metric      string      `json:"metric"`
	Seed        int64       `json:"random_state"`
}

type commandResponse struct {
	Coordinates [][]float64 `json:"coordinates"`
	Error       string      `json:"error,omitempty"`
}

// NewCommandReducer returns a reducer that executes argv.
func NewCommandReducer(argv []string) (*CommandReducer, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("reducer command is empty")
	}
	return &CommandReducer{Argv: append([]string(nil), argv...)}, nil
}

// Reduce implements Reducer. Cancelling ctx kills the process.
func (r *CommandReducer) Reduce(ctx context.Context, data [][]float64, cfg models.ProjectionConfig) ([][]float64, error) {
	req, err := json.Marshal(commandRequest{
		Vectors:     data,
		Dimensions:  cfg.Dimensions,
		Neighbors:   cfg.Neighbors,
		MinDistance: cfg.MinDistance,
		Metric:      cfg.Metric,
		Seed:        cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal reducer request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Argv[0], r.Argv[1:]...)
	cmd.Stdin = bytes.NewReader(req)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reducer %s: %w: %s", r.Argv[0], err, strings.TrimSpace(stderr.String()))
	}

	var resp commandResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode reducer response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("reducer %s: %s", r.Argv[0], resp.Error)
	}
	return resp.Coordinates, nil
}
