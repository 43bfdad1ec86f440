package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// OllamaEmbedder calls an Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	host       string
	model      string
	dimensions atomic.Int64
	httpClient *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder returns a client for host (e.g. http://localhost:11434) and model.
// dimensions may be 0, in which case it is learned from the first response.
func NewOllamaEmbedder(host, model string, dimensions int) *OllamaEmbedder {
	e := &OllamaEmbedder{
		host:       strings.TrimRight(host, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	e.dimensions.Store(int64(dimensions))
	return e
}

// Embed returns the embedding vector for text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in a single request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	want := int(e.dimensions.Load())
	for i, emb := range result.Embeddings {
		if len(emb) == 0 {
			return nil, fmt.Errorf("ollama returned an empty embedding for input %d", i)
		}
		if want == 0 {
			e.dimensions.CompareAndSwap(0, int64(len(emb)))
			want = len(emb)
		}
		if len(emb) != want {
			return nil, fmt.Errorf("ollama embedding has %d dimensions, expected %d", len(emb), want)
		}
	}
	return result.Embeddings, nil
}

// Healthy reports whether the Ollama server answers.
func (e *OllamaEmbedder) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health: status %d", resp.StatusCode)
	}
	return nil
}

// Dimensions returns the configured or learned embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Close is a no-op; the HTTP client holds no exclusive resources.
func (e *OllamaEmbedder) Close() error {
	return nil
}
