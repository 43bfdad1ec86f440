package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMockEmbedder(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "Bluetooth 5.0")
	b, _ := e.Embed(ctx, "bluetooth  5.0")
	c, _ := e.Embed(ctx, "Bluetooth 5")
	d, _ := e.Embed(ctx, "Battery capacity")

	if len(a) != 256 {
		t.Fatalf("dimensions: got %d", len(a))
	}
	if s := cosine(a, b); s < 0.9999 {
		t.Errorf("same folded text should embed identically, got %f", s)
	}
	if cosine(a, c) <= cosine(a, d) {
		t.Errorf("shared words should score higher: %f vs %f", cosine(a, c), cosine(a, d))
	}
	if NewMockEmbedder(0).Dimensions() != 384 {
		t.Error("default dimensions should be 384")
	}
}

func TestCachedEmbedder(t *testing.T) {
	var calls atomic.Int32
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8), calls: &calls}
	c, err := NewCachedEmbedder(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, _ = c.Embed(ctx, "Memory")
	_, _ = c.Embed(ctx, "MEMORY")
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}

	out, err := c.EmbedBatch(ctx, []string{"memory", "Battery", "Color"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || out[1] == nil || out[2] == nil {
		t.Fatalf("batch output: %v", out)
	}
	if calls.Load() != 3 {
		t.Errorf("calls after batch: got %d, want 3", calls.Load())
	}
	if c.Len() != 2 {
		t.Errorf("memo should be bounded to 2, got %d", c.Len())
	}
	if c.Dimensions() != 8 {
		t.Errorf("dimensions: got %d", c.Dimensions())
	}
}

type countingEmbedder struct {
	*MockEmbedder
	calls *atomic.Int32
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return e.MockEmbedder.Embed(ctx, text)
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e.Embed, texts)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req ollamaEmbedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if req.Model != "nomic-embed-text" {
				http.Error(w, "unknown model", http.StatusNotFound)
				return
			}
			resp := ollamaEmbedResponse{}
			for i := range req.Input {
				resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1, 0})
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	e := NewOllamaEmbedder(srv.URL+"/", "nomic-embed-text", 0)
	vec, err := e.Embed(ctx, "Memory")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || e.Dimensions() != 3 {
		t.Errorf("vec=%v dims=%d", vec, e.Dimensions())
	}
	batch, err := e.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 || batch[1][0] != 1 {
		t.Errorf("batch: %v", batch)
	}
	if err := e.Healthy(ctx); err != nil {
		t.Errorf("healthy: %v", err)
	}

	bad := NewOllamaEmbedder(srv.URL, "missing-model", 0)
	if _, err := bad.Embed(ctx, "x"); err == nil {
		t.Error("expected error for unknown model")
	}

	wrongDims := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 768)
	if _, err := wrongDims.Embed(ctx, "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "Bluetooth Version")
	}
}
