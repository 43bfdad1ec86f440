package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/gramaudit/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]*models.EmbeddingRecord
	upserts   int
	failUsage bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*models.EmbeddingRecord)}
}

func (s *fakeStore) LoadAllEmbeddings(ctx context.Context) ([]*models.EmbeddingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.EmbeddingRecord
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if _, ok := s.records[rec.ValueHash]; !ok {
		cp := *rec
		s.records[rec.ValueHash] = &cp
	}
	return nil
}

func (s *fakeStore) IncrementUsage(ctx context.Context, valueHash string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsage {
		return errors.New("database is locked")
	}
	r, ok := s.records[valueHash]
	if !ok {
		return errors.New("not found")
	}
	r.UsageCount += delta
	return nil
}

func (s *fakeStore) UpdateProjections(ctx context.Context, dims int, coords map[string]models.Coordinates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, c := range coords {
		if r, ok := s.records[h]; ok {
			if dims == 2 {
				r.Projected2D = c
			} else {
				r.Projected3D = c
			}
		}
	}
	return nil
}

func (s *fakeStore) usage(hash string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[hash].UsageCount
}

// countingEmbed returns a fixed vector and counts calls.
func countingEmbed(calls *atomic.Int32) EmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return []float32{1, 0, 0}, nil
	}
}

func TestCache_HitPreservesFirstRawValue(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	ctx := context.Background()
	var calls atomic.Int32

	first, err := cache.GetOrCompute(ctx, "Memory", "attribute", countingEmbed(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if first.UsageCount != 1 {
		t.Errorf("first usage: got %d, want 1", first.UsageCount)
	}

	second, err := cache.GetOrCompute(ctx, "MEMORY ", "attribute", countingEmbed(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if second.RawValue != "Memory" {
		t.Errorf("raw value: got %q, want %q", second.RawValue, "Memory")
	}
	if second.UsageCount != 2 {
		t.Errorf("second usage: got %d, want 2", second.UsageCount)
	}
	if second.ValueHash != first.ValueHash {
		t.Error("value hash should not depend on casing or whitespace")
	}
	if calls.Load() != 1 {
		t.Errorf("embed calls: got %d, want 1", calls.Load())
	}
	if store.usage(first.ValueHash) != 2 {
		t.Errorf("persisted usage: got %d, want 2", store.usage(first.ValueHash))
	}
}

func TestCache_ConcurrentMissesEmbedOnce(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	embed := func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		<-release
		return []float32{0, 1}, nil
	}

	const n = 50
	var wg sync.WaitGroup
	var started sync.WaitGroup
	recs := make([]*models.EmbeddingRecord, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			rec, err := cache.GetOrCompute(ctx, "Bluetooth 5.0", "component", embed)
			if err != nil {
				t.Error(err)
				return
			}
			recs[i] = rec
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("embed calls: got %d, want 1", calls.Load())
	}
	if cache.Len() != 1 {
		t.Errorf("records: got %d, want 1", cache.Len())
	}
	rec, _ := cache.Lookup("bluetooth 5.0")
	if rec.UsageCount != n {
		t.Errorf("usage: got %d, want %d", rec.UsageCount, n)
	}
	if store.upserts != 1 {
		t.Errorf("upserts: got %d, want 1", store.upserts)
	}
}

func TestCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	cache := NewCache(newFakeStore(), WithTimeout(time.Second))

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	embed := func(ctx context.Context, text string) ([]float32, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return []float32{0, 1}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCompute(firstCtx, "Memory", "attribute", embed)
		firstErr <- err
	}()
	<-started

	type result struct {
		rec *models.EmbeddingRecord
		err error
	}
	second := make(chan result, 1)
	go func() {
		rec, err := cache.GetOrCompute(context.Background(), "memory", "attribute", embed)
		second <- result{rec, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-firstErr
	if !errors.Is(err, models.ErrEmbeddingComputation) || !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: expected cancellation computation error, got %v", err)
	}

	close(release)
	res := <-second
	if res.err != nil {
		t.Fatalf("caller with a live context should get the shared result, got %v", res.err)
	}
	if res.rec.RawValue != "Memory" {
		t.Errorf("raw value: got %q, want %q", res.rec.RawValue, "Memory")
	}
	if calls.Load() != 1 {
		t.Errorf("embed calls: got %d, want 1", calls.Load())
	}
	if cache.Len() != 1 {
		t.Errorf("records: got %d, want 1", cache.Len())
	}
}

func TestCache_FailureIsNotCached(t *testing.T) {
	cache := NewCache(newFakeStore())
	ctx := context.Background()

	boom := errors.New("provider unavailable")
	_, err := cache.GetOrCompute(ctx, "Battery", "", func(ctx context.Context, text string) ([]float32, error) {
		return nil, boom
	})
	if !errors.Is(err, models.ErrEmbeddingComputation) {
		t.Fatalf("expected ErrEmbeddingComputation, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
	var ece *models.EmbeddingComputationError
	if !errors.As(err, &ece) || ece.Value != "Battery" {
		t.Errorf("expected EmbeddingComputationError for Battery, got %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("failed value should not be cached")
	}

	var calls atomic.Int32
	rec, err := cache.GetOrCompute(ctx, "Battery", "", countingEmbed(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 || rec.UsageCount != 1 {
		t.Errorf("retry: calls=%d usage=%d", calls.Load(), rec.UsageCount)
	}
}

func TestCache_Timeout(t *testing.T) {
	cache := NewCache(newFakeStore(), WithTimeout(10*time.Millisecond))
	_, err := cache.GetOrCompute(context.Background(), "Slow", "", func(ctx context.Context, text string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, models.ErrEmbeddingComputation) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout computation error, got %v", err)
	}
	if cache.Len() != 0 {
		t.Error("timed out value should not be cached")
	}
}

func TestCache_IgnoresLateResultPastDeadline(t *testing.T) {
	cache := NewCache(newFakeStore(), WithTimeout(5*time.Millisecond))
	_, err := cache.GetOrCompute(context.Background(), "Stubborn", "", func(ctx context.Context, text string) ([]float32, error) {
		time.Sleep(20 * time.Millisecond)
		return []float32{1}, nil
	})
	if !errors.Is(err, models.ErrEmbeddingComputation) {
		t.Fatalf("expected computation error, got %v", err)
	}
	if cache.Len() != 0 {
		t.Error("late result should not be cached")
	}
}

func TestCache_RejectsBadVectors(t *testing.T) {
	cache := NewCache(newFakeStore(), WithDimensions(3))
	ctx := context.Background()
	tests := []struct {
		name string
		vec  []float32
	}{
		{"empty", nil},
		{"wrong dimensions", []float32{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cache.GetOrCompute(ctx, tt.name, "", func(ctx context.Context, text string) ([]float32, error) {
				return tt.vec, nil
			})
			if !errors.Is(err, models.ErrEmbeddingComputation) {
				t.Errorf("expected computation error, got %v", err)
			}
		})
	}
}

func TestCache_EmptyValue(t *testing.T) {
	cache := NewCache(newFakeStore())
	var calls atomic.Int32
	_, err := cache.GetOrCompute(context.Background(), "   ", "", countingEmbed(&calls))
	if !errors.Is(err, models.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("embed should not be called for empty values")
	}
}

func TestCache_UsageFailureLeavesCountUnchanged(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	ctx := context.Background()
	var calls atomic.Int32
	rec, _ := cache.GetOrCompute(ctx, "Memory", "", countingEmbed(&calls))

	store.failUsage = true
	if _, err := cache.GetOrCompute(ctx, "memory", "", countingEmbed(&calls)); err == nil {
		t.Fatal("expected error when usage cannot be persisted")
	}
	got, _ := cache.LookupHash(rec.ValueHash)
	if got.UsageCount != 1 {
		t.Errorf("usage: got %d, want 1", got.UsageCount)
	}
}

func TestCache_InitAndProjections(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	var calls atomic.Int32

	first := NewCache(store)
	rec, _ := first.GetOrCompute(ctx, "Memory", "attribute", countingEmbed(&calls))
	_, _ = first.GetOrCompute(ctx, "Battery", "attribute", countingEmbed(&calls))

	second := NewCache(store)
	if err := second.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if second.Len() != 2 {
		t.Fatalf("records after init: got %d, want 2", second.Len())
	}
	// A loaded value is a hit.
	if _, err := second.GetOrCompute(ctx, "memory", "", countingEmbed(&calls)); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("embed calls: got %d, want 2", calls.Load())
	}

	coords := map[string]models.Coordinates{rec.ValueHash: {0.5, -0.5}, "unknown": {1, 1}}
	if err := second.SetProjections(ctx, 2, coords); err != nil {
		t.Fatal(err)
	}
	got, _ := second.LookupHash(rec.ValueHash)
	if len(got.Projected2D) != 2 || got.Projected2D[0] != 0.5 {
		t.Errorf("projection not backfilled: %v", got.Projected2D)
	}
	if got.Projected3D != nil {
		t.Errorf("3D should be unset: %v", got.Projected3D)
	}
	if err := second.SetProjections(ctx, 4, coords); err == nil {
		t.Error("expected error for unsupported dimensions")
	}

	recs := second.Records()
	if len(recs) != 2 || recs[0].ValueHash > recs[1].ValueHash {
		t.Errorf("records should be sorted by hash: %v", recs)
	}
}
