package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

// Store is the persistence the cache needs.
type Store interface {
	LoadAllEmbeddings(ctx context.Context) ([]*models.EmbeddingRecord, error)
	UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
	IncrementUsage(ctx context.Context, valueHash string, delta int64) error
	UpdateProjections(ctx context.Context, dims int, coords map[string]models.Coordinates) error
}

// Cache maps normalized text values to their embedding records. Each distinct value is embedded at
// most once, even when many callers miss on it concurrently.
type Cache struct {
	store      Store
	logger     *zap.Logger
	timeout    time.Duration
	dimensions int
	flights    singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	rec   models.EmbeddingRecord // UsageCount is tracked in usage; projections guarded by Cache.mu
	usage atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeout bounds each embed call. Zero means no bound beyond the caller's context.
func WithTimeout(d time.Duration) CacheOption {
	return func(c *Cache) { c.timeout = d }
}

// WithDimensions rejects vectors whose length differs from n.
func WithDimensions(n int) CacheOption {
	return func(c *Cache) { c.dimensions = n }
}

// NewCache creates an empty cache backed by store. Call Init to load persisted records.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:   store,
		logger:  zap.NewNop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init replaces the in-memory state with every persisted record.
func (c *Cache) Init(ctx context.Context) error {
	recs, err := c.store.LoadAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	entries := make(map[string]*entry, len(recs))
	for _, r := range recs {
		e := &entry{rec: *r}
		e.usage.Store(r.UsageCount)
		entries[r.ValueHash] = e
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.logger.Info("embedding cache loaded", zap.Int("records", len(entries)))
	return nil
}

// GetOrCompute returns the record for rawValue, embedding it on first sight.
//
// A hit bumps the usage count and never calls embed. A miss calls embed once per normalized value
// across all concurrent callers; callers that waited on that computation count as hits. When embed
// fails or times out nothing is stored and an *models.EmbeddingComputationError is returned.
//
// The shared computation is detached from every caller's cancellation and bounded only by the
// cache timeout. A caller whose ctx ends stops waiting and gets an EmbeddingComputationError;
// the others keep waiting for the result.
func (c *Cache) GetOrCompute(ctx context.Context, rawValue, source string, embed EmbedFunc) (*models.EmbeddingRecord, error) {
	if textnorm.Fold(rawValue) == "" {
		return nil, &models.MalformedInputError{Reason: "value is empty"}
	}
	hash := textnorm.ValueHash(rawValue)

	if e := c.lookup(hash); e != nil {
		return c.bump(ctx, e)
	}

	leader := false
	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(hash, func() (interface{}, error) {
		// A flight for hash may have finished between the lookup above and this one.
		if e := c.lookup(hash); e != nil {
			return e, nil
		}
		leader = true
		return c.compute(detached, hash, rawValue, source, embed)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		e := res.Val.(*entry)
		if leader {
			return c.snapshot(e), nil
		}
		return c.bump(ctx, e)
	case <-ctx.Done():
		return nil, &models.EmbeddingComputationError{Value: rawValue, Err: ctx.Err()}
	}
}

func (c *Cache) compute(ctx context.Context, hash, rawValue, source string, embed EmbedFunc) (*entry, error) {
	ectx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := embed(ectx, rawValue)
	if err == nil {
		// A provider that ignores ctx may still return after the deadline.
		err = ectx.Err()
	}
	if err == nil {
		err = c.checkVector(vec)
	}
	if err != nil {
		c.logger.Warn("embedding failed", zap.String("value_hash", hash), zap.Error(err))
		return nil, &models.EmbeddingComputationError{Value: rawValue, Err: err}
	}

	rec := models.EmbeddingRecord{
		ValueHash:  hash,
		RawValue:   rawValue,
		Source:     source,
		Vector:     append([]float32(nil), vec...),
		UsageCount: 1,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.store.UpsertEmbedding(ctx, &rec); err != nil {
		return nil, fmt.Errorf("failed to persist embedding: %w", err)
	}

	e := &entry{rec: rec}
	e.usage.Store(1)
	c.mu.Lock()
	c.entries[hash] = e
	c.mu.Unlock()

	c.logger.Debug("embedding computed",
		zap.String("value_hash", hash),
		zap.Int("dimensions", len(vec)),
		zap.Duration("took", time.Since(start)))
	return e, nil
}

func (c *Cache) checkVector(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("provider returned an empty vector")
	}
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return fmt.Errorf("provider returned %d dimensions, expected %d", len(vec), c.dimensions)
	}
	return nil
}

// bump persists the usage increment first, then applies it in memory.
func (c *Cache) bump(ctx context.Context, e *entry) (*models.EmbeddingRecord, error) {
	if err := c.store.IncrementUsage(ctx, e.rec.ValueHash, 1); err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	e.usage.Add(1)
	return c.snapshot(e), nil
}

func (c *Cache) lookup(hash string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[hash]
}

func (c *Cache) snapshot(e *entry) *models.EmbeddingRecord {
	c.mu.RLock()
	rec := e.rec
	c.mu.RUnlock()
	rec.UsageCount = e.usage.Load()
	return &rec
}

// Lookup returns the record for rawValue without computing or counting usage.
func (c *Cache) Lookup(rawValue string) (*models.EmbeddingRecord, bool) {
	return c.LookupHash(textnorm.ValueHash(rawValue))
}

// LookupHash returns the record stored under valueHash.
func (c *Cache) LookupHash(valueHash string) (*models.EmbeddingRecord, bool) {
	e := c.lookup(valueHash)
	if e == nil {
		return nil, false
	}
	return c.snapshot(e), true
}

// Records returns a snapshot of every record ordered by value hash.
func (c *Cache) Records() []*models.EmbeddingRecord {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]*models.EmbeddingRecord, len(entries))
	for i, e := range entries {
		out[i] = c.snapshot(e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValueHash < out[j].ValueHash })
	return out
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SetProjections persists and backfills 2D or 3D coordinates. Unknown hashes are ignored in memory.
func (c *Cache) SetProjections(ctx context.Context, dims int, coords map[string]models.Coordinates) error {
	if dims != 2 && dims != 3 {
		return fmt.Errorf("unsupported projection dimensions: %d", dims)
	}
	if err := c.store.UpdateProjections(ctx, dims, coords); err != nil {
		return fmt.Errorf("failed to persist projections: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, p := range coords {
		e, ok := c.entries[hash]
		if !ok {
			continue
		}
		p = append(models.Coordinates(nil), p...)
		if dims == 2 {
			e.rec.Projected2D = p
		} else {
			e.rec.Projected3D = p
		}
	}
	return nil
}
