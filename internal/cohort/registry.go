// Package cohort groups configuration files that share a structural signature.
package cohort

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/gramaudit/internal/models"
)

var cohortNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/hyperjump/gramaudit/cohort"))

// IDFor returns the cohort ID for a signature hash. The same hash always yields the same ID.
func IDFor(hash string) string {
	return uuid.NewSHA1(cohortNamespace, []byte(hash)).String()
}

// Store is the persistence the registry needs.
type Store interface {
	LoadAllCohorts(ctx context.Context) ([]*models.GrammarCohort, error)
	UpsertCohort(ctx context.Context, cohort *models.GrammarCohort) error
	UpsertMembership(ctx context.Context, fileID, cohortID string) error
}

// Registry maps signature hashes to cohorts and files to their cohort.
type Registry struct {
	store  Store
	logger *zap.Logger
	keys   *keyedMutex

	mu     sync.RWMutex
	byHash map[string]*models.GrammarCohort
	byID   map[string]*models.GrammarCohort
	fileOf map[string]string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry backed by store. Call Init to load persisted cohorts.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		logger: zap.NewNop(),
		keys:   newKeyedMutex(),
		byHash: make(map[string]*models.GrammarCohort),
		byID:   make(map[string]*models.GrammarCohort),
		fileOf: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init replaces the in-memory state with every persisted cohort and membership.
func (r *Registry) Init(ctx context.Context) error {
	cohorts, err := r.store.LoadAllCohorts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cohorts: %w", err)
	}

	byHash := make(map[string]*models.GrammarCohort, len(cohorts))
	byID := make(map[string]*models.GrammarCohort, len(cohorts))
	fileOf := make(map[string]string)
	for _, c := range cohorts {
		byHash[c.Hash] = c
		byID[c.ID] = c
		for _, f := range c.FileIDs {
			fileOf[f] = c.ID
		}
	}

	r.mu.Lock()
	r.byHash, r.byID, r.fileOf = byHash, byID, fileOf
	r.mu.Unlock()

	r.logger.Info("cohorts loaded", zap.Int("cohorts", len(byHash)), zap.Int("files", len(fileOf)))
	return nil
}

// Assign places fileID in the cohort for sig, creating the cohort on first sight of its hash.
// A file already in another cohort is moved. Re-assigning to the same cohort is a no-op apart from
// the idempotent persistence write.
func (r *Registry) Assign(ctx context.Context, sig *models.StructuralSignature, fileID string) (string, error) {
	if sig == nil || sig.Hash == "" {
		return "", fmt.Errorf("signature hash is required")
	}
	if fileID == "" {
		return "", fmt.Errorf("file ID is required")
	}

	// Hash first, then file; file locks are never held while waiting on a hash.
	unlockHash := r.keys.Lock("hash:" + sig.Hash)
	defer unlockHash()
	unlockFile := r.keys.Lock("file:" + fileID)
	defer unlockFile()

	r.mu.RLock()
	cohort, ok := r.byHash[sig.Hash]
	r.mu.RUnlock()

	if !ok {
		cohort = &models.GrammarCohort{
			ID:        IDFor(sig.Hash),
			Hash:      sig.Hash,
			Signature: sig,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.store.UpsertCohort(ctx, cohort); err != nil {
			return "", fmt.Errorf("failed to persist cohort: %w", err)
		}
		r.mu.Lock()
		r.byHash[cohort.Hash] = cohort
		r.byID[cohort.ID] = cohort
		r.mu.Unlock()
		r.logger.Info("cohort created", zap.String("cohort_id", cohort.ID), zap.String("hash", cohort.Hash))
	}

	if err := r.store.UpsertMembership(ctx, fileID, cohort.ID); err != nil {
		return "", fmt.Errorf("failed to persist membership: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, had := r.fileOf[fileID]; had && prev != cohort.ID {
		if old, ok := r.byID[prev]; ok {
			old.FileIDs = removeSorted(old.FileIDs, fileID)
		}
		r.logger.Debug("file moved between cohorts",
			zap.String("file_id", fileID), zap.String("from", prev), zap.String("to", cohort.ID))
	}
	cohort.FileIDs = insertSorted(cohort.FileIDs, fileID)
	r.fileOf[fileID] = cohort.ID
	return cohort.ID, nil
}

// Forget drops fileID from its cohort in memory. The cohort itself is kept, even when empty.
func (r *Registry) Forget(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.fileOf[fileID]; ok {
		if c, ok := r.byID[id]; ok {
			c.FileIDs = removeSorted(c.FileIDs, fileID)
		}
		delete(r.fileOf, fileID)
	}
}

// Cohort returns a copy of the cohort with the given ID.
func (r *Registry) Cohort(id string) (*models.GrammarCohort, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return clone(c), true
}

// CohortByHash returns a copy of the cohort for a signature hash.
func (r *Registry) CohortByHash(hash string) (*models.GrammarCohort, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byHash[hash]
	if !ok {
		return nil, false
	}
	return clone(c), true
}

// CohortOf returns the cohort ID fileID belongs to.
func (r *Registry) CohortOf(fileID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.fileOf[fileID]
	return id, ok
}

// Cohorts returns copies of all cohorts, oldest first.
func (r *Registry) Cohorts() []*models.GrammarCohort {
	r.mu.RLock()
	out := make([]*models.GrammarCohort, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, clone(c))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of cohorts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func clone(c *models.GrammarCohort) *models.GrammarCohort {
	cp := *c
	cp.FileIDs = append([]string(nil), c.FileIDs...)
	return &cp
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return append(ids[:i], ids[i+1:]...)
	}
	return ids
}
