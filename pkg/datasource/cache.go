package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedStore fronts a Store with an in-process ristretto cache for Get.
// Writes go to the underlying store and invalidate the cached entry.
// A per-id generation keeps a read that raced with a write from caching
// the row the write replaced.
type CachedStore struct {
	Store
	cache *ristretto.Cache[string, *DataSource]
	ttl   time.Duration

	mu   sync.Mutex
	gens map[string]uint64
}

// NewCachedStore wraps store. numCounters should be about ten times the
// expected number of data sources; maxCost is the number of entries kept.
func NewCachedStore(store Store, numCounters, maxCost int64, ttl time.Duration) (*CachedStore, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *DataSource]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: store, cache: c, ttl: ttl, gens: make(map[string]uint64)}, nil
}

// Get serves from cache when possible.
func (s *CachedStore) Get(ctx context.Context, id string) (*DataSource, error) {
	if ds, ok := s.cache.Get(id); ok {
		return ds.Clone(), nil
	}
	gen := s.generation(id)
	ds, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.gens[id] == gen {
		s.cache.SetWithTTL(id, ds.Clone(), 1, s.ttl)
	}
	s.mu.Unlock()
	return ds, nil
}

func (s *CachedStore) generation(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[id]
}

// invalidate drops id and bumps its generation so in-flight reads skip
// their Set.
func (s *CachedStore) invalidate(id string) {
	s.mu.Lock()
	s.gens[id]++
	s.cache.Del(id)
	s.mu.Unlock()
}

func (s *CachedStore) Create(ctx context.Context, ds *DataSource) error {
	return s.Store.Create(ctx, ds)
}

func (s *CachedStore) Update(ctx context.Context, ds *DataSource) error {
	defer s.invalidate(ds.ID)
	return s.Store.Update(ctx, ds)
}

func (s *CachedStore) SetStatus(ctx context.Context, id string, status Status) error {
	defer s.invalidate(id)
	return s.Store.SetStatus(ctx, id, status)
}

func (s *CachedStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	defer s.invalidate(id)
	return s.Store.MarkSynced(ctx, id, at)
}

// Close releases the cache.
func (s *CachedStore) Close() {
	s.cache.Close()
}
