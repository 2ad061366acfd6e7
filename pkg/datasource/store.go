package datasource

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ajitpratap0/datasync/pkg/errors"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ModuleName string
	Type       Type
	Status     Status
}

func (f Filter) matches(ds *DataSource) bool {
	if f.ModuleName != "" && ds.ModuleName != f.ModuleName {
		return false
	}
	if f.Type != "" && ds.Type != f.Type {
		return false
	}
	if f.Status != "" && ds.Status != f.Status {
		return false
	}
	return true
}

// Store persists data sources. Implementations return copies so callers
// never share mutable state with the store.
type Store interface {
	Get(ctx context.Context, id string) (*DataSource, error)
	List(ctx context.Context, filter Filter) ([]*DataSource, error)
	Create(ctx context.Context, ds *DataSource) error
	Update(ctx context.Context, ds *DataSource) error
	SetStatus(ctx context.Context, id string, status Status) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// MemoryStore is an in-process Store. IDs are assigned sequentially.
type MemoryStore struct {
	mu      sync.RWMutex
	sources map[string]*DataSource
	nextID  int
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[string]*DataSource),
		now:     time.Now,
	}
}

// Get returns a copy of the data source with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.sources[id]
	if !ok {
		return nil, errors.NotFound("data source", id)
	}
	return ds.Clone(), nil
}

// List returns matching data sources ordered by id.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*DataSource, 0, len(s.sources))
	for _, ds := range s.sources {
		if filter.matches(ds) {
			out = append(out, ds.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

// Create validates and stores ds, assigning an id when empty.
func (s *MemoryStore) Create(_ context.Context, ds *DataSource) error {
	if ds.Status == "" {
		ds.Status = StatusPending
	}
	Normalize(ds.Config)
	if err := ds.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ds.ID == "" {
		s.nextID++
		ds.ID = strconv.Itoa(s.nextID)
		for s.sources[ds.ID] != nil {
			s.nextID++
			ds.ID = strconv.Itoa(s.nextID)
		}
	} else if _, exists := s.sources[ds.ID]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "data source %s already exists", ds.ID)
	}

	now := s.now()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	s.sources[ds.ID] = ds.Clone()
	return nil
}

// Update replaces an existing data source. lastSyncAt and createdAt are
// owned by the store and are not taken from ds.
func (s *MemoryStore) Update(_ context.Context, ds *DataSource) error {
	Normalize(ds.Config)
	if err := ds.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.sources[ds.ID]
	if !ok {
		return errors.NotFound("data source", ds.ID)
	}
	next := ds.Clone()
	next.CreatedAt = prev.CreatedAt
	next.LastSyncAt = prev.LastSyncAt
	next.UpdatedAt = s.now()
	s.sources[ds.ID] = next

	ds.CreatedAt = next.CreatedAt
	ds.UpdatedAt = next.UpdatedAt
	ds.LastSyncAt = next.LastSyncAt
	return nil
}

// SetStatus changes only the status of a data source.
func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	if !status.Valid() {
		verr := errors.NewValidationError("data source status")
		verr.Addf("status", "unknown status %q", status)
		return verr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.sources[id]
	if !ok {
		return errors.NotFound("data source", id)
	}
	ds.Status = status
	ds.UpdatedAt = s.now()
	return nil
}

// MarkSynced records a successful sync time.
func (s *MemoryStore) MarkSynced(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.sources[id]
	if !ok {
		return errors.NotFound("data source", id)
	}
	t := at
	ds.LastSyncAt = &t
	return nil
}

// NeedingSync returns active sources whose sync interval elapsed at now.
func NeedingSync(ctx context.Context, store Store, now time.Time) ([]*DataSource, error) {
	active, err := store.List(ctx, Filter{Status: StatusActive})
	if err != nil {
		return nil, err
	}
	due := active[:0]
	for _, ds := range active {
		if ds.NeedsSync(now) {
			due = append(due, ds)
		}
	}
	return due, nil
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
