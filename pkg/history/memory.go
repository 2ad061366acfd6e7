package history

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/datasync/pkg/errors"
)

// MemoryStore keeps the log in process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Entry)}
}

// Append validates and stores a copy of e.
func (s *MemoryStore) Append(_ context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, exists := s.byID[e.ID]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "sync log entry %s already exists", e.ID)
	}
	stored := clone(e, true)
	s.entries = append(s.entries, stored)
	s.byID[stored.ID] = stored
	return nil
}

// Get returns a copy of the entry, records included.
func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("sync log entry", id)
	}
	return clone(e, true), nil
}

// Query returns one page of matching entries, newest first.
func (s *MemoryStore) Query(_ context.Context, filter Filter, page, limit int) (Page, error) {
	matched := s.matching(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].RunTimestamp.After(matched[j].RunTimestamp)
	})

	p := Page{Pagination: NewPagination(page, limit, len(matched))}
	start, end := p.Bounds()
	p.Items = make([]Entry, 0, end-start)
	for _, e := range matched[start:end] {
		p.Items = append(p.Items, *clone(e, false))
	}
	return p, nil
}

// Statistics summarizes all matching entries.
func (s *MemoryStore) Statistics(_ context.Context, filter Filter) (Stats, error) {
	var success, failed, records int
	var duration float64
	matched := s.matching(filter)
	for _, e := range matched {
		if e.Status == StatusSuccess {
			success++
		} else {
			failed++
		}
		records += e.RecordCount
		duration += e.DurationSeconds
	}
	return NewStats(len(matched), success, failed, records, duration), nil
}

// Records pages through the sample records of one entry.
func (s *MemoryStore) Records(_ context.Context, id string, page, limit int) (RecordPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return RecordPage{}, errors.NotFound("sync log entry", id)
	}
	p := RecordPage{Pagination: NewPagination(page, limit, len(e.Records))}
	start, end := p.Bounds()
	p.Items = append(make([]map[string]interface{}, 0, end-start), e.Records[start:end]...)
	return p, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) matching(filter Filter) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// clone copies e. Record maps are shared; stored entries are never mutated.
func clone(e *Entry, withRecords bool) *Entry {
	out := *e
	out.Records = nil
	if withRecords && len(e.Records) > 0 {
		out.Records = append([]map[string]interface{}(nil), e.Records...)
	}
	return &out
}
