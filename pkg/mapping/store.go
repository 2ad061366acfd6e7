package mapping

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/datasync/pkg/errors"
)

// Store persists mapping rules per data source.
type Store interface {
	List(ctx context.Context, dataSourceID string) ([]MappingRule, error)
	Get(ctx context.Context, dataSourceID, ruleID string) (MappingRule, error)
	Create(ctx context.Context, rule *MappingRule) error
	Update(ctx context.Context, rule *MappingRule) error
	Delete(ctx context.Context, dataSourceID, ruleID string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]MappingRule
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]MappingRule), now: time.Now}
}

// List returns the rules of a data source in creation order.
func (s *MemoryStore) List(_ context.Context, dataSourceID string) ([]MappingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MappingRule, 0)
	for _, r := range s.rules {
		if r.DataSourceID == dataSourceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns one rule. A rule belonging to another data source is not found.
func (s *MemoryStore) Get(_ context.Context, dataSourceID, ruleID string) (MappingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[ruleID]
	if !ok || r.DataSourceID != dataSourceID {
		return MappingRule{}, errors.NotFound("mapping rule", ruleID)
	}
	return r, nil
}

// Create validates rule, assigns an id and stores it.
func (s *MemoryStore) Create(_ context.Context, rule *MappingRule) error {
	if err := ValidateRule(*rule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	} else if _, exists := s.rules[rule.ID]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "mapping rule %s already exists", rule.ID)
	}
	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = *rule
	return nil
}

// Update validates and replaces an existing rule.
func (s *MemoryStore) Update(_ context.Context, rule *MappingRule) error {
	if err := ValidateRule(*rule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.rules[rule.ID]
	if !ok || prev.DataSourceID != rule.DataSourceID {
		return errors.NotFound("mapping rule", rule.ID)
	}
	rule.CreatedAt = prev.CreatedAt
	rule.UpdatedAt = s.now()
	s.rules[rule.ID] = *rule
	return nil
}

// Delete removes a rule.
func (s *MemoryStore) Delete(_ context.Context, dataSourceID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok || r.DataSourceID != dataSourceID {
		return errors.NotFound("mapping rule", ruleID)
	}
	delete(s.rules, ruleID)
	return nil
}
