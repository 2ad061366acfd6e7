// Package queue owns the lifecycle of sync queue items and enforces at most
// one queued or running sync per data source.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// DefaultRetention is the number of finished items kept for snapshots.
const DefaultRetention = 500

// Listener is notified after every transition, outside the manager lock.
type Listener interface {
	ItemChanged(item Item)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Item)

// ItemChanged implements Listener.
func (f ListenerFunc) ItemChanged(item Item) { f(item) }

// Option configures a Manager.
type Option func(*Manager)

// WithRetention sets how many finished items are kept.
func WithRetention(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retention = n
		}
	}
}

// WithListener registers l for transition notifications.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the single owner of queue items. All shared state lives
// behind mu: items by id, the non-terminal item per data source, and the
// ring of finished item ids.
type Manager struct {
	sources   datasource.Store
	history   history.Store
	logger    *zap.Logger
	listeners []Listener
	now       func() time.Time
	retention int

	mu         sync.RWMutex
	items      map[string]*Item
	active     map[string]string // data source id -> item id
	completing map[string]bool
	finished   []string
}

// NewManager creates a Manager. sources is consulted on enqueue and
// updated on success; every completion is appended to hist.
func NewManager(sources datasource.Store, hist history.Store, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		sources:    sources,
		history:    hist,
		logger:     logger.OrNop(log).With(zap.String("component", "queue")),
		now:        time.Now,
		retention:  DefaultRetention,
		items:      make(map[string]*Item),
		active:     make(map[string]string),
		completing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue admits a sync for dataSourceID. A source that is not active is
// rejected with a ValidationError and no item is created. When the source
// already has a queued or running item, its id is returned together with a
// *errors.QueueConflictError.
func (m *Manager) Enqueue(ctx context.Context, dataSourceID string) (string, error) {
	ds, err := m.sources.Get(ctx, dataSourceID)
	if err != nil {
		return "", err
	}
	if err := ds.Syncable(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if existing, ok := m.active[dataSourceID]; ok {
		m.mu.Unlock()
		return existing, &errors.QueueConflictError{DataSourceID: dataSourceID, ItemID: existing}
	}
	item := &Item{
		ID:           uuid.NewString(),
		DataSourceID: dataSourceID,
		Status:       StatusQueued,
		QueuedAt:     m.now().UTC(),
	}
	m.items[item.ID] = item
	m.active[dataSourceID] = item.ID
	snapshot := item.clone()
	m.mu.Unlock()

	logger.WithContext(logger.WithQueueItem(logger.WithDataSource(ctx, dataSourceID), item.ID), m.logger).
		Debug("sync queued")
	m.notify(snapshot)
	return item.ID, nil
}

// MarkStarted moves a queued item to in_progress.
func (m *Manager) MarkStarted(_ context.Context, itemID string) error {
	m.mu.Lock()
	item, ok := m.items[itemID]
	if !ok {
		m.mu.Unlock()
		return errors.NotFound("queue item", itemID)
	}
	if item.Status != StatusQueued {
		m.mu.Unlock()
		return illegalTransition(item, StatusInProgress)
	}
	now := m.now().UTC()
	item.Status = StatusInProgress
	item.StartedAt = &now
	snapshot := item.clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// MarkCompleted finishes a running item. Exactly one log entry is appended
// before it returns, and the data source's lastSyncAt is set on success.
// The item becomes terminal even when writing the log fails; that error
// is returned.
func (m *Manager) MarkCompleted(ctx context.Context, itemID string, outcome Outcome) error {
	m.mu.Lock()
	item, ok := m.items[itemID]
	if !ok {
		m.mu.Unlock()
		return errors.NotFound("queue item", itemID)
	}
	if item.Status != StatusInProgress || m.completing[itemID] {
		m.mu.Unlock()
		return illegalTransition(item, terminalStatus(outcome))
	}
	m.completing[itemID] = true
	started := *item.StartedAt
	dataSourceID := item.DataSourceID
	m.mu.Unlock()

	completedAt := m.now().UTC()
	status := terminalStatus(outcome)
	entry := &history.Entry{
		DataSourceID:    dataSourceID,
		QueueItemID:     itemID,
		Status:          history.Status(status),
		RunTimestamp:    completedAt,
		DurationSeconds: completedAt.Sub(started).Seconds(),
		RecordCount:     outcome.RecordCount,
		Message:         outcome.Message,
		Records:         outcome.Records,
	}
	if !outcome.Success {
		entry.Message = outcome.errorMessage()
	}

	log := logger.WithContext(logger.WithQueueItem(logger.WithDataSource(ctx, dataSourceID), itemID), m.logger)
	var writeErr error
	appended := false
	if err := m.history.Append(ctx, entry); err != nil {
		writeErr = fmt.Errorf("append sync log for item %s: %w", itemID, err)
		log.Error("failed to append sync log", zap.Error(err))
	} else {
		appended = true
	}
	if appended && outcome.Success {
		if err := m.sources.MarkSynced(ctx, dataSourceID, completedAt); err != nil {
			writeErr = fmt.Errorf("mark data source %s synced: %w", dataSourceID, err)
			log.Error("failed to update lastSyncAt", zap.Error(err))
		}
	}

	m.mu.Lock()
	delete(m.completing, itemID)
	item.Status = status
	item.CompletedAt = &completedAt
	item.RecordCount = outcome.RecordCount
	item.ErrorMessage = outcome.errorMessage()
	if writeErr != nil && item.ErrorMessage == "" {
		item.ErrorMessage = writeErr.Error()
	}
	if appended {
		item.LogEntryID = entry.ID
	}
	if m.active[dataSourceID] == itemID {
		delete(m.active, dataSourceID)
	}
	m.retire(itemID)
	snapshot := item.clone()
	m.mu.Unlock()

	log.Info("sync finished",
		zap.String("status", string(status)),
		zap.Int("record_count", outcome.RecordCount),
		zap.Duration("duration", completedAt.Sub(started)))
	m.notify(snapshot)
	return writeErr
}

// retire records a finished item and evicts the oldest beyond retention.
// Callers hold mu.
func (m *Manager) retire(itemID string) {
	m.finished = append(m.finished, itemID)
	for len(m.finished) > m.retention {
		delete(m.items, m.finished[0])
		m.finished = m.finished[1:]
	}
}

// Snapshot returns a point-in-time copy of every known item, oldest first.
func (m *Manager) Snapshot() []Item {
	m.mu.RLock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it.clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one item.
func (m *Manager) Get(itemID string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[itemID]
	if !ok {
		return Item{}, errors.NotFound("queue item", itemID)
	}
	return item.clone(), nil
}

// Active returns the non-terminal item of a data source, if any.
func (m *Manager) Active(dataSourceID string) (Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.active[dataSourceID]
	if !ok {
		return Item{}, false
	}
	return m.items[id].clone(), true
}

// Counts returns the number of items per status.
func (m *Manager) Counts() map[Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[Status]int{StatusQueued: 0, StatusInProgress: 0, StatusSuccess: 0, StatusFailed: 0}
	for _, it := range m.items {
		out[it.Status]++
	}
	return out
}

func (m *Manager) notify(item Item) {
	for _, l := range m.listeners {
		l.ItemChanged(item)
	}
}

func terminalStatus(o Outcome) Status {
	if o.Success {
		return StatusSuccess
	}
	return StatusFailed
}

func illegalTransition(item *Item, to Status) error {
	return errors.Newf(errors.ErrorTypeConflict, "queue item %s cannot move from %s to %s", item.ID, item.Status, to).
		WithDetail("item_id", item.ID).
		WithDetail("data_source_id", item.DataSourceID)
}
