package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datasync/pkg/batch"
	"github.com/ajitpratap0/datasync/pkg/datasource"
)

type recordingSyncer struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingSyncer) SyncMany(_ context.Context, ids []string) batch.Result {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), ids...))
	r.mu.Unlock()
	return batch.Result{Total: len(ids), Accepted: len(ids)}
}

func (r *recordingSyncer) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func addSource(t *testing.T, store *datasource.MemoryStore, status datasource.Status, lastSync *time.Time, freq int) string {
	t.Helper()
	ds := &datasource.DataSource{
		Name:                 "s",
		Type:                 datasource.TypeFile,
		Status:               status,
		Config:               &datasource.FileConfig{FilePath: "/data/s.csv"},
		SyncFrequencySeconds: freq,
	}
	require.NoError(t, store.Create(context.Background(), ds))
	if lastSync != nil {
		require.NoError(t, store.MarkSynced(context.Background(), ds.ID, *lastSync))
	}
	return ds.ID
}

func TestRunOnce_PicksDueActiveSources(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := datasource.NewMemoryStore()
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)

	never := addSource(t, store, datasource.StatusActive, nil, 3600)
	addSource(t, store, datasource.StatusActive, &recent, 3600)
	stale := addSource(t, store, datasource.StatusActive, &old, 3600)
	addSource(t, store, datasource.StatusInactive, nil, 60)
	addSource(t, store, datasource.StatusPending, &old, 60)

	syncer := &recordingSyncer{}
	s, err := New("", store, syncer, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	require.Len(t, syncer.snapshot(), 1)
	assert.ElementsMatch(t, []string{never, stale}, syncer.snapshot()[0])

	at, last := s.Last()
	assert.Equal(t, now, at)
	assert.Equal(t, res, last)
}

func TestRunOnce_NothingDue(t *testing.T) {
	syncer := &recordingSyncer{}
	s, err := New(DefaultSpec, datasource.NewMemoryStore(), syncer, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, syncer.snapshot())
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New("every now and then", datasource.NewMemoryStore(), &recordingSyncer{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	store := datasource.NewMemoryStore()
	id := addSource(t, store, datasource.StatusActive, nil, 60)
	syncer := &recordingSyncer{}

	s, err := New("@every 1s", store, syncer, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool { return len(syncer.snapshot()) > 0 }, 3*time.Second, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, []string{id}, syncer.snapshot()[0])
}
