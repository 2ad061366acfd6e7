package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/executor"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

// recordSource emits n records, or fails with err, after an optional delay.
// A deaf source keeps waiting after its context ends.
type recordSource struct {
	n     int
	err   error
	delay time.Duration
	block chan struct{}
	deaf  bool
	calls int32
}

func (s *recordSource) Test(ctx context.Context, _ *datasource.DataSource) error {
	atomic.AddInt32(&s.calls, 1)
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.err
}

func (s *recordSource) Extract(ctx context.Context, _ *datasource.DataSource, emit executor.EmitFunc) error {
	atomic.AddInt32(&s.calls, 1)
	if err := s.wait(ctx); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	for i := 0; i < s.n; i++ {
		if err := emit(map[string]interface{}{"n": i}); err != nil {
			return err
		}
	}
	return nil
}

func (s *recordSource) wait(ctx context.Context) error {
	var release <-chan struct{} = s.block
	var timer <-chan time.Time
	if s.delay > 0 {
		timer = time.After(s.delay)
	}
	if release == nil && timer == nil {
		return nil
	}
	done := ctx.Done()
	if s.deaf {
		done = nil
	}
	select {
	case <-release:
	case <-timer:
	case <-done:
		return ctx.Err()
	}
	return nil
}

// overlayStore serves extra sources that bypass store validation, as rows
// written by older versions would.
type overlayStore struct {
	datasource.Store
	extra map[string]*datasource.DataSource
}

func (o *overlayStore) Get(ctx context.Context, id string) (*datasource.DataSource, error) {
	if ds, ok := o.extra[id]; ok {
		return ds.Clone(), nil
	}
	return o.Store.Get(ctx, id)
}

type fixture struct {
	sources  *datasource.MemoryStore
	history  *history.MemoryStore
	queue    *queue.Manager
	coord    *Coordinator
	file     *recordSource
	webhook  *recordSource
	overlays map[string]*datasource.DataSource
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := &fixture{
		sources:  datasource.NewMemoryStore(),
		history:  history.NewMemoryStore(),
		file:     &recordSource{n: 120},
		webhook:  &recordSource{},
		overlays: map[string]*datasource.DataSource{},
	}
	store := &overlayStore{Store: f.sources, extra: f.overlays}
	f.queue = queue.NewManager(store, f.history, log)

	reg := executor.NewRegistry(log)
	require.NoError(t, reg.Register(datasource.TypeFile, f.file))
	require.NoError(t, reg.Register(datasource.TypeWebhook, f.webhook))
	runner := executor.NewRunner(reg, nil, nil, log)

	f.coord = NewCoordinator(store, f.queue, runner, log, opts...)
	t.Cleanup(f.coord.Wait)
	return f
}

func (f *fixture) add(t *testing.T, status datasource.Status) string {
	t.Helper()
	ds := &datasource.DataSource{
		Name:                 "orders",
		Type:                 datasource.TypeFile,
		Status:               status,
		Config:               &datasource.FileConfig{FilePath: "/data/orders.csv"},
		SyncFrequencySeconds: 3600,
	}
	require.NoError(t, f.sources.Create(context.Background(), ds))
	return ds.ID
}

func TestSyncOne_RecordsOutcome(t *testing.T) {
	f := newFixture(t)
	id := f.add(t, datasource.StatusActive)
	ctx := context.Background()

	itemID, err := f.coord.SyncOne(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, itemID)
	f.coord.Wait()

	item, err := f.queue.Get(itemID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSuccess, item.Status)
	assert.Equal(t, 120, item.RecordCount)

	page, err := f.history.Query(ctx, history.Filter{DataSourceID: id}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 120, page.Items[0].RecordCount)
	assert.Equal(t, "synced 120 records", page.Items[0].Message)

	entry, err := f.history.Get(ctx, page.Items[0].ID)
	require.NoError(t, err)
	assert.Len(t, entry.Records, executor.DefaultSampleSize)

	ds, err := f.sources.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ds.LastSyncAt)
}

func TestSyncOne_ConnectionFailureLandsInLog(t *testing.T) {
	f := newFixture(t)
	f.file.err = fmt.Errorf("connection refused")
	id := f.add(t, datasource.StatusActive)

	itemID, err := f.coord.SyncOne(context.Background(), id)
	require.NoError(t, err, "connection errors are not returned to the caller")
	f.coord.Wait()

	item, _ := f.queue.Get(itemID)
	assert.Equal(t, queue.StatusFailed, item.Status)
	assert.Contains(t, item.ErrorMessage, "connection refused")

	st, err := f.history.Statistics(context.Background(), history.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
}

func TestSyncOne_DuplicateReturnsExistingItem(t *testing.T) {
	f := newFixture(t)
	f.file.block = make(chan struct{})
	id := f.add(t, datasource.StatusActive)
	ctx := context.Background()

	first, err := f.coord.SyncOne(ctx, id)
	require.NoError(t, err)

	second, err := f.coord.SyncOne(ctx, id)
	var conflict *errors.QueueConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first, second)

	close(f.file.block)
	f.coord.Wait()
	assert.Equal(t, 1, f.history.Len())
}

func TestSyncMany_AggregatesInInputOrder(t *testing.T) {
	f := newFixture(t)
	f.file.block = make(chan struct{})
	ctx := context.Background()

	a := f.add(t, datasource.StatusActive)
	b := f.add(t, datasource.StatusInactive)
	c := f.add(t, datasource.StatusActive)
	ids := []string{a, b, "missing", c, a}

	res := f.coord.SyncMany(ctx, ids)
	close(f.file.block)

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, res.Total, res.Accepted+res.Rejected)
	require.Len(t, res.Items, 5)
	for i, it := range res.Items {
		assert.Equal(t, ids[i], it.ID)
	}
	assert.False(t, res.Items[1].Success)
	assert.True(t, errors.IsType(res.Items[1].Err(), errors.ErrorTypeValidation))
	assert.True(t, errors.Is(res.Items[2].Err(), errors.ErrNotFound))
	assert.True(t, res.Items[3].Success)

	// the same id twice: one admission and one conflict, both naming the same item
	assert.NotEqual(t, res.Items[0].Success, res.Items[4].Success)
	assert.Equal(t, res.Items[0].QueueItemID, res.Items[4].QueueItemID)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 3, res.Rejected)

	f.coord.Wait()
	assert.Equal(t, 2, f.history.Len())
}

func TestSyncMany_AllFailStillSummarizes(t *testing.T) {
	f := newFixture(t)
	res := f.coord.SyncMany(context.Background(), []string{"x", "y"})
	assert.Equal(t, Result{Total: 2, Rejected: 2, Items: res.Items}, res)
	for _, it := range res.Items {
		assert.NotEmpty(t, it.Error)
	}
}

func TestTestMany_WebhookMissingURLFailsBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	f.overlays["wh"] = &datasource.DataSource{
		ID: "wh", Name: "hook", Type: datasource.TypeWebhook, Status: datasource.StatusActive,
		Config: &datasource.WebhookConfig{}, SyncFrequencySeconds: 60,
	}
	ok := f.add(t, datasource.StatusPending)

	res := f.coord.TestMany(context.Background(), []string{"wh", ok})
	require.Len(t, res.Items, 2)

	var verr *errors.ValidationError
	require.True(t, errors.As(res.Items[0].Err(), &verr))
	assert.Contains(t, verr.Fields(), "url")
	assert.Zero(t, atomic.LoadInt32(&f.webhook.calls), "no network call")

	assert.True(t, res.Items[1].Success, "tests do not require an active source")
	assert.Equal(t, 1, res.Accepted)
	assert.Empty(t, f.queue.Snapshot(), "tests create no queue items")
}

func TestTestOne_TimeoutIsConnectionFailure(t *testing.T) {
	f := newFixture(t, WithItemTimeout(20*time.Millisecond))
	f.file.block = make(chan struct{})
	defer close(f.file.block)
	id := f.add(t, datasource.StatusActive)

	err := f.coord.TestOne(context.Background(), id)
	var terr *errors.TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestSyncOne_TimeoutFailsItem(t *testing.T) {
	f := newFixture(t, WithItemTimeout(20*time.Millisecond))
	f.file.block = make(chan struct{})
	defer close(f.file.block)
	id := f.add(t, datasource.StatusActive)

	itemID, err := f.coord.SyncOne(context.Background(), id)
	require.NoError(t, err)
	f.coord.Wait()

	item, _ := f.queue.Get(itemID)
	assert.Equal(t, queue.StatusFailed, item.Status)
	assert.Contains(t, item.ErrorMessage, "timeout")
}

func TestItemTimeout_ExecutorIgnoringContext(t *testing.T) {
	f := newFixture(t, WithItemTimeout(50*time.Millisecond), WithWorkers(1))
	f.file.block = make(chan struct{})
	f.file.deaf = true
	defer close(f.file.block)
	a := f.add(t, datasource.StatusActive)
	b := f.add(t, datasource.StatusActive)

	start := time.Now()
	res := f.coord.TestMany(context.Background(), []string{a, b})
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, res.Items, 2)
	for _, it := range res.Items {
		var terr *errors.TimeoutError
		assert.True(t, errors.As(it.Err(), &terr), "got %v", it.Err())
	}

	// a hung run releases its worker slot so the next item still runs
	runs := f.coord.SyncMany(context.Background(), []string{a, b})
	require.Equal(t, 2, runs.Accepted)
	waited := make(chan struct{})
	go func() {
		f.coord.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("sync runs still hold worker slots")
	}
	assert.Equal(t, 2, f.queue.Counts()[queue.StatusFailed])
	assert.Equal(t, 2, f.history.Len())
}

func TestShutdown_ConcurrentWithAdmission(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, f.add(t, datasource.StatusActive))
	}

	done := make(chan Result)
	go func() { done <- f.coord.SyncMany(context.Background(), ids) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.coord.Shutdown(ctx))
	res := <-done
	f.coord.Wait()

	assert.Equal(t, res.Total, res.Accepted+res.Rejected)
	for _, it := range f.queue.Snapshot() {
		assert.True(t, it.Status.Terminal(), "item %s left %s", it.ID, it.Status)
	}
}

func TestWorkersBoundConcurrency(t *testing.T) {
	f := newFixture(t, WithWorkers(2))
	f.file.delay = 30 * time.Millisecond

	var peak, current int32
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			n := int32(f.queue.Counts()[queue.StatusInProgress])
			atomic.StoreInt32(&current, n)
			if n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, f.add(t, datasource.StatusActive))
	}
	res := f.coord.SyncMany(context.Background(), ids)
	assert.Equal(t, 6, res.Accepted)
	f.coord.Wait()
	close(stop)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 6, f.history.Len())
}

func TestShutdownFailsWaitingItems(t *testing.T) {
	f := newFixture(t, WithWorkers(1))
	f.file.block = make(chan struct{})
	a := f.add(t, datasource.StatusActive)
	b := f.add(t, datasource.StatusActive)

	res := f.coord.SyncMany(context.Background(), []string{a, b})
	require.Equal(t, 2, res.Accepted)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.coord.Shutdown(ctx))

	counts := f.queue.Counts()
	assert.Equal(t, 2, counts[queue.StatusFailed])
	assert.Equal(t, 2, f.history.Len())

	_, err := f.coord.SyncOne(context.Background(), a)
	assert.Error(t, err)
}

func TestSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(rec))
	f := newFixture(t, WithTracer(tp.Tracer("test")))
	id := f.add(t, datasource.StatusActive)

	f.coord.TestMany(context.Background(), []string{id, "missing"})

	names := map[string]int{}
	for _, s := range rec.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["batch.TestMany"])
	assert.Equal(t, 2, names["batch.TestOne"])
}
