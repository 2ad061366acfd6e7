// Package batch admits single and batched sync and connection-test
// requests, runs them through the executor with a bounded worker pool and
// reports per-item results in input order.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/executor"
	"github.com/ajitpratap0/datasync/pkg/logger"
	"github.com/ajitpratap0/datasync/pkg/observability"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

const (
	// DefaultWorkers bounds concurrent batch items and background runs.
	DefaultWorkers = 5
	// DefaultItemTimeout is the budget of one test or sync run.
	DefaultItemTimeout = 30 * time.Second
	// MaxBatchSize caps the number of ids in one batch request.
	MaxBatchSize = 1000
)

// Runner executes tests and syncs for one data source.
type Runner interface {
	Test(ctx context.Context, ds *datasource.DataSource) error
	Sync(ctx context.Context, ds *datasource.DataSource) (*executor.Result, error)
}

// ItemResult is the outcome of one id in a batch.
type ItemResult struct {
	ID          string `json:"id"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	QueueItemID string `json:"queueItemId,omitempty"`

	err error
}

// Err returns the error behind a failed item.
func (r ItemResult) Err() error { return r.err }

// Result aggregates a batch. Items follow input order and
// Accepted+Rejected always equals Total.
type Result struct {
	Total    int          `json:"total"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Items    []ItemResult `json:"items"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithItemTimeout sets the per-item budget.
func WithItemTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.itemTimeout = d
		}
	}
}

// WithTracer sets the tracer used for batch and item spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Coordinator ties the queue to the runner.
type Coordinator struct {
	sources datasource.Store
	queue   *queue.Manager
	runner  Runner
	logger  *zap.Logger
	tracer  trace.Tracer

	workers     int
	itemTimeout time.Duration

	// slots bounds background sync runs; items wait queued for a slot.
	slots  chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add in admit against Shutdown.
	mu     sync.Mutex
	closed bool
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(sources datasource.Store, q *queue.Manager, runner Runner, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		sources:     sources,
		queue:       q,
		runner:      runner,
		logger:      logger.OrNop(log).With(zap.String("component", "batch")),
		tracer:      noop.NewTracerProvider().Tracer("datasync/batch"),
		workers:     DefaultWorkers,
		itemTimeout: DefaultItemTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.slots = make(chan struct{}, c.workers)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// SyncOne admits a sync for id and starts it in the background. The
// returned queue item id is also set when the source already has an
// active item; err is then a *errors.QueueConflictError.
func (c *Coordinator) SyncOne(ctx context.Context, id string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "batch.SyncOne", trace.WithAttributes(attribute.String("data_source.id", id)))
	defer span.End()

	itemID, err := c.admit(ctx, id)
	if err != nil {
		observability.RecordError(span, err)
		return itemID, err
	}
	span.SetAttributes(attribute.String("queue.item_id", itemID))
	return itemID, nil
}

func (c *Coordinator) admit(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", errors.New(errors.ErrorTypeInternal, "coordinator is shutting down")
	}
	c.wg.Add(1)
	c.mu.Unlock()

	itemID, err := c.queue.Enqueue(ctx, id)
	if err != nil {
		c.wg.Done()
		return itemID, err
	}
	ds, err := c.sources.Get(ctx, id)
	if err != nil {
		// The source disappeared after admission; finish the item so the
		// per-source slot is released.
		c.fail(ctx, itemID, err)
		c.wg.Done()
		return itemID, err
	}

	go c.run(trace.SpanContextFromContext(ctx), itemID, ds)
	return itemID, nil
}

// run executes one admitted sync. It detaches from the request context so
// the run outlives the request that admitted it.
func (c *Coordinator) run(parent trace.SpanContext, itemID string, ds *datasource.DataSource) {
	defer c.wg.Done()

	ctx := logger.WithQueueItem(logger.WithDataSource(c.ctx, ds.ID), itemID)
	log := logger.WithContext(ctx, c.logger)

	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-c.ctx.Done():
		c.fail(context.Background(), itemID, c.ctx.Err())
		return
	}

	ctx, span := c.tracer.Start(trace.ContextWithRemoteSpanContext(ctx, parent), "batch.run",
		trace.WithAttributes(
			attribute.String("data_source.id", ds.ID),
			attribute.String("data_source.type", string(ds.Type)),
			attribute.String("queue.item_id", itemID)))
	defer span.End()

	if err := c.queue.MarkStarted(ctx, itemID); err != nil {
		log.Error("failed to start queue item", zap.Error(err))
		observability.RecordError(span, err)
		return
	}

	res, err := c.bounded(ctx, ds.ID, func(ctx context.Context) (*executor.Result, error) {
		return c.runner.Sync(ctx, ds)
	})

	outcome := queue.Failed(err)
	if err == nil {
		outcome = queue.Outcome{
			Success:     true,
			RecordCount: res.RecordCount,
			Message:     res.Message(),
			Records:     res.Records,
		}
		span.SetAttributes(attribute.Int("sync.record_count", res.RecordCount))
	} else {
		observability.RecordError(span, err)
	}

	// Completion must be recorded even when shutdown cancelled the run.
	doneCtx, doneCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer doneCancel()
	if err := c.queue.MarkCompleted(doneCtx, itemID, outcome); err != nil {
		log.Error("failed to complete queue item", zap.Error(err))
	}
}

type runResult struct {
	res *executor.Result
	err error
}

// bounded runs fn within the per-item budget. An executor that ignores its
// context is abandoned when the budget runs out; its late result is dropped.
func (c *Coordinator) bounded(ctx context.Context, id string, fn func(context.Context) (*executor.Result, error)) (*executor.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.itemTimeout)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		res, err := fn(runCtx)
		done <- runResult{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r.res, c.timeout(runCtx, id, r.err)
	case <-runCtx.Done():
		select {
		case r := <-done:
			return r.res, c.timeout(runCtx, id, r.err)
		default:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.logger.Warn("executor ignored the item budget",
			zap.String("data_source_id", id), zap.Duration("budget", c.itemTimeout))
		return nil, c.timeout(runCtx, id, runCtx.Err())
	}
}

// timeout reports err as a TimeoutError when the item budget ran out.
func (c *Coordinator) timeout(runCtx context.Context, id string, err error) error {
	if err == nil || runCtx.Err() != context.DeadlineExceeded {
		return err
	}
	var terr *errors.TimeoutError
	if errors.As(err, &terr) {
		return err
	}
	return &errors.TimeoutError{DataSourceID: id, Budget: c.itemTimeout.String()}
}

func (c *Coordinator) fail(ctx context.Context, itemID string, cause error) {
	if err := c.queue.MarkStarted(ctx, itemID); err != nil {
		c.logger.Error("failed to start queue item", zap.String("queue_item_id", itemID), zap.Error(err))
		return
	}
	if err := c.queue.MarkCompleted(ctx, itemID, queue.Failed(cause)); err != nil {
		c.logger.Error("failed to complete queue item", zap.String("queue_item_id", itemID), zap.Error(err))
	}
}

// TestOne checks connectivity of id within the per-item budget. It creates
// no queue item. Config violations are reported before any network call.
func (c *Coordinator) TestOne(ctx context.Context, id string) error {
	ctx, span := c.tracer.Start(ctx, "batch.TestOne", trace.WithAttributes(attribute.String("data_source.id", id)))
	defer span.End()

	ds, err := c.sources.Get(ctx, id)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	_, err = c.bounded(ctx, id, func(ctx context.Context) (*executor.Result, error) {
		return nil, c.runner.Test(ctx, ds)
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	return nil
}

// SyncMany admits a sync for every id. An item is accepted when it was
// admitted to the queue; the runs continue in the background.
func (c *Coordinator) SyncMany(ctx context.Context, ids []string) Result {
	return c.fanOut(ctx, "batch.SyncMany", ids, func(ctx context.Context, id string) ItemResult {
		itemID, err := c.admit(ctx, id)
		return itemResult(id, itemID, err)
	})
}

// TestMany tests every id. An item is accepted when its connection test
// passed.
func (c *Coordinator) TestMany(ctx context.Context, ids []string) Result {
	return c.fanOut(ctx, "batch.TestMany", ids, func(ctx context.Context, id string) ItemResult {
		return itemResult(id, "", c.TestOne(ctx, id))
	})
}

func (c *Coordinator) fanOut(ctx context.Context, name string, ids []string, do func(context.Context, string) ItemResult) Result {
	ctx, span := c.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("batch.size", len(ids))))
	defer span.End()

	items := make([]ItemResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i] = itemResult(id, "", err)
				return nil
			}
			items[i] = do(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Total: len(ids), Items: items}
	for _, it := range items {
		if it.Success {
			res.Accepted++
		} else {
			res.Rejected++
		}
	}
	span.SetAttributes(attribute.Int("batch.accepted", res.Accepted), attribute.Int("batch.rejected", res.Rejected))
	c.logger.Info("batch finished",
		zap.String("operation", name),
		zap.Int("total", res.Total),
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected))
	return res
}

func itemResult(id, itemID string, err error) ItemResult {
	if err == nil {
		return ItemResult{ID: id, Success: true, QueueItemID: itemID}
	}
	return ItemResult{ID: id, Error: err.Error(), QueueItemID: itemID, err: err}
}

// Wait blocks until every background run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown stops admitting work, cancels running syncs and waits for them
// to record their outcome or for ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sync runs: %w", ctx.Err())
	}
}
