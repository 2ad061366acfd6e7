// Package scheduler periodically admits syncs for active data sources whose
// sync frequency has elapsed.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/batch"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// DefaultSpec checks for due sources once a minute.
const DefaultSpec = "@every 1m"

// Syncer admits a batch of syncs.
type Syncer interface {
	SyncMany(ctx context.Context, ids []string) batch.Result
}

// Scheduler runs the due-source check on a cron schedule.
type Scheduler struct {
	sources datasource.Store
	syncer  Syncer
	logger  *zap.Logger
	now     func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lastRun time.Time
	last    batch.Result
}

// New creates a Scheduler for spec, a robfig/cron expression or descriptor.
func New(spec string, sources datasource.Store, syncer Syncer, log *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	log = logger.OrNop(log).With(zap.String("component", "scheduler"))
	cl := cronLogger{log.Sugar()}
	s := &Scheduler{
		sources: sources,
		syncer:  syncer,
		logger:  log,
		now:     time.Now,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunOnce(s.ctx); err != nil {
			s.logger.Error("scheduled sync check failed", zap.Error(err))
		}
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts the schedule and waits for a running check to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce admits a sync for every active source that is due now. Sources
// that already have an active queue item are reported as rejected.
func (s *Scheduler) RunOnce(ctx context.Context) (batch.Result, error) {
	due, err := datasource.NeedingSync(ctx, s.sources, s.now())
	if err != nil {
		return batch.Result{}, err
	}
	ids := make([]string, len(due))
	for i, ds := range due {
		ids[i] = ds.ID
	}

	var res batch.Result
	if len(ids) > 0 {
		res = s.syncer.SyncMany(ctx, ids)
		s.logger.Info("scheduled syncs admitted",
			zap.Int("due", len(ids)),
			zap.Int("accepted", res.Accepted),
			zap.Int("rejected", res.Rejected))
	}

	s.mu.Lock()
	s.lastRun = s.now()
	s.last = res
	s.mu.Unlock()
	return res, nil
}

// Last returns the time and result of the most recent check.
func (s *Scheduler) Last() (time.Time, batch.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.last
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
