// Package executor runs syncs and connection tests against data sources.
//
// An Executor knows how to reach one kind of source (database, api, file,
// webhook, internal module) and streams raw records out of it. Runner is the
// piece the queue drives: it picks the executor for a source, applies the
// source's mapping rules to every record and keeps a bounded sample for the
// sync log.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/logger"
	"github.com/ajitpratap0/datasync/pkg/mapping"
)

// DefaultSampleSize is how many mapped records a sync keeps for its log.
const DefaultSampleSize = 100

// EmitFunc receives one raw record. Returning an error stops extraction.
type EmitFunc func(record map[string]interface{}) error

// Executor reaches one kind of data source. Implementations fail with
// *errors.ConnectionError when the source cannot be reached and must honour
// ctx cancellation.
type Executor interface {
	// Test checks that the source is reachable with its current config.
	Test(ctx context.Context, ds *datasource.DataSource) error
	// Extract streams every record of the source to emit.
	Extract(ctx context.Context, ds *datasource.DataSource, emit EmitFunc) error
}

// Result summarizes one sync run.
type Result struct {
	RecordCount   int
	MappingFailed int
	Records       []map[string]interface{}
	Duration      time.Duration
}

// Message is the human readable summary stored with the log entry.
func (r *Result) Message() string {
	if r.MappingFailed > 0 {
		return fmt.Sprintf("synced %d records, %d with mapping errors", r.RecordCount, r.MappingFailed)
	}
	return fmt.Sprintf("synced %d records", r.RecordCount)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSampleSize sets how many records a sync keeps.
func WithSampleSize(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.sampleSize = n
		}
	}
}

// Runner dispatches to the registered executors.
type Runner struct {
	registry   *Registry
	rules      mapping.Store
	engine     *mapping.Engine
	sampleSize int
	logger     *zap.Logger
}

// NewRunner creates a Runner. rules may be nil, in which case records are
// stored as extracted.
func NewRunner(registry *Registry, rules mapping.Store, engine *mapping.Engine, log *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry:   registry,
		rules:      rules,
		engine:     engine,
		sampleSize: DefaultSampleSize,
		logger:     logger.OrNop(log).With(zap.String("component", "runner")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Test validates the source config and checks connectivity. A config
// violation is reported before any network call.
func (r *Runner) Test(ctx context.Context, ds *datasource.DataSource) error {
	exec, err := r.prepare(ds)
	if err != nil {
		return err
	}
	if err := exec.Test(ctx, ds); err != nil {
		return r.classify(ctx, ds, "test", err)
	}
	return nil
}

// Sync extracts every record of ds, maps it through the source's rules and
// returns the count plus a sample. Records that fail some rules still count;
// their successful fields are kept.
func (r *Runner) Sync(ctx context.Context, ds *datasource.DataSource) (*Result, error) {
	exec, err := r.prepare(ds)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(logger.WithDataSource(ctx, ds.ID), r.logger)

	var mapper *mapping.Mapper
	if r.rules != nil && r.engine != nil {
		rules, err := r.rules.List(ctx, ds.ID)
		if err != nil {
			return nil, fmt.Errorf("load mapping rules: %w", err)
		}
		if len(rules) > 0 {
			mapper = r.engine.Mapper(rules)
			log.Debug("mapping rules loaded", zap.Int("rules", mapper.Len()))
		}
	}

	start := time.Now()
	res := &Result{}
	err = exec.Extract(ctx, ds, func(record map[string]interface{}) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.RecordCount++
		out := record
		if mapper != nil {
			mapped, mapErr := mapper.Apply(record)
			if mapErr != nil {
				res.MappingFailed++
				if res.MappingFailed == 1 {
					log.Warn("record failed mapping", zap.Error(mapErr))
				}
			}
			out = mapped
		}
		if len(res.Records) < r.sampleSize {
			res.Records = append(res.Records, out)
		}
		return nil
	})
	res.Duration = time.Since(start)
	if err != nil {
		return nil, r.classify(ctx, ds, "extract", err)
	}

	log.Debug("extraction finished",
		zap.Int("record_count", res.RecordCount),
		zap.Int("mapping_failed", res.MappingFailed),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (r *Runner) prepare(ds *datasource.DataSource) (Executor, error) {
	if err := datasource.Validate(ds.Type, ds.Config); err != nil {
		return nil, err
	}
	return r.registry.Get(ds.Type)
}

// classify makes sure every failure carries a category: deadline overruns
// become TimeoutError and untyped failures become ConnectionError.
func (r *Runner) classify(ctx context.Context, ds *datasource.DataSource, op string, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		budget := "its deadline"
		if deadline, ok := ctx.Deadline(); ok {
			budget = fmt.Sprintf("deadline %s", deadline.UTC().Format(time.RFC3339))
		}
		return &errors.TimeoutError{DataSourceID: ds.ID, Budget: budget}
	}
	if errors.TypeOf(err) == errors.ErrorTypeInternal {
		return errors.NewConnectionError(ds.ID, op, err)
	}
	return err
}
