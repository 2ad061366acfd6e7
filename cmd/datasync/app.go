package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/internal/storage/postgres"
	"github.com/ajitpratap0/datasync/pkg/batch"
	"github.com/ajitpratap0/datasync/pkg/clients"
	"github.com/ajitpratap0/datasync/pkg/config"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/events"
	"github.com/ajitpratap0/datasync/pkg/executor"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/mapping"
	"github.com/ajitpratap0/datasync/pkg/metrics"
	"github.com/ajitpratap0/datasync/pkg/observability"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

// app holds every long-lived component, wired once per process.
type app struct {
	cfg *config.AppConfig
	log *zap.Logger

	db        *sqlx.DB
	sources   datasource.Store
	cache     *datasource.CachedStore
	history   history.Store
	mappings  mapping.Store
	engine    *mapping.Engine
	http      *clients.HTTPClient
	queue     *queue.Manager
	coord     *batch.Coordinator
	publisher events.Publisher
	metrics   *metrics.Collector
	registry  *prometheus.Registry
	tracing   *observability.Tracing
}

// newApp wires the stores, executors, queue and coordinator described by
// cfg. An empty database DSN keeps all state in memory.
func newApp(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	a.tracing, err = observability.NewTracing(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		if err := metrics.RegisterRuntime(a.registry); err != nil {
			return nil, fmt.Errorf("runtime metrics: %w", err)
		}
		a.metrics = metrics.New(a.registry)
	}

	a.publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		p, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.Subject, log)
		if err != nil {
			return nil, err
		}
		a.publisher = p
	}

	a.http = clients.NewHTTPClient(nil, log)
	reg, err := executor.NewDefaultRegistry(executor.Dependencies{HTTP: a.http, AppDB: a.db}, log)
	if err != nil {
		return nil, fmt.Errorf("executors: %w", err)
	}
	types := make([]string, 0, len(datasource.Types))
	for _, t := range reg.Types() {
		types = append(types, string(t))
	}
	log.Debug("executors registered", zap.Strings("types", types))
	a.engine = mapping.NewEngine(log)
	runner := executor.NewRunner(reg, a.mappings, a.engine, log, executor.WithSampleSize(cfg.Batch.SampleSize))

	qopts := []queue.Option{
		queue.WithRetention(cfg.Queue.Retention),
		queue.WithListener(a.publisher),
	}
	if a.metrics != nil {
		qopts = append(qopts, queue.WithListener(a.metrics))
	}
	a.queue = queue.NewManager(a.sources, a.history, log, qopts...)

	a.coord = batch.NewCoordinator(a.sources, a.queue, runner, log,
		batch.WithWorkers(cfg.Batch.Workers),
		batch.WithItemTimeout(cfg.Batch.ItemTimeout),
		batch.WithTracer(a.tracing.Tracer("datasync/batch")),
	)
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	if a.cfg.Database.UsesPostgres() {
		db, err := postgres.Open(ctx, a.cfg.Database.DSN, postgres.Options{MaxOpenConns: a.cfg.Database.MaxOpenConns})
		if err != nil {
			return err
		}
		a.db = db
		if a.cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}
		a.sources = postgres.NewDataSourceStore(db)
		a.history = postgres.NewHistoryStore(db)
		a.mappings = postgres.NewMappingStore(db)
		a.log.Info("using postgres storage")
	} else {
		a.sources = datasource.NewMemoryStore()
		a.history = history.NewMemoryStore()
		a.mappings = mapping.NewMemoryStore()
		a.log.Info("using in-memory storage")
	}

	if a.cfg.Cache.Enabled {
		cache, err := datasource.NewCachedStore(a.sources, a.cfg.Cache.NumCounters, a.cfg.Cache.MaxCost, a.cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("catalog cache: %w", err)
		}
		a.cache = cache
		a.sources = cache
	}
	return nil
}

// seed loads a catalog file into the data source store.
func (a *app) seed(ctx context.Context, path string) ([]*datasource.DataSource, error) {
	var catalog datasource.Catalog
	if err := config.LoadYAML(path, &catalog); err != nil {
		return nil, err
	}
	created, err := catalog.Seed(ctx, a.sources)
	if err != nil {
		return nil, err
	}
	a.log.Info("catalog seeded", zap.String("path", path), zap.Int("data_sources", len(created)))
	return created, nil
}

// close releases everything newApp opened, in reverse order. Running syncs
// get until ctx ends to record their outcome.
func (a *app) close(ctx context.Context) {
	if a.coord != nil {
		if err := a.coord.Shutdown(ctx); err != nil {
			a.log.Warn("sync runs did not finish", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("failed to close event publisher", zap.Error(err))
		}
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.http != nil {
		_ = a.http.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", zap.Error(err))
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.log.Warn("failed to flush traces", zap.Error(err))
		}
	}
}
