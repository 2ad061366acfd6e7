package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/internal/api"
	"github.com/ajitpratap0/datasync/pkg/config"
	"github.com/ajitpratap0/datasync/pkg/poller"
	"github.com/ajitpratap0/datasync/pkg/scheduler"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, scheduler and sync workers",
		Long: `Run the REST API together with the periodic scheduler and the sync
worker pool. With no database DSN configured all state is kept in memory;
--seed loads a data source catalog at startup.

Example:
  datasync serve --config datasync.yaml --seed catalog.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, seedFile, log.With(zap.String("component", "datasync-server")))
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "Catalog YAML file to load at startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.AppConfig, seedFile string, log *zap.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	if seedFile != "" {
		if _, err := a.seed(ctx, seedFile); err != nil {
			a.close(context.Background())
			return err
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler.Spec, a.sources, a.coord, log)
		if err != nil {
			a.close(context.Background())
			return err
		}
		sched.Start()
	}

	// queue depth gauges follow the poller
	statusPoller := poller.New(a.queue, log)
	if a.metrics != nil {
		statusPoller.Start(cfg.Poller.Interval, a.metrics.ObserveQueue)
	}

	handlers := api.NewHandlers(api.Deps{
		Sources:  a.sources,
		Queue:    a.queue,
		Batch:    a.coord,
		History:  a.history,
		Mappings: a.mappings,
		Engine:   a.engine,
		Metrics:  a.metrics,
		Logger:   log,
	}, cfg.Server.BodyLimit)
	opts := api.RouterOptions{MetricsPath: cfg.Metrics.Path, ServiceName: cfg.Tracing.ServiceName}
	if cfg.Tracing.Enabled {
		opts.Tracing = a.tracing
	}
	if a.registry != nil {
		opts.Gatherer = a.registry
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handlers, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.Error("http server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn("scheduler shutdown", zap.Error(err))
		}
	}
	statusPoller.Close()
	a.close(shutdownCtx)
	log.Info("shutdown complete")
	return serveErr
}
