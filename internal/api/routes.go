// Package api serves the data source, sync and mapping REST API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/batch"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/logger"
	"github.com/ajitpratap0/datasync/pkg/mapping"
	"github.com/ajitpratap0/datasync/pkg/metrics"
	"github.com/ajitpratap0/datasync/pkg/observability"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

// DefaultBodyLimit caps request bodies.
const DefaultBodyLimit = 1 << 20

// Deps are the components the handlers drive.
type Deps struct {
	Sources  datasource.Store
	Queue    *queue.Manager
	Batch    *batch.Coordinator
	History  history.Store
	Mappings mapping.Store
	Engine   *mapping.Engine
	// Metrics is optional.
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	sources   datasource.Store
	queue     *queue.Manager
	batch     *batch.Coordinator
	history   history.Store
	mappings  mapping.Store
	engine    *mapping.Engine
	metrics   *metrics.Collector
	logger    *zap.Logger
	bodyLimit int64
	now       func() time.Time
}

// NewHandlers creates Handlers. A bodyLimit below 1 uses DefaultBodyLimit.
func NewHandlers(d Deps, bodyLimit int64) *Handlers {
	if bodyLimit < 1 {
		bodyLimit = DefaultBodyLimit
	}
	return &Handlers{
		sources:   d.Sources,
		queue:     d.Queue,
		batch:     d.Batch,
		history:   d.History,
		mappings:  d.Mappings,
		engine:    d.Engine,
		metrics:   d.Metrics,
		logger:    logger.OrNop(d.Logger).With(zap.String("component", "api")),
		bodyLimit: bodyLimit,
		now:       time.Now,
	}
}

// RouterOptions selects the optional middleware and endpoints.
type RouterOptions struct {
	// Tracing adds a server span per request when set.
	Tracing     *observability.Tracing
	ServiceName string
	// Gatherer serves MetricsPath when set.
	Gatherer    prometheus.Gatherer
	MetricsPath string
}

// NewRouter builds the chi router with the middleware stack and every
// route mounted.
func NewRouter(h *Handlers, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(h.logger))
	if opts.Tracing != nil {
		r.Use(opts.Tracing.TracingMiddleware(opts.ServiceName))
	}
	if h.metrics != nil {
		r.Use(observability.MetricsMiddleware(h.metrics))
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	MountRoutes(r, h)
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Data sources
		r.Get("/data-sources", h.ListDataSources)
		r.Post("/data-sources", h.CreateDataSource)
		r.Get("/data-sources/{id}", h.GetDataSource)
		r.Put("/data-sources/{id}", h.UpdateDataSource)
		r.Put("/data-sources/{id}/status", h.UpdateDataSourceStatus)

		// Connection tests
		r.Post("/data-sources/{id}/test", h.TestDataSource)
		r.Post("/test/batch", h.TestBatch)

		// Syncs
		r.Post("/data-sources/{id}/sync", h.SyncDataSource)
		r.Post("/sync/batch", h.SyncBatch)
		r.Get("/sync/queue", h.ListQueue)
		r.Get("/sync/needing-sync", h.ListNeedingSync)

		// Sync logs
		r.Get("/sync/logs", h.ListLogs)
		r.Get("/sync/logs/statistics", h.LogStatistics)
		r.Get("/sync/logs/{logId}/records", h.ListLogRecords)

		// Mapping rules (nested under data sources)
		r.Get("/data-sources/{id}/mappings", h.ListMappings)
		r.Post("/data-sources/{id}/mappings", h.CreateMapping)
		r.Put("/data-sources/{id}/mappings/{mappingId}", h.UpdateMapping)
		r.Delete("/data-sources/{id}/mappings/{mappingId}", h.DeleteMapping)
		r.Post("/mappings/preview", h.PreviewMapping)
	})
}

// Health reports liveness with the current queue depth.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	counts := h.queue.Counts()
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"queued":     counts[queue.StatusQueued],
		"inProgress": counts[queue.StatusInProgress],
	})
}
