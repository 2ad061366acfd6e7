// Package metrics exposes Prometheus collectors for the sync service.
//
// # Overview
//
// The metrics package provides:
//   - Sync run outcomes, record counts and durations, fed by queue transitions
//   - Queue depth per status, fed by the status poller
//   - Batch admission results
//   - HTTP request counts and latencies
//
// Collectors are registered on an explicit prometheus.Registerer.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//
//	// Count every terminal queue transition
//	manager := queue.NewManager(sources, hist, log, queue.WithListener(m))
//
//	// Refresh queue depth from snapshots
//	poller.Start(time.Second, m.ObserveQueue)
//
//	// Time an operation
//	timer := metrics.NewTimer("preview")
//	preview()
//	m.ObserveHTTP("POST", "/mappings/preview", 200, timer.Stop())
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/datasync/pkg/queue"
)

const namespace = "datasync"

// Collector holds every service metric.
type Collector struct {
	syncRuns      *prometheus.CounterVec   // terminal sync runs by status
	syncRecords   prometheus.Counter       // records extracted by successful runs
	syncDuration  *prometheus.HistogramVec // in_progress to terminal, seconds
	queueItems    *prometheus.GaugeVec     // items per status in the last snapshot
	batchItems    *prometheus.CounterVec   // batch items by operation and outcome
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
	startTime     time.Time
}

// New registers the service collectors on reg. It panics if any of them is
// already registered there.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		syncRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of finished sync runs",
			},
			[]string{"status"},
		),
		syncRecords: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_records_total",
				Help:      "Total number of records extracted by successful sync runs",
			},
		),
		syncDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of sync runs from start to completion",
				Buckets: []float64{
					0.1, // in-memory and tiny files
					0.5,
					1,
					5, // typical API pages
					15,
					30, // default item budget
					60,
					300,
				},
			},
			[]string{"status"},
		),
		queueItems: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_items",
				Help:      "Queue items per status in the latest snapshot",
			},
			[]string{"status"},
		),
		batchItems: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Batch items by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDurations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		startTime: time.Now(),
	}
}

// RegisterRuntime adds the Go runtime and process collectors to reg.
func RegisterRuntime(reg prometheus.Registerer) error {
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// ItemChanged implements queue.Listener. Only terminal transitions are
// counted.
func (c *Collector) ItemChanged(it queue.Item) {
	if !it.Status.Terminal() {
		return
	}
	status := string(it.Status)
	c.syncRuns.WithLabelValues(status).Inc()
	if it.Status == queue.StatusSuccess {
		c.syncRecords.Add(float64(it.RecordCount))
	}
	if it.StartedAt != nil && it.CompletedAt != nil {
		c.syncDuration.WithLabelValues(status).Observe(it.CompletedAt.Sub(*it.StartedAt).Seconds())
	}
}

// ObserveQueue sets the queue gauges from a snapshot.
func (c *Collector) ObserveQueue(items []queue.Item) {
	counts := map[queue.Status]int{
		queue.StatusQueued:     0,
		queue.StatusInProgress: 0,
		queue.StatusSuccess:    0,
		queue.StatusFailed:     0,
	}
	for _, it := range items {
		counts[it.Status]++
	}
	for status, n := range counts {
		c.queueItems.WithLabelValues(string(status)).Set(float64(n))
	}
}

// ObserveBatch counts the accepted and rejected items of one batch.
func (c *Collector) ObserveBatch(operation string, accepted, rejected int) {
	c.batchItems.WithLabelValues(operation, "accepted").Add(float64(accepted))
	c.batchItems.WithLabelValues(operation, "rejected").Add(float64(rejected))
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, code int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDurations.WithLabelValues(method, route).Observe(d.Seconds())
}

// Uptime returns how long the collector has existed.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
