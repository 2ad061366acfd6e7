package observability

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/metrics"
)

func testRouter(mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw...)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "boom" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func TestTracing_ExportsRouteNamedSpans(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracing(TracingConfig{
		Enabled:        true,
		ServiceName:    "datasync-test",
		ServiceVersion: "test",
		Environment:    "test",
		SamplingRate:   1,
		Writer:         &buf,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(testRouter(tr.TracingMiddleware("datasync")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/items/42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Traceparent"))

	require.NoError(t, tr.Shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, `"Name":"GET /items/{id}"`)
	assert.Contains(t, out, "datasync-test")
}

func TestTracing_Disabled(t *testing.T) {
	tr, err := NewTracing(TracingConfig{})
	require.NoError(t, err)

	_, span := tr.Tracer("x").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := tp.Tracer("t").Start(context.Background(), "op")
	RecordError(span, errors.NewConnectionError("1", "connect", fmt.Errorf("refused")))
	RecordError(span, nil)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	var errType string
	for _, kv := range ended[0].Attributes() {
		if kv.Key == "error.type" {
			errType = kv.Value.AsString()
		}
	}
	assert.Equal(t, "connection", errType)
	assert.Len(t, ended[0].Events(), 1)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := testRouter(middleware.RequestID, RequestLogger(zap.New(core)))

	for _, path := range []string{"/items/1", "/items/boom", "/nope"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "request served", entries[0].Message)
	assert.Equal(t, "/items/{id}", entries[0].ContextMap()["route"])
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
	assert.Equal(t, "request failed", entries[1].Message)
	assert.Equal(t, int64(500), entries[1].ContextMap()["status"])
	assert.Equal(t, "request rejected", entries[2].Message)
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := testRouter(MetricsMiddleware(m))

	for _, path := range []string{"/items/1", "/items/2", "/nope"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP datasync_http_requests_total HTTP requests by method, route and status code
# TYPE datasync_http_requests_total counter
datasync_http_requests_total{code="200",method="GET",route="/items/{id}"} 2
datasync_http_requests_total{code="404",method="GET",route="unmatched"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, bytes.NewBufferString(expected), "datasync_http_requests_total"))
}
