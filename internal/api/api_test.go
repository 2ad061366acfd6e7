package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/datasync/pkg/batch"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/executor"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/mapping"
	"github.com/ajitpratap0/datasync/pkg/metrics"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

// fakeSource emits n records or fails with err. While block is set every
// call waits for it to be closed.
type fakeSource struct {
	mu    sync.Mutex
	n     int
	err   error
	block chan struct{}
}

func (s *fakeSource) state() (int, error, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n, s.err, s.block
}

func (s *fakeSource) Test(ctx context.Context, _ *datasource.DataSource) error {
	_, err, block := s.state()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeSource) Extract(ctx context.Context, ds *datasource.DataSource, emit executor.EmitFunc) error {
	if err := s.Test(ctx, ds); err != nil {
		return err
	}
	n, _, _ := s.state()
	for i := 0; i < n; i++ {
		if err := emit(map[string]interface{}{"n": i, "price": "10"}); err != nil {
			return err
		}
	}
	return nil
}

type server struct {
	t        *testing.T
	router   http.Handler
	sources  *datasource.MemoryStore
	history  *history.MemoryStore
	mappings *mapping.MemoryStore
	queue    *queue.Manager
	coord    *batch.Coordinator
	file     *fakeSource
	webhook  *fakeSource
	registry *prometheus.Registry
}

func newServer(t *testing.T) *server {
	t.Helper()
	log := zaptest.NewLogger(t)
	s := &server{
		t:        t,
		sources:  datasource.NewMemoryStore(),
		history:  history.NewMemoryStore(),
		mappings: mapping.NewMemoryStore(),
		file:     &fakeSource{n: 3},
		webhook:  &fakeSource{},
		registry: prometheus.NewRegistry(),
	}
	m := metrics.New(s.registry)
	s.queue = queue.NewManager(s.sources, s.history, log, queue.WithListener(m))

	reg := executor.NewRegistry(log)
	require.NoError(t, reg.Register(datasource.TypeFile, s.file))
	require.NoError(t, reg.Register(datasource.TypeWebhook, s.webhook))
	engine := mapping.NewEngine(log)
	t.Cleanup(engine.Close)
	runner := executor.NewRunner(reg, s.mappings, engine, log)

	s.coord = batch.NewCoordinator(s.sources, s.queue, runner, log, batch.WithItemTimeout(2*time.Second))
	t.Cleanup(s.coord.Wait)

	h := NewHandlers(Deps{
		Sources:  s.sources,
		Queue:    s.queue,
		Batch:    s.coord,
		History:  s.history,
		Mappings: s.mappings,
		Engine:   engine,
		Metrics:  m,
		Logger:   log,
	}, 0)
	s.router = NewRouter(h, RouterOptions{Gatherer: s.registry})
	return s
}

func (s *server) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(s.t, err)
			buf.Write(raw)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) addFile(status datasource.Status) string {
	s.t.Helper()
	ds := &datasource.DataSource{
		Name:                 "orders",
		ModuleName:           "sales",
		Type:                 datasource.TypeFile,
		Status:               status,
		Config:               &datasource.FileConfig{FilePath: "/data/orders.csv"},
		SyncFrequencySeconds: 3600,
	}
	require.NoError(s.t, s.sources.Create(context.Background(), ds))
	return ds.ID
}

type response struct {
	Data        json.RawMessage     `json:"data"`
	Pagination  *history.Pagination `json:"pagination"`
	Error       string              `json:"error"`
	Fields      []map[string]string `json:"fields"`
	QueueItemID string              `json:"queueItemId"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) response {
	t.Helper()
	var r response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(r.Data, data))
	}
	return r
}

func fieldNames(r response) []string {
	out := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		out = append(out, f["field"])
	}
	return out
}

func TestCreateDataSource_MasksSecrets(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/v1/data-sources", `{
		"name": "crm hook",
		"type": "webhook",
		"status": "active",
		"syncFrequencySeconds": 300,
		"connectionConfig": {"url": "https://crm.example.com/hook", "secret": "s3cret"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]interface{}
	decode(t, rec, &created)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	cfg := created["connectionConfig"].(map[string]interface{})
	assert.Equal(t, datasource.MaskedValue, cfg["secret"])
	assert.Equal(t, "POST", cfg["method"], "defaults are applied")

	rec = s.do(http.MethodGet, "/api/v1/data-sources/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")

	stored, err := s.sources.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", stored.Config.(*datasource.WebhookConfig).Secret)
}

func TestUpdateDataSource_KeepsMaskedSecret(t *testing.T) {
	s := newServer(t)
	ds := &datasource.DataSource{
		Name: "hook", Type: datasource.TypeWebhook, Status: datasource.StatusActive, SyncFrequencySeconds: 300,
		Config: &datasource.WebhookConfig{URL: "https://a.example.com", Secret: "s3cret"},
	}
	require.NoError(t, s.sources.Create(context.Background(), ds))

	rec := s.do(http.MethodPut, "/api/v1/data-sources/"+ds.ID, map[string]interface{}{
		"name":                 "hook renamed",
		"type":                 "webhook",
		"syncFrequencySeconds": 600,
		"connectionConfig":     map[string]interface{}{"url": "https://b.example.com", "secret": datasource.MaskedValue},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := s.sources.Get(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Equal(t, "hook renamed", stored.Name)
	assert.Equal(t, datasource.StatusActive, stored.Status, "status is kept when omitted")
	cfg := stored.Config.(*datasource.WebhookConfig)
	assert.Equal(t, "https://b.example.com", cfg.URL)
	assert.Equal(t, "s3cret", cfg.Secret)
}

func TestCreateDataSource_ListsEveryViolation(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/api/v1/data-sources", `{
		"type": "file",
		"syncFrequencySeconds": 10,
		"connectionConfig": {"format": "xml"}
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	r := decode(t, rec, nil)
	fields := fieldNames(r)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "syncFrequencySeconds")
	assert.Contains(t, fields, "connectionConfig.filePath")
	assert.Contains(t, fields, "connectionConfig.format")
}

func TestCreateDataSource_MalformedBody(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/api/v1/data-sources", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestListDataSources_Filters(t *testing.T) {
	s := newServer(t)
	s.addFile(datasource.StatusActive)
	require.NoError(t, s.sources.Create(context.Background(), &datasource.DataSource{
		Name: "hook", Type: datasource.TypeWebhook, SyncFrequencySeconds: 60,
		Config: &datasource.WebhookConfig{URL: "https://a.example.com"},
	}))

	var list []map[string]interface{}
	rec := s.do(http.MethodGet, "/api/v1/data-sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Len(t, list, 2)

	rec = s.do(http.MethodGet, "/api/v1/data-sources?dataSourceType=file&moduleName=sales", nil)
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "file", list[0]["type"])

	rec = s.do(http.MethodGet, "/api/v1/data-sources?dataSourceType=ftp", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	s := newServer(t)
	id := s.addFile(datasource.StatusPending)

	rec := s.do(http.MethodPut, "/api/v1/data-sources/"+id+"/status", `{"status":"active"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ds map[string]interface{}
	decode(t, rec, &ds)
	assert.Equal(t, "active", ds["status"])

	rec = s.do(http.MethodPut, "/api/v1/data-sources/"+id+"/status", `{"status":"paused"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/v1/data-sources/404/status", `{"status":"active"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSync_RunsAndLogs(t *testing.T) {
	s := newServer(t)
	id := s.addFile(datasource.StatusActive)

	rec := s.do(http.MethodPost, "/api/v1/data-sources/"+id+"/sync", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var accepted syncAccepted
	decode(t, rec, &accepted)
	require.NotEmpty(t, accepted.QueueItemID)
	s.coord.Wait()

	var items []queue.Item
	decode(t, s.do(http.MethodGet, "/api/v1/sync/queue?status=success", nil), &items)
	require.Len(t, items, 1)
	assert.Equal(t, accepted.QueueItemID, items[0].ID)
	assert.Equal(t, 3, items[0].RecordCount)

	var logs []history.Entry
	r := decode(t, s.do(http.MethodGet, "/api/v1/sync/logs?dataSourceId="+id, nil), &logs)
	require.Len(t, logs, 1)
	require.NotNil(t, r.Pagination)
	assert.Equal(t, 1, r.Pagination.Total)
	assert.Equal(t, history.DefaultLimit, r.Pagination.Limit)
	assert.Equal(t, history.StatusSuccess, logs[0].Status)

	var records []map[string]interface{}
	r = decode(t, s.do(http.MethodGet, "/api/v1/sync/logs/"+logs[0].ID+"/records?page=2&limit=2", nil), &records)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, r.Pagination.TotalPages)

	var stats history.Stats
	decode(t, s.do(http.MethodGet, "/api/v1/sync/logs/statistics", nil), &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, 100.0, stats.SuccessRatePct)

	var due []map[string]interface{}
	decode(t, s.do(http.MethodGet, "/api/v1/sync/needing-sync", nil), &due)
	assert.Empty(t, due, "just synced")
}

func TestSync_DuplicateReturnsActiveItem(t *testing.T) {
	s := newServer(t)
	s.file.block = make(chan struct{})
	defer close(s.file.block)
	id := s.addFile(datasource.StatusActive)

	rec := s.do(http.MethodPost, "/api/v1/data-sources/"+id+"/sync", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted syncAccepted
	decode(t, rec, &accepted)

	assert.False(t, accepted.AlreadyQueued)

	rec = s.do(http.MethodPost, "/api/v1/data-sources/"+id+"/sync", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var again syncAccepted
	decode(t, rec, &again)
	assert.Equal(t, accepted.QueueItemID, again.QueueItemID)
	assert.True(t, again.AlreadyQueued)
	assert.Contains(t, []queue.Status{queue.StatusQueued, queue.StatusInProgress}, again.Status)
	assert.Len(t, s.queue.Snapshot(), 1)
}

func TestSync_InactiveAndMissing(t *testing.T) {
	s := newServer(t)
	id := s.addFile(datasource.StatusInactive)

	rec := s.do(http.MethodPost, "/api/v1/data-sources/"+id+"/sync", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, fieldNames(decode(t, rec, nil)), "status")
	assert.Empty(t, s.queue.Snapshot())

	rec = s.do(http.MethodPost, "/api/v1/data-sources/nope/sync", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncBatch(t *testing.T) {
	s := newServer(t)
	a := s.addFile(datasource.StatusActive)
	b := s.addFile(datasource.StatusInactive)

	rec := s.do(http.MethodPost, "/api/v1/sync/batch", map[string]interface{}{"dataSourceIds": []string{a, b, "missing"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var res batch.Result
	decode(t, rec, &res)
	s.coord.Wait()

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
	require.Len(t, res.Items, 3)
	assert.Equal(t, a, res.Items[0].ID)
	assert.True(t, res.Items[0].Success)
	assert.NotEmpty(t, res.Items[0].QueueItemID)
	assert.Equal(t, "missing", res.Items[2].ID)
	assert.False(t, res.Items[2].Success)

	rec = s.do(http.MethodPost, "/api/v1/sync/batch", `{"dataSourceIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ids := make([]string, batch.MaxBatchSize+1)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	rec = s.do(http.MethodPost, "/api/v1/sync/batch", map[string]interface{}{"dataSourceIds": ids})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestEndpoints(t *testing.T) {
	s := newServer(t)
	id := s.addFile(datasource.StatusActive)

	var res testResult
	rec := s.do(http.MethodPost, "/api/v1/data-sources/"+id+"/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.True(t, res.Success)

	s.file.mu.Lock()
	s.file.err = fmt.Errorf("open /data/orders.csv: no such file")
	s.file.mu.Unlock()

	rec = s.do(http.MethodPost, "/api/v1/data-sources/"+id+"/test", nil)
	require.Equal(t, http.StatusOK, rec.Code, "an unreachable source is a result")
	decode(t, rec, &res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no such file")

	rec = s.do(http.MethodPost, "/api/v1/data-sources/nope/test", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var batchRes batch.Result
	rec = s.do(http.MethodPost, "/api/v1/test/batch", map[string]interface{}{"dataSourceIds": []string{id, "nope"}})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &batchRes)
	assert.Equal(t, 2, batchRes.Rejected)
	assert.Empty(t, s.queue.Snapshot(), "tests create no queue items")
}

func TestLogs_RejectsBadFilters(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/api/v1/sync/logs?status=running&from=yesterday&minRecords=x&hasErrors=maybe&page=one", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.ElementsMatch(t, []string{"status", "from", "minRecords", "hasErrors", "page"}, fieldNames(decode(t, rec, nil)))

	rec = s.do(http.MethodGet, "/api/v1/sync/logs/none/records", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogs_FiltersAndPaging(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		status := history.StatusSuccess
		if i%2 == 1 {
			status = history.StatusFailed
		}
		require.NoError(t, s.history.Append(ctx, &history.Entry{
			DataSourceID:    "1",
			Status:          status,
			RunTimestamp:    base.Add(time.Duration(i) * time.Hour),
			DurationSeconds: float64(i),
			RecordCount:     i * 10,
		}))
	}

	var logs []history.Entry
	r := decode(t, s.do(http.MethodGet, "/api/v1/sync/logs?hasErrors=false&limit=2", nil), &logs)
	require.Len(t, logs, 2)
	assert.Equal(t, 3, r.Pagination.Total)
	assert.Equal(t, 40, logs[0].RecordCount, "newest first")

	from := base.Add(time.Hour).Format(time.RFC3339)
	decode(t, s.do(http.MethodGet, "/api/v1/sync/logs?from="+from+"&maxDuration=3", nil), &logs)
	assert.Len(t, logs, 3)

	var stats history.Stats
	decode(t, s.do(http.MethodGet, "/api/v1/sync/logs/statistics?status=failed", nil), &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 0.0, stats.SuccessRatePct)
	assert.Equal(t, 2.0, stats.AvgDurationSeconds)
}

func TestMappings_CRUD(t *testing.T) {
	s := newServer(t)
	id := s.addFile(datasource.StatusActive)
	base := "/api/v1/data-sources/" + id + "/mappings"

	rec := s.do(http.MethodPost, base, `{"sourceField":"price","targetField":"cost","transformation":{"formula":"value * 2"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rule mapping.MappingRule
	decode(t, rec, &rule)
	require.NotEmpty(t, rule.ID)
	assert.Equal(t, id, rule.DataSourceID)

	rec = s.do(http.MethodPost, base, `{"sourceField":"","targetField":"x","transformation":{"formula":"value +"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.ElementsMatch(t, []string{"sourceField", "transformation.formula"}, fieldNames(decode(t, rec, nil)))

	rec = s.do(http.MethodPut, base+"/"+rule.ID, `{"sourceField":"price","targetField":"total","transformation":{"type":"string"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rules []mapping.MappingRule
	decode(t, s.do(http.MethodGet, base, nil), &rules)
	require.Len(t, rules, 1)
	assert.Equal(t, "total", rules[0].TargetField)

	// the rule is applied by the next sync
	_, err := s.coord.SyncOne(context.Background(), id)
	require.NoError(t, err)
	s.coord.Wait()
	page, err := s.history.Query(context.Background(), history.Filter{}, 1, 1)
	require.NoError(t, err)
	entry, err := s.history.Get(context.Background(), page.Items[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, entry.Records)
	assert.Equal(t, map[string]interface{}{"total": "10"}, entry.Records[0])

	rec = s.do(http.MethodDelete, base+"/"+rule.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodDelete, base+"/"+rule.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/data-sources/nope/mappings", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreview(t *testing.T) {
	s := newServer(t)

	var res mapping.PreviewResult
	rec := s.do(http.MethodPost, "/api/v1/mappings/preview", `{"sourceField":"price","sampleValue":"21","transformation":{"formula":"value * 2"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &res)
	assert.Equal(t, 42.0, res.Result)
	assert.True(t, strings.HasPrefix(res.Description, "Formula"))

	rec = s.do(http.MethodPost, "/api/v1/mappings/preview", `{"sourceField":"price","sampleValue":"1","transformation":{"formula":"value / 0"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/mappings/preview", `{"sampleValue":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var applied applyResult
	rec = s.do(http.MethodPost, "/api/v1/mappings/preview", `{
		"record": {"price": "10", "name": "widget"},
		"rules": [
			{"id": "r1", "sourceField": "price", "targetField": "cost", "transformation": {"formula": "value + 1"}},
			{"id": "r2", "sourceField": "name", "targetField": "label", "transformation": {"formula": "value *"}}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &applied)
	assert.Equal(t, map[string]interface{}{"cost": 11.0}, applied.Result)
	require.Len(t, applied.Errors, 1)
	assert.Contains(t, applied.Errors[0], "r2")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	s.do(http.MethodPost, "/api/v1/test/batch", `{"dataSourceIds":["nope"]}`)

	rec = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `datasync_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
	assert.Contains(t, body, `datasync_batch_items_total{operation="test",outcome="rejected"} 1`)
}

func TestBodyLimit(t *testing.T) {
	s := newServer(t)
	big := `{"dataSourceIds":["` + strings.Repeat("x", DefaultBodyLimit) + `"]}`
	rec := s.do(http.MethodPost, "/api/v1/sync/batch", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
	status int
}

func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) WriteHeader(status int)    { w.status = status }
func (w *brokenWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("connection reset") }

func TestWriteJSON_LogsThroughHandlerLogger(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := NewHandlers(Deps{Logger: zap.New(core)}, 0)

	w := &brokenWriter{header: http.Header{}}
	h.writeData(w, http.StatusOK, map[string]string{"a": "b"})

	assert.Equal(t, http.StatusOK, w.status)
	entries := logs.FilterMessage("failed to write JSON response").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "api", entries[0].ContextMap()["component"])
	assert.Contains(t, entries[0].ContextMap()["error"], "connection reset")
}
