package postgres

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/mapping"
)

var fixedNow = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, DriverName), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var dsCols = []string{"id", "name", "description", "module_name", "type", "status", "connection_config",
	"sync_frequency_seconds", "last_sync_at", "created_at", "updated_at"}

func TestWhere(t *testing.T) {
	var w where
	assert.Equal(t, "", w.String())
	w.add("a = %s", 1)
	w.add("b >= %s", "x")
	assert.Equal(t, " WHERE a = $1 AND b >= $2", w.String())
	assert.Equal(t, "$3", w.next(10))
	assert.Equal(t, []interface{}{1, "x", 10}, w.args)
}

func TestDataSourceStore_Get(t *testing.T) {
	db, mock := newMock(t)
	store := NewDataSourceStore(db)

	synced := fixedNow.Add(-time.Hour)
	mock.ExpectQuery(q("FROM data_sources WHERE id = $1")).WithArgs("7").
		WillReturnRows(sqlmock.NewRows(dsCols).AddRow(
			"7", "orders", "", "sales", "api", "active",
			[]byte(`{"baseUrl":"https://api.example.com/orders","method":"GET","timeoutMs":5000}`),
			3600, synced, fixedNow, fixedNow))

	ds, err := store.Get(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "orders", ds.Name)
	assert.Equal(t, datasource.StatusActive, ds.Status)
	cfg, ok := ds.Config.(*datasource.APIConfig)
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/orders", cfg.BaseURL)
	require.NotNil(t, ds.LastSyncAt)
	assert.True(t, ds.LastSyncAt.Equal(synced))
}

func TestDataSourceStore_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM data_sources WHERE id = $1")).WithArgs("9").
		WillReturnRows(sqlmock.NewRows(dsCols))

	_, err := NewDataSourceStore(db).Get(context.Background(), "9")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDataSourceStore_ListFilters(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM data_sources WHERE module_name = $1 AND status = $2 ORDER BY length(id), id")).
		WithArgs("sales", "active").
		WillReturnRows(sqlmock.NewRows(dsCols).
			AddRow("1", "a", "", "sales", "file", "active", []byte(`{"filePath":"/a.csv"}`), 60, nil, fixedNow, fixedNow).
			AddRow("2", "b", "", "sales", "webhook", "active", nil, 60, nil, fixedNow, fixedNow))

	list, err := NewDataSourceStore(db).List(context.Background(),
		datasource.Filter{ModuleName: "sales", Status: datasource.StatusActive})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Nil(t, list[0].LastSyncAt)
	assert.NotNil(t, list[0].Config)
	assert.Nil(t, list[1].Config)
}

func TestDataSourceStore_Create(t *testing.T) {
	db, mock := newMock(t)
	store := NewDataSourceStore(db)
	store.now = func() time.Time { return fixedNow }

	mock.ExpectQuery(q("INSERT INTO data_sources")).
		WithArgs("", "orders", "", "", "file", "pending", sqlmock.AnyArg(), 3600, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("12"))

	ds := &datasource.DataSource{
		Name:                 "orders",
		Type:                 datasource.TypeFile,
		Config:               &datasource.FileConfig{FilePath: "/data/orders.csv"},
		SyncFrequencySeconds: 3600,
	}
	require.NoError(t, store.Create(context.Background(), ds))
	assert.Equal(t, "12", ds.ID)
	assert.Equal(t, datasource.StatusPending, ds.Status)
	assert.Equal(t, fixedNow, ds.CreatedAt)
}

func TestDataSourceStore_CreateRejectsInvalidWithoutQuery(t *testing.T) {
	db, _ := newMock(t)
	err := NewDataSourceStore(db).Create(context.Background(), &datasource.DataSource{
		Name: "x", Type: datasource.TypeWebhook, Config: &datasource.WebhookConfig{}, SyncFrequencySeconds: 60,
	})
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields(), "connectionConfig.url")
}

func TestDataSourceStore_CreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("INSERT INTO data_sources")).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := NewDataSourceStore(db).Create(context.Background(), &datasource.DataSource{
		ID: "5", Name: "x", Type: datasource.TypeFile,
		Config: &datasource.FileConfig{FilePath: "/x.csv"}, SyncFrequencySeconds: 60,
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestDataSourceStore_UpdateNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("UPDATE data_sources")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at", "last_sync_at"}))

	err := NewDataSourceStore(db).Update(context.Background(), &datasource.DataSource{
		ID: "5", Name: "x", Type: datasource.TypeFile, Status: datasource.StatusActive,
		Config: &datasource.FileConfig{FilePath: "/x.csv"}, SyncFrequencySeconds: 60,
	})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDataSourceStore_SetStatusAndMarkSynced(t *testing.T) {
	db, mock := newMock(t)
	store := NewDataSourceStore(db)
	store.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	mock.ExpectExec(q("UPDATE data_sources SET status = $2")).WithArgs("3", "inactive", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SetStatus(ctx, "3", datasource.StatusInactive))

	mock.ExpectExec(q("UPDATE data_sources SET status = $2")).WithArgs("4", "active", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, errors.Is(store.SetStatus(ctx, "4", datasource.StatusActive), errors.ErrNotFound))

	assert.True(t, errors.IsType(store.SetStatus(ctx, "4", "paused"), errors.ErrorTypeValidation))

	mock.ExpectExec(q("UPDATE data_sources SET last_sync_at = $2")).WithArgs("3", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.MarkSynced(ctx, "3", fixedNow))
}

var entryCols = []string{"id", "data_source_id", "queue_item_id", "status", "run_timestamp",
	"duration_seconds", "record_count", "message"}

func TestHistoryStore_Append(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("INSERT INTO sync_logs")).
		WithArgs(sqlmock.AnyArg(), "1", "item-1", "success", fixedNow, 2.5, 120, "synced 120 records",
			[]byte(`[{"n":1}]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &history.Entry{
		DataSourceID: "1", QueueItemID: "item-1", Status: history.StatusSuccess,
		RunTimestamp: fixedNow, DurationSeconds: 2.5, RecordCount: 120, Message: "synced 120 records",
		Records: []map[string]interface{}{{"n": 1}},
	}
	require.NoError(t, NewHistoryStore(db).Append(context.Background(), e))
	assert.NotEmpty(t, e.ID)
}

func TestHistoryStore_AppendValidates(t *testing.T) {
	db, _ := newMock(t)
	err := NewHistoryStore(db).Append(context.Background(), &history.Entry{Status: "maybe"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestHistoryStore_Query(t *testing.T) {
	db, mock := newMock(t)
	hasErrors := true
	minRecords := 10

	mock.ExpectQuery(q("SELECT count(*) FROM sync_logs WHERE data_source_id = $1 AND record_count >= $2 AND status = $3")).
		WithArgs("1", 10, "failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(45))
	mock.ExpectQuery(q("ORDER BY run_timestamp DESC, id LIMIT $4 OFFSET $5")).
		WithArgs("1", 10, "failed", 20, 20).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("e2", "1", "i2", "failed", fixedNow, 1.0, 12, "boom").
			AddRow("e1", "1", "i1", "failed", fixedNow.Add(-time.Hour), 2.0, 11, "boom"))

	page, err := NewHistoryStore(db).Query(context.Background(),
		history.Filter{DataSourceID: "1", MinRecords: &minRecords, HasErrors: &hasErrors}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 45, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "e2", page.Items[0].ID)
	assert.Equal(t, history.StatusFailed, page.Items[0].Status)
	assert.Nil(t, page.Items[0].Records)
}

func TestHistoryStore_QueryPastEnd(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("SELECT count(*) FROM sync_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	page, err := NewHistoryStore(db).Query(context.Background(), history.Filter{}, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
}

func TestHistoryStore_Statistics(t *testing.T) {
	db, mock := newMock(t)
	from := fixedNow.Add(-24 * time.Hour)
	mock.ExpectQuery(q("FROM sync_logs WHERE run_timestamp >= $1")).WithArgs(from).
		WillReturnRows(sqlmock.NewRows([]string{"total", "success", "failed", "records", "duration"}).
			AddRow(3, 2, 1, 300, 10.0))

	st, err := NewHistoryStore(db).Statistics(context.Background(), history.Filter{From: &from})
	require.NoError(t, err)
	assert.Equal(t, history.Stats{Total: 3, Success: 2, Failed: 1, TotalRecords: 300,
		AvgDurationSeconds: 3.33, SuccessRatePct: 66.67}, st)
}

func TestHistoryStore_GetAndRecords(t *testing.T) {
	db, mock := newMock(t)
	store := NewHistoryStore(db)
	ctx := context.Background()

	records := []byte(`[{"n":1},{"n":2},{"n":3}]`)
	mock.ExpectQuery(q("FROM sync_logs WHERE id = $1")).WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, entryCols...), "records")).
			AddRow("e1", "1", "i1", "success", fixedNow, 1.5, 3, "synced 3 records", records))
	e, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, e.Records, 3)
	assert.Equal(t, 3, e.RecordCount)

	mock.ExpectQuery(q("SELECT records FROM sync_logs WHERE id = $1")).WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"records"}).AddRow(records))
	page, err := store.Records(ctx, "e1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.EqualValues(t, 3, page.Items[0]["n"])

	mock.ExpectQuery(q("SELECT records FROM sync_logs WHERE id = $1")).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"records"}))
	_, err = store.Records(ctx, "nope", 1, 10)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

var ruleCols = []string{"id", "data_source_id", "source_field", "target_field", "transformation", "created_at", "updated_at"}

func TestMappingStore_CreateAndList(t *testing.T) {
	db, mock := newMock(t)
	store := NewMappingStore(db)
	store.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	mock.ExpectExec(q("INSERT INTO mapping_rules")).
		WithArgs(sqlmock.AnyArg(), "1", "price", "taxPrice", []byte(`{"formula":"value * 1.1","type":"number"}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rule := &mapping.MappingRule{
		DataSourceID:   "1",
		SourceField:    "price",
		TargetField:    "taxPrice",
		Transformation: mapping.Transformation{Formula: "value * 1.1", Type: mapping.TypeNumber},
	}
	require.NoError(t, store.Create(ctx, rule))
	assert.NotEmpty(t, rule.ID)

	mock.ExpectQuery(q("FROM mapping_rules WHERE data_source_id = $1 ORDER BY created_at, id")).WithArgs("1").
		WillReturnRows(sqlmock.NewRows(ruleCols).
			AddRow(rule.ID, "1", "price", "taxPrice", []byte(`{"formula":"value * 1.1","type":"number"}`), fixedNow, fixedNow).
			AddRow("r2", "1", "status", "state", []byte(`{"lookupTable":"{\"A\":\"Active\"}"}`), fixedNow, fixedNow))
	rules, err := store.List(ctx, "1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "value * 1.1", rules[0].Transformation.Formula)
	require.NotNil(t, rules[1].Transformation.LookupTable)
	entries, err := rules[1].Transformation.LookupTable.Entries()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "Active"}, entries)
}

func TestMappingStore_RejectsInvalidRule(t *testing.T) {
	db, _ := newMock(t)
	err := NewMappingStore(db).Create(context.Background(), &mapping.MappingRule{
		DataSourceID: "1", SourceField: "a", TargetField: "b",
		Transformation: mapping.Transformation{Formula: "value +"},
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestMappingStore_UpdateDeleteNotFound(t *testing.T) {
	db, mock := newMock(t)
	store := NewMappingStore(db)
	ctx := context.Background()

	mock.ExpectQuery(q("UPDATE mapping_rules")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	err := store.Update(ctx, &mapping.MappingRule{ID: "r9", DataSourceID: "1", SourceField: "a", TargetField: "b"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mock.ExpectExec(q("DELETE FROM mapping_rules")).WithArgs("r9", "1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, errors.Is(store.Delete(ctx, "1", "r9"), errors.ErrNotFound))

	mock.ExpectExec(q("DELETE FROM mapping_rules")).WithArgs("r1", "1").
		WillReturnError(fmt.Errorf("connection reset"))
	assert.Error(t, store.Delete(ctx, "1", "r1"))
}
