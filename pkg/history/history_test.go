package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datasync/pkg/errors"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, s Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		status := StatusSuccess
		msg := ""
		if i%5 == 0 {
			status = StatusFailed
			msg = "connection refused"
		}
		require.NoError(t, s.Append(context.Background(), &Entry{
			DataSourceID:    fmt.Sprintf("%d", i%3+1),
			Status:          status,
			RunTimestamp:    base.Add(time.Duration(i) * time.Hour),
			DurationSeconds: float64(i),
			RecordCount:     i * 10,
			Message:         msg,
		}))
	}
}

func TestQuery_Pagination(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 25)
	ctx := context.Background()

	p, err := s.Query(ctx, Filter{}, 2, 10)
	require.NoError(t, err)
	assert.Len(t, p.Items, 10)
	assert.Equal(t, 25, p.Total)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 2, p.Page)

	last, err := s.Query(ctx, Filter{}, 3, 10)
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)

	beyond, err := s.Query(ctx, Filter{}, 9, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.Equal(t, 3, beyond.TotalPages)
}

func TestQuery_NewestFirstWithoutRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, &Entry{DataSourceID: "1", Status: StatusSuccess, RunTimestamp: base, Records: []map[string]interface{}{{"a": 1}}}))
	require.NoError(t, s.Append(ctx, &Entry{DataSourceID: "1", Status: StatusSuccess, RunTimestamp: base.Add(time.Minute)}))

	p, err := s.Query(ctx, Filter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.True(t, p.Items[0].RunTimestamp.After(p.Items[1].RunTimestamp))
	assert.Nil(t, p.Items[1].Records)
}

func TestQuery_CoercesPageAndLimit(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 25)

	p, err := s.Query(context.Background(), Filter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Len(t, p.Items, 20)
	assert.Equal(t, 2, p.TotalPages)
}

func TestQuery_Filters(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, 25)
	ctx := context.Background()

	yes, no := true, false
	from := base.Add(10 * time.Hour)
	to := base.Add(14 * time.Hour)
	minRecords, maxRecords := 50, 100
	minDur, maxDur := 20.0, 22.0

	tests := []struct {
		name   string
		filter Filter
		total  int
	}{
		{"all", Filter{}, 25},
		{"failed", Filter{Status: StatusFailed}, 5},
		{"has errors", Filter{HasErrors: &yes}, 5},
		{"no errors", Filter{HasErrors: &no}, 20},
		{"data source", Filter{DataSourceID: "1"}, 9},
		{"date range inclusive", Filter{From: &from, To: &to}, 5},
		{"record range", Filter{MinRecords: &minRecords, MaxRecords: &maxRecords}, 6},
		{"duration range", Filter{MinDuration: &minDur, MaxDuration: &maxDur}, 3},
		{"combined", Filter{Status: StatusFailed, DataSourceID: "1"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.Query(ctx, tt.filter, 1, 100)
			require.NoError(t, err)
			assert.Equal(t, tt.total, p.Total)
			for _, e := range p.Items {
				assert.True(t, tt.filter.Matches(&e))
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	empty, err := s.Statistics(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, empty)
	assert.Equal(t, 0.0, empty.AvgDurationSeconds)
	assert.Equal(t, 0.0, empty.SuccessRatePct)

	seed(t, s, 25)
	st, err := s.Statistics(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 25, st.Total)
	assert.Equal(t, 20, st.Success)
	assert.Equal(t, 5, st.Failed)
	assert.Equal(t, 3000, st.TotalRecords)
	assert.Equal(t, 12.0, st.AvgDurationSeconds)
	assert.Equal(t, 80.0, st.SuccessRatePct)

	// the rate is computed over the filtered set
	yes := true
	failedOnly, err := s.Statistics(ctx, Filter{HasErrors: &yes})
	require.NoError(t, err)
	assert.Equal(t, 0.0, failedOnly.SuccessRatePct)

	missing, err := s.Statistics(ctx, Filter{DataSourceID: "404"})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, missing)
}

func TestAppend_ValidatesAndIsAppendOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Append(ctx, &Entry{Status: "done"})
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"dataSourceId", "runTimestamp", "status"}, verr.Fields())

	e := &Entry{DataSourceID: "1", Status: StatusSuccess, RunTimestamp: base}
	require.NoError(t, s.Append(ctx, e))
	require.NotEmpty(t, e.ID)

	dup := *e
	assert.True(t, errors.IsType(s.Append(ctx, &dup), errors.ErrorTypeConflict))

	// mutating the caller's copy does not change the log
	e.RecordCount = 999
	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RecordCount)
}

func TestRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	records := make([]map[string]interface{}, 0, 45)
	for i := 0; i < 45; i++ {
		records = append(records, map[string]interface{}{"n": i})
	}
	e := &Entry{DataSourceID: "1", Status: StatusSuccess, RunTimestamp: base, RecordCount: 45, Records: records}
	require.NoError(t, s.Append(ctx, e))

	p, err := s.Records(ctx, e.ID, 3, 20)
	require.NoError(t, err)
	assert.Len(t, p.Items, 5)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 40, p.Items[0]["n"])

	_, err = s.Records(ctx, "missing", 1, 10)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestAppend_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(context.Background(), &Entry{
				DataSourceID: "1", Status: StatusSuccess, RunTimestamp: base.Add(time.Duration(i) * time.Second),
			}))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

func TestNewPagination(t *testing.T) {
	assert.Equal(t, 0, NewPagination(1, 10, 0).TotalPages)
	assert.Equal(t, 1, NewPagination(1, 10, 10).TotalPages)
	assert.Equal(t, 2, NewPagination(1, 10, 11).TotalPages)
	assert.Equal(t, MaxLimit, NewPagination(1, 10_000, 1).Limit)
}
