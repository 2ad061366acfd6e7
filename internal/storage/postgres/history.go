package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/json"
)

const entryColumns = `id, data_source_id, queue_item_id, status, run_timestamp, duration_seconds, record_count, message`

// HistoryStore implements history.Store on the sync_logs table.
type HistoryStore struct {
	db *sqlx.DB
}

// NewHistoryStore creates a store on db.
func NewHistoryStore(db *sqlx.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append validates and inserts e, assigning an id when empty.
func (s *HistoryStore) Append(ctx context.Context, e *history.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	records := e.Records
	if records == nil {
		records = []map[string]interface{}{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encode sample records")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, data_source_id, queue_item_id, status, run_timestamp,
			duration_seconds, record_count, message, records)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.DataSourceID, e.QueueItemID, string(e.Status), e.RunTimestamp.UTC(),
		e.DurationSeconds, e.RecordCount, e.Message, raw)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.ErrorTypeConflict, "sync log entry %s already exists", e.ID)
		}
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// Get returns one entry with its sample records.
func (s *HistoryStore) Get(ctx context.Context, id string) (*history.Entry, error) {
	var row struct {
		history.Entry
		Records []byte `db:"records"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT `+entryColumns+`, records FROM sync_logs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("sync log entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync log %s: %w", id, err)
	}
	e := row.Entry
	if e.Records, err = decodeRecords(row.Records); err != nil {
		return nil, err
	}
	return &e, nil
}

// Query returns one page of matching entries, newest first.
func (s *HistoryStore) Query(ctx context.Context, filter history.Filter, page, limit int) (history.Page, error) {
	w := filterWhere(filter)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM sync_logs`+w.String(), w.args...); err != nil {
		return history.Page{}, fmt.Errorf("count sync logs: %w", err)
	}

	p := history.Page{Pagination: history.NewPagination(page, limit, total), Items: []history.Entry{}}
	if total == 0 || p.Offset() >= total {
		return p, nil
	}
	query := `SELECT ` + entryColumns + ` FROM sync_logs` + w.String() +
		` ORDER BY run_timestamp DESC, id LIMIT ` + w.next(p.Limit) + ` OFFSET ` + w.next(p.Offset())
	if err := s.db.SelectContext(ctx, &p.Items, query, w.args...); err != nil {
		return history.Page{}, fmt.Errorf("query sync logs: %w", err)
	}
	return p, nil
}

// Statistics summarizes all matching entries.
func (s *HistoryStore) Statistics(ctx context.Context, filter history.Filter) (history.Stats, error) {
	w := filterWhere(filter)
	var agg struct {
		Total    int     `db:"total"`
		Success  int     `db:"success"`
		Failed   int     `db:"failed"`
		Records  int     `db:"records"`
		Duration float64 `db:"duration"`
	}
	err := s.db.GetContext(ctx, &agg, `
		SELECT count(*) AS total,
			count(*) FILTER (WHERE status = 'success') AS success,
			count(*) FILTER (WHERE status = 'failed') AS failed,
			COALESCE(sum(record_count), 0) AS records,
			COALESCE(sum(duration_seconds), 0) AS duration
		FROM sync_logs`+w.String(), w.args...)
	if err != nil {
		return history.Stats{}, fmt.Errorf("sync log statistics: %w", err)
	}
	return history.NewStats(agg.Total, agg.Success, agg.Failed, agg.Records, agg.Duration), nil
}

// Records pages through the sample records of one entry.
func (s *HistoryStore) Records(ctx context.Context, id string, page, limit int) (history.RecordPage, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT records FROM sync_logs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return history.RecordPage{}, errors.NotFound("sync log entry", id)
	}
	if err != nil {
		return history.RecordPage{}, fmt.Errorf("get sync log records %s: %w", id, err)
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return history.RecordPage{}, err
	}
	p := history.RecordPage{Pagination: history.NewPagination(page, limit, len(records))}
	start, end := p.Bounds()
	p.Items = append(make([]map[string]interface{}, 0, end-start), records[start:end]...)
	return p, nil
}

func decodeRecords(raw []byte) ([]map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []map[string]interface{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decode sample records")
	}
	return records, nil
}

func filterWhere(f history.Filter) *where {
	w := &where{}
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}
	if f.DataSourceID != "" {
		w.add("data_source_id = %s", f.DataSourceID)
	}
	if f.From != nil {
		w.add("run_timestamp >= %s", f.From.UTC())
	}
	if f.To != nil {
		w.add("run_timestamp <= %s", f.To.UTC())
	}
	if f.MinRecords != nil {
		w.add("record_count >= %s", *f.MinRecords)
	}
	if f.MaxRecords != nil {
		w.add("record_count <= %s", *f.MaxRecords)
	}
	if f.MinDuration != nil {
		w.add("duration_seconds >= %s", *f.MinDuration)
	}
	if f.MaxDuration != nil {
		w.add("duration_seconds <= %s", *f.MaxDuration)
	}
	if f.HasErrors != nil {
		status := history.StatusSuccess
		if *f.HasErrors {
			status = history.StatusFailed
		}
		w.add("status = %s", string(status))
	}
	return w
}

var _ history.Store = (*HistoryStore)(nil)
