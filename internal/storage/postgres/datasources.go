package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
)

const dataSourceColumns = `id, name, description, module_name, type, status, connection_config,
	sync_frequency_seconds, last_sync_at, created_at, updated_at`

type dataSourceRow struct {
	ID                   string     `db:"id"`
	Name                 string     `db:"name"`
	Description          string     `db:"description"`
	ModuleName           string     `db:"module_name"`
	Type                 string     `db:"type"`
	Status               string     `db:"status"`
	ConnectionConfig     []byte     `db:"connection_config"`
	SyncFrequencySeconds int        `db:"sync_frequency_seconds"`
	LastSyncAt           *time.Time `db:"last_sync_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

func (r *dataSourceRow) toDataSource() (*datasource.DataSource, error) {
	ds := &datasource.DataSource{
		ID:                   r.ID,
		Name:                 r.Name,
		Description:          r.Description,
		ModuleName:           r.ModuleName,
		Type:                 datasource.Type(r.Type),
		Status:               datasource.Status(r.Status),
		SyncFrequencySeconds: r.SyncFrequencySeconds,
		LastSyncAt:           r.LastSyncAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if len(r.ConnectionConfig) > 0 && string(r.ConnectionConfig) != "null" {
		cfg, err := datasource.DecodeConnectionConfig(ds.Type, r.ConnectionConfig)
		if err != nil {
			return nil, fmt.Errorf("decode connection config of data source %s: %w", r.ID, err)
		}
		ds.Config = cfg
	}
	return ds, nil
}

func encodeConfig(cfg datasource.ConnectionConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode connection config: %w", err)
	}
	return raw, nil
}

// DataSourceStore implements datasource.Store.
type DataSourceStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewDataSourceStore creates a store on db.
func NewDataSourceStore(db *sqlx.DB) *DataSourceStore {
	return &DataSourceStore{db: db, now: time.Now}
}

// Get returns one data source.
func (s *DataSourceStore) Get(ctx context.Context, id string) (*datasource.DataSource, error) {
	var row dataSourceRow
	err := s.db.GetContext(ctx, &row, `SELECT `+dataSourceColumns+` FROM data_sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("data source", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get data source %s: %w", id, err)
	}
	return row.toDataSource()
}

// List returns matching data sources ordered by id, numeric ids first in
// numeric order.
func (s *DataSourceStore) List(ctx context.Context, filter datasource.Filter) ([]*datasource.DataSource, error) {
	var w where
	if filter.ModuleName != "" {
		w.add("module_name = %s", filter.ModuleName)
	}
	if filter.Type != "" {
		w.add("type = %s", string(filter.Type))
	}
	if filter.Status != "" {
		w.add("status = %s", string(filter.Status))
	}

	var rows []dataSourceRow
	query := `SELECT ` + dataSourceColumns + ` FROM data_sources` + w.String() + ` ORDER BY length(id), id`
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	out := make([]*datasource.DataSource, 0, len(rows))
	for i := range rows {
		ds, err := rows[i].toDataSource()
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// Create validates and inserts ds. The database assigns an id when ds.ID
// is empty.
func (s *DataSourceStore) Create(ctx context.Context, ds *datasource.DataSource) error {
	if ds.Status == "" {
		ds.Status = datasource.StatusPending
	}
	datasource.Normalize(ds.Config)
	if err := ds.Validate(); err != nil {
		return err
	}
	cfg, err := encodeConfig(ds.Config)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO data_sources (id, name, description, module_name, type, status, connection_config,
			sync_frequency_seconds, created_at, updated_at)
		VALUES (COALESCE(NULLIF($1, ''), nextval('data_sources_id_seq')::text), $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`,
		ds.ID, ds.Name, ds.Description, ds.ModuleName, string(ds.Type), string(ds.Status), cfg,
		ds.SyncFrequencySeconds, now)
	var id string
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.ErrorTypeConflict, "data source %s already exists", ds.ID)
		}
		return fmt.Errorf("create data source: %w", err)
	}
	ds.ID = id
	ds.CreatedAt = now
	ds.UpdatedAt = now
	return nil
}

// Update replaces the editable fields of an existing data source.
// lastSyncAt and createdAt are owned by the store.
func (s *DataSourceStore) Update(ctx context.Context, ds *datasource.DataSource) error {
	datasource.Normalize(ds.Config)
	if err := ds.Validate(); err != nil {
		return err
	}
	cfg, err := encodeConfig(ds.Config)
	if err != nil {
		return err
	}

	var out struct {
		CreatedAt  time.Time  `db:"created_at"`
		UpdatedAt  time.Time  `db:"updated_at"`
		LastSyncAt *time.Time `db:"last_sync_at"`
	}
	err = s.db.QueryRowxContext(ctx, `
		UPDATE data_sources
		SET name = $2, description = $3, module_name = $4, type = $5, status = $6,
			connection_config = $7, sync_frequency_seconds = $8, updated_at = $9
		WHERE id = $1
		RETURNING created_at, updated_at, last_sync_at`,
		ds.ID, ds.Name, ds.Description, ds.ModuleName, string(ds.Type), string(ds.Status), cfg,
		ds.SyncFrequencySeconds, s.now().UTC()).StructScan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("data source", ds.ID)
	}
	if err != nil {
		return fmt.Errorf("update data source %s: %w", ds.ID, err)
	}
	ds.CreatedAt = out.CreatedAt
	ds.UpdatedAt = out.UpdatedAt
	ds.LastSyncAt = out.LastSyncAt
	return nil
}

// SetStatus changes only the status of a data source.
func (s *DataSourceStore) SetStatus(ctx context.Context, id string, status datasource.Status) error {
	if !status.Valid() {
		verr := errors.NewValidationError("data source status")
		verr.Addf("status", "unknown status %q", status)
		return verr
	}
	return s.exec(ctx, id, "set status of",
		`UPDATE data_sources SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), s.now().UTC())
}

// MarkSynced records a successful sync time.
func (s *DataSourceStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, id, "mark synced",
		`UPDATE data_sources SET last_sync_at = $2 WHERE id = $1`, id, at.UTC())
}

func (s *DataSourceStore) exec(ctx context.Context, id, op, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s data source %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s data source %s: %w", op, id, err)
	}
	if n == 0 {
		return errors.NotFound("data source", id)
	}
	return nil
}

var _ datasource.Store = (*DataSourceStore)(nil)
