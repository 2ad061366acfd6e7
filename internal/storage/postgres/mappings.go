package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/mapping"
)

const ruleColumns = `id, data_source_id, source_field, target_field, transformation, created_at, updated_at`

type ruleRow struct {
	ID             string    `db:"id"`
	DataSourceID   string    `db:"data_source_id"`
	SourceField    string    `db:"source_field"`
	TargetField    string    `db:"target_field"`
	Transformation []byte    `db:"transformation"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *ruleRow) toRule() (mapping.MappingRule, error) {
	rule := mapping.MappingRule{
		ID:           r.ID,
		DataSourceID: r.DataSourceID,
		SourceField:  r.SourceField,
		TargetField:  r.TargetField,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Transformation) > 0 {
		if err := json.Unmarshal(r.Transformation, &rule.Transformation); err != nil {
			return mapping.MappingRule{}, fmt.Errorf("decode transformation of rule %s: %w", r.ID, err)
		}
	}
	return rule, nil
}

// MappingStore implements mapping.Store on the mapping_rules table.
type MappingStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMappingStore creates a store on db.
func NewMappingStore(db *sqlx.DB) *MappingStore {
	return &MappingStore{db: db, now: time.Now}
}

// List returns the rules of a data source in creation order.
func (s *MappingStore) List(ctx context.Context, dataSourceID string) ([]mapping.MappingRule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+ruleColumns+` FROM mapping_rules WHERE data_source_id = $1 ORDER BY created_at, id`, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("list mapping rules: %w", err)
	}
	out := make([]mapping.MappingRule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// Get returns one rule. A rule belonging to another data source is not found.
func (s *MappingStore) Get(ctx context.Context, dataSourceID, ruleID string) (mapping.MappingRule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+ruleColumns+` FROM mapping_rules WHERE id = $1 AND data_source_id = $2`, ruleID, dataSourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return mapping.MappingRule{}, errors.NotFound("mapping rule", ruleID)
	}
	if err != nil {
		return mapping.MappingRule{}, fmt.Errorf("get mapping rule %s: %w", ruleID, err)
	}
	return row.toRule()
}

// Create validates rule, assigns an id and inserts it.
func (s *MappingStore) Create(ctx context.Context, rule *mapping.MappingRule) error {
	if err := mapping.ValidateRule(*rule); err != nil {
		return err
	}
	raw, err := json.Marshal(rule.Transformation)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encode transformation")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mapping_rules (id, data_source_id, source_field, target_field, transformation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		rule.ID, rule.DataSourceID, rule.SourceField, rule.TargetField, raw, now)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.ErrorTypeConflict, "mapping rule %s already exists", rule.ID)
		}
		return fmt.Errorf("create mapping rule: %w", err)
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// Update validates and replaces an existing rule.
func (s *MappingStore) Update(ctx context.Context, rule *mapping.MappingRule) error {
	if err := mapping.ValidateRule(*rule); err != nil {
		return err
	}
	raw, err := json.Marshal(rule.Transformation)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encode transformation")
	}
	now := s.now().UTC()
	var createdAt time.Time
	err = s.db.QueryRowxContext(ctx, `
		UPDATE mapping_rules
		SET source_field = $3, target_field = $4, transformation = $5, updated_at = $6
		WHERE id = $1 AND data_source_id = $2
		RETURNING created_at`,
		rule.ID, rule.DataSourceID, rule.SourceField, rule.TargetField, raw, now).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("mapping rule", rule.ID)
	}
	if err != nil {
		return fmt.Errorf("update mapping rule %s: %w", rule.ID, err)
	}
	rule.CreatedAt = createdAt
	rule.UpdatedAt = now
	return nil
}

// Delete removes a rule.
func (s *MappingStore) Delete(ctx context.Context, dataSourceID, ruleID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mapping_rules WHERE id = $1 AND data_source_id = $2`, ruleID, dataSourceID)
	if err != nil {
		return fmt.Errorf("delete mapping rule %s: %w", ruleID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete mapping rule %s: %w", ruleID, err)
	} else if n == 0 {
		return errors.NotFound("mapping rule", ruleID)
	}
	return nil
}

var _ mapping.Store = (*MappingStore)(nil)
