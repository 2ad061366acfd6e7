package executor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jmoiron/sqlx"
)

// scanRows runs query on db and emits each row as a column-keyed map.
func scanRows(ctx context.Context, db *sqlx.DB, query string, emit EmitFunc) error {
	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return err
		}
		for k, v := range row {
			row[k] = convertValue(v)
		}
		if err := emit(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// convertValue turns driver values into JSON friendly ones.
func convertValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(v).String()
	case pgtype.Numeric:
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}

// isReadOnlyQuery accepts a single SELECT or WITH statement.
func isReadOnlyQuery(q string) bool {
	q = strings.TrimSpace(q)
	q = strings.TrimSuffix(q, ";")
	if strings.Contains(q, ";") {
		return false
	}
	head := strings.ToUpper(strings.Fields(q + " x")[0])
	return head == "SELECT" || head == "WITH"
}
