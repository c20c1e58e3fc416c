package loader

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Target reads back a persisted destination table. It serves as the key
// and watermark source of later extractions.
type Target struct {
	db     *sql.DB
	schema string
	table  string
}

// NewTarget returns a reader over schema.table. An empty schema means public.
func NewTarget(db *sql.DB, schema, table string) *Target {
	if schema == "" {
		schema = DefaultSchema
	}
	return &Target{db: db, schema: schema, table: table}
}

func (t *Target) relation() string {
	return quoteIdent(t.schema) + "." + quoteIdent(t.table)
}

// Keys returns the distinct non-NULL values of column.
func (t *Target) Keys(ctx context.Context, column string) ([]any, error) {
	col := quoteIdent(column)
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", col, t.relation(), col) //nolint:gosec // identifiers are quoted
	rows, err := t.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", t.table, column, err)
	}
	defer func() { _ = rows.Close() }()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s.%s: %w", t.table, column, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MaxTimestamp returns the latest value of column. The boolean is false
// when the table is empty.
func (t *Target) MaxTimestamp(ctx context.Context, column string) (time.Time, bool, error) {
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", quoteIdent(column), t.relation()) //nolint:gosec // identifiers are quoted
	var ts sql.NullTime
	if err := t.db.QueryRowContext(ctx, q).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read max %s.%s: %w", t.table, column, err)
	}
	return ts.Time, ts.Valid, nil
}
