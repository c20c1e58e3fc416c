package frame

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/thelook/pkg/core"
)

// Table is an immutable, lazily evaluated relation.
type Table struct {
	engine  *Engine
	query   string
	columns []string
}

// Assign binds an expression to an output column name.
type Assign struct {
	Name string
	Expr Expr
}

// Set is shorthand for an Assign.
func Set(name string, e Expr) Assign {
	return Assign{Name: name, Expr: e}
}

// Engine returns the engine the table is evaluated against.
func (t Table) Engine() *Engine { return t.engine }

// SQL returns the query plan of the table.
func (t Table) SQL() string { return t.query }

// Columns returns the ordered column names.
func (t Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the table has the named column.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Col references a column of the table.
func (t Table) Col(name string) Expr { return Col(name) }

func (t Table) derive(query string, columns []string) Table {
	return Table{engine: t.engine, query: query, columns: columns}
}

// Select restricts the table to cols, in that order. Every missing column is
// reported in a single ColumnMismatchError.
func (t Table) Select(cols ...string) (Table, error) {
	if missing := core.MissingColumns(cols, t.columns); len(missing) > 0 {
		return Table{}, &core.ColumnMismatchError{Table: "source", Missing: missing}
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	out := make([]string, len(cols))
	copy(out, cols)
	return t.derive(fmt.Sprintf("SELECT %s FROM (%s) AS t", strings.Join(quoted, ", "), t.query), out), nil
}

// Mutate replaces existing columns in place and appends new ones. All
// expressions see the input table, not each other.
func (t Table) Mutate(assigns ...Assign) Table {
	byName := make(map[string]Expr, len(assigns))
	for _, a := range assigns {
		byName[a.Name] = a.Expr
	}

	cols := t.Columns()
	exprs := make([]string, 0, len(cols)+len(assigns))
	for _, c := range cols {
		if e, ok := byName[c]; ok {
			exprs = append(exprs, fmt.Sprintf("%s AS %s", e.sql, quoteIdent(c)))
			delete(byName, c)
			continue
		}
		exprs = append(exprs, quoteIdent(c))
	}
	for _, a := range assigns {
		if _, pending := byName[a.Name]; !pending {
			continue
		}
		exprs = append(exprs, fmt.Sprintf("%s AS %s", a.Expr.sql, quoteIdent(a.Name)))
		cols = append(cols, a.Name)
		delete(byName, a.Name)
	}

	return t.derive(fmt.Sprintf("SELECT %s FROM (%s) AS t", strings.Join(exprs, ", "), t.query), cols)
}

// Filter keeps the rows where pred is true.
func (t Table) Filter(pred Expr) Table {
	return t.derive(fmt.Sprintf("SELECT * FROM (%s) AS t WHERE %s", t.query, pred.sql), t.Columns())
}

// Limit keeps at most n rows.
func (t Table) Limit(n int) Table {
	return t.derive(fmt.Sprintf("SELECT * FROM (%s) AS t LIMIT %d", t.query, n), t.Columns())
}

// SemiJoin keeps the rows whose left column matches ref's right column.
// Rows with a NULL key never match.
func (t Table) SemiJoin(ref Table, left, right string) Table {
	q := fmt.Sprintf(
		"SELECT * FROM (%s) AS t WHERE %s IN (SELECT r.%s FROM (%s) AS r)",
		t.query, quoteIdent(left), quoteIdent(right), ref.query,
	)
	return t.derive(q, t.Columns())
}

// AntiJoin keeps the rows whose left column has no match in ref's right column.
func (t Table) AntiJoin(ref Table, left, right string) Table {
	q := fmt.Sprintf(
		"SELECT * FROM (%s) AS t WHERE NOT EXISTS (SELECT 1 FROM (%s) AS r WHERE r.%s = t.%s)",
		t.query, ref.query, quoteIdent(right), quoteIdent(left),
	)
	return t.derive(q, t.Columns())
}

// Count materializes the number of rows.
func (t Table) Count(ctx context.Context) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS t", t.query)
	if err := t.engine.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// Aggregate evaluates every metric in a single query and returns the values
// keyed by metric name.
func (t Table) Aggregate(ctx context.Context, metrics ...Assign) (map[string]any, error) {
	if len(metrics) == 0 {
		return map[string]any{}, nil
	}
	exprs := make([]string, len(metrics))
	for i, m := range metrics {
		exprs[i] = fmt.Sprintf("%s AS %s", m.Expr.sql, quoteIdent(m.Name))
	}
	q := fmt.Sprintf("SELECT %s FROM (%s) AS t", strings.Join(exprs, ", "), t.query)

	values := make([]any, len(metrics))
	ptrs := make([]any, len(metrics))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := t.engine.db.QueryRowContext(ctx, q).Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to aggregate: %w", err)
	}

	out := make(map[string]any, len(metrics))
	for i, m := range metrics {
		out[m.Name] = values[i]
	}
	return out, nil
}

// Rows executes the plan and returns a cursor over the result.
// The caller must close the rows.
func (t Table) Rows(ctx context.Context) (*sql.Rows, error) {
	rows, err := t.engine.db.QueryContext(ctx, t.query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

// Records materializes the table into memory, one map per row.
func (t Table) Records(ctx context.Context) ([]map[string]any, error) {
	rows, err := t.Rows(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Keys returns the values of one column.
func (t Table) Keys(ctx context.Context, column string) ([]any, error) {
	q := fmt.Sprintf("SELECT %s FROM (%s) AS t", quoteIdent(column), t.query)
	rows, err := t.engine.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read column %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan column %s: %w", column, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MaxTimestamp returns the latest value of a timestamp column. The boolean
// is false when the table is empty.
func (t Table) MaxTimestamp(ctx context.Context, column string) (time.Time, bool, error) {
	q := fmt.Sprintf("SELECT MAX(CAST(%s AS TIMESTAMP)) FROM (%s) AS t", quoteIdent(column), t.query)
	var ts sql.NullTime
	if err := t.engine.db.QueryRowContext(ctx, q).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read max %s: %w", column, err)
	}
	return ts.Time, ts.Valid, nil
}
