// Package frame provides lazily evaluated tables on top of DuckDB.
//
// A Table is a SQL plan plus its ordered column names. Composition methods
// (Select, Mutate, Filter, SemiJoin, AntiJoin, Limit) only build the plan;
// DuckDB sees the whole pipeline as one query when a materializing method
// (Count, Aggregate, Rows, Keys, MaxTimestamp) runs.
package frame

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
)

// Engine owns the DuckDB handle tables are evaluated against.
type Engine struct {
	db     *sql.DB
	logger *slog.Logger

	mu        sync.Mutex
	memtables []string
}

// NewEngine wraps an open DuckDB handle. If logger is nil, a discard logger is used.
func NewEngine(db *sql.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{db: db, logger: logger}
}

// DB returns the underlying DuckDB handle.
func (e *Engine) DB() *sql.DB { return e.db }

// Table returns a table reading the named relation.
func (e *Engine) Table(ctx context.Context, name string) (Table, error) {
	return e.Query(ctx, "SELECT * FROM "+qualified(name))
}

// Query returns a table over an arbitrary SELECT statement.
func (e *Engine) Query(ctx context.Context, query string) (Table, error) {
	cols, err := e.columns(ctx, query)
	if err != nil {
		return Table{}, err
	}
	return Table{engine: e, query: query, columns: cols}, nil
}

func (e *Engine) columns(ctx context.Context, query string) ([]string, error) {
	//nolint:rowserrcheck // LIMIT 0 only reads the result header
	rows, err := e.db.QueryContext(ctx, "SELECT * FROM ("+query+") AS t LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve columns: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return rows.Columns()
}

// Memtable registers values as a single-column table and returns it.
// NULL values are skipped since they can never satisfy a join.
// Memtables live until the engine is closed.
func (e *Engine) Memtable(ctx context.Context, column string, values []any) (Table, error) {
	typ, rows, err := normalizeKeys(values)
	if err != nil {
		return Table{}, err
	}

	name := "memtable_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	create := fmt.Sprintf("CREATE TABLE %s (%s %s)", quoteIdent(name), quoteIdent(column), typ)
	if _, err := e.db.ExecContext(ctx, create); err != nil {
		return Table{}, fmt.Errorf("failed to create memtable: %w", err)
	}

	e.mu.Lock()
	e.memtables = append(e.memtables, name)
	e.mu.Unlock()

	if len(rows) > 0 {
		if err := e.appendRows(ctx, name, rows); err != nil {
			return Table{}, err
		}
	}

	e.logger.Debug("registered memtable", slog.String("name", name), slog.Int("rows", len(rows)))

	return Table{
		engine:  e,
		query:   "SELECT * FROM " + quoteIdent(name),
		columns: []string{column},
	}, nil
}

// appendRows bulk-loads rows through the DuckDB appender on a dedicated connection.
func (e *Engine) appendRows(ctx context.Context, table string, rows []driver.Value) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", table)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		for _, v := range rows {
			if err := appender.AppendRow(v); err != nil {
				_ = appender.Close()
				return fmt.Errorf("failed to append row: %w", err)
			}
		}
		return appender.Close()
	})
}

// Close drops every memtable registered by the engine. The DuckDB handle
// itself belongs to the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	names := e.memtables
	e.memtables = nil
	e.mu.Unlock()

	for _, name := range names {
		if _, err := e.db.Exec("DROP TABLE IF EXISTS " + quoteIdent(name)); err != nil {
			return fmt.Errorf("failed to drop memtable %s: %w", name, err)
		}
	}
	return nil
}

// normalizeKeys picks a column type from the first non-NULL value and
// converts every value to the matching Go type expected by the appender.
func normalizeKeys(values []any) (string, []driver.Value, error) {
	typ := ""
	out := make([]driver.Value, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		var (
			t   string
			val driver.Value
		)
		switch x := v.(type) {
		case int:
			t, val = Int64, int64(x)
		case int8:
			t, val = Int64, int64(x)
		case int16:
			t, val = Int64, int64(x)
		case int32:
			t, val = Int64, int64(x)
		case int64:
			t, val = Int64, x
		case uint8:
			t, val = Int64, int64(x)
		case uint16:
			t, val = Int64, int64(x)
		case uint32:
			t, val = Int64, int64(x)
		case float32:
			t, val = Float64, float64(x)
		case float64:
			t, val = Float64, x
		case string:
			t, val = String, x
		case []byte:
			t, val = String, string(x)
		case time.Time:
			t, val = Timestamp, x
		default:
			return "", nil, fmt.Errorf("unsupported key type %T", v)
		}
		if typ == "" {
			typ = t
		} else if typ != t {
			return "", nil, fmt.Errorf("mixed key types %s and %s", typ, t)
		}
		out = append(out, val)
	}
	if typ == "" {
		typ = Int64
	}
	return typ, out, nil
}

// qualified quotes a possibly schema-qualified relation name.
func qualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}
