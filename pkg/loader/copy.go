package loader

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/marcboeker/go-duckdb"
)

// rowSource streams a DuckDB result set into pgx.CopyFrom.
type rowSource struct {
	rows   *sql.Rows
	width  int
	values []any
	err    error
	count  int64
}

func newRowSource(rows *sql.Rows, width int) *rowSource {
	return &rowSource{rows: rows, width: width}
}

func (s *rowSource) Next() bool {
	if s.err != nil || !s.rows.Next() {
		return false
	}
	raw := make([]any, s.width)
	ptrs := make([]any, s.width)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		s.err = fmt.Errorf("failed to scan source row: %w", err)
		return false
	}
	for i, v := range raw {
		raw[i] = toPostgres(v)
	}
	s.values = raw
	s.count++
	return true
}

func (s *rowSource) Values() ([]any, error) {
	return s.values, nil
}

func (s *rowSource) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}

var _ pgx.CopyFromSource = (*rowSource)(nil)

// toPostgres converts DuckDB driver values that pgx cannot encode directly.
func toPostgres(v any) any {
	switch x := v.(type) {
	case duckdb.Decimal:
		if x.Value == nil {
			return nil
		}
		return pgtype.Numeric{Int: new(big.Int).Set(x.Value), Exp: -int32(x.Scale), Valid: true}
	case *big.Int:
		if x == nil {
			return nil
		}
		return pgtype.Numeric{Int: new(big.Int).Set(x), Exp: 0, Valid: true}
	case duckdb.Interval:
		return pgtype.Interval{Months: x.Months, Days: x.Days, Microseconds: x.Micros, Valid: true}
	default:
		return v
	}
}
