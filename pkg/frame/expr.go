package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SQL type names used by casts.
const (
	Int16     = "SMALLINT"
	Int32     = "INTEGER"
	Int64     = "BIGINT"
	Float64   = "DOUBLE"
	String    = "VARCHAR"
	Timestamp = "TIMESTAMP"
	Money     = "DECIMAL(10,2)"
)

// Expr is a node of a SQL expression tree. Exprs are immutable; every
// method returns a new expression wrapping the receiver.
type Expr struct {
	sql string
}

// Col references a column of the enclosing table.
func Col(name string) Expr {
	return Expr{sql: quoteIdent(name)}
}

// Lit builds a literal expression. Supported values are nil, bool, string,
// integers, floats, time.Time and Expr (returned as is).
func Lit(v any) Expr {
	return Expr{sql: literal(v)}
}

// Raw wraps a SQL fragment verbatim.
func Raw(sql string) Expr {
	return Expr{sql: sql}
}

// CountAll is the aggregate COUNT(*).
func CountAll() Expr {
	return Expr{sql: "COUNT(*)"}
}

// SQL renders the expression.
func (e Expr) SQL() string { return e.sql }

func (e Expr) String() string { return e.sql }

// Cast converts the expression to the given SQL type.
func (e Expr) Cast(typ string) Expr {
	return Expr{sql: fmt.Sprintf("CAST(%s AS %s)", e.sql, typ)}
}

// FillNull replaces NULL with v.
func (e Expr) FillNull(v any) Expr {
	return Expr{sql: fmt.Sprintf("COALESCE(%s, %s)", e.sql, operand(v).sql)}
}

// Abs is the absolute value.
func (e Expr) Abs() Expr {
	return Expr{sql: fmt.Sprintf("ABS(%s)", e.sql)}
}

// Round rounds to the given number of decimal places.
func (e Expr) Round(places int) Expr {
	return Expr{sql: fmt.Sprintf("ROUND(%s, %d)", e.sql, places)}
}

// Clip bounds the expression to [lo, hi]. NULL stays NULL.
func (e Expr) Clip(lo, hi float64) Expr {
	l, h := literal(lo), literal(hi)
	return Expr{sql: fmt.Sprintf(
		"(CASE WHEN %[1]s IS NULL THEN NULL WHEN %[1]s > %[3]s THEN %[3]s WHEN %[1]s < %[2]s THEN %[2]s ELSE %[1]s END)",
		e.sql, l, h,
	)}
}

// Lower lowercases a string expression.
func (e Expr) Lower() Expr {
	return Expr{sql: fmt.Sprintf("LOWER(%s)", e.sql)}
}

// IsNull is true when the expression is NULL.
func (e Expr) IsNull() Expr {
	return Expr{sql: fmt.Sprintf("(%s IS NULL)", e.sql)}
}

// NotNull is true when the expression is not NULL.
func (e Expr) NotNull() Expr {
	return Expr{sql: fmt.Sprintf("(%s IS NOT NULL)", e.sql)}
}

// Eq compares for equality.
func (e Expr) Eq(v any) Expr { return e.binary("=", v) }

// Lt is the strict less-than comparison.
func (e Expr) Lt(v any) Expr { return e.binary("<", v) }

// Le is the less-or-equal comparison.
func (e Expr) Le(v any) Expr { return e.binary("<=", v) }

// Gt is the strict greater-than comparison.
func (e Expr) Gt(v any) Expr { return e.binary(">", v) }

// Ge is the greater-or-equal comparison.
func (e Expr) Ge(v any) Expr { return e.binary(">=", v) }

// Sub subtracts v.
func (e Expr) Sub(v any) Expr { return e.binary("-", v) }

// And is the boolean conjunction.
func (e Expr) And(o Expr) Expr { return e.binary("AND", o) }

// Or is the boolean disjunction.
func (e Expr) Or(o Expr) Expr { return e.binary("OR", o) }

// Not negates a boolean expression.
func (e Expr) Not() Expr {
	return Expr{sql: fmt.Sprintf("(NOT %s)", e.sql)}
}

// IsIn is true when the expression equals one of values.
func (e Expr) IsIn(values ...any) Expr {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = operand(v).sql
	}
	return Expr{sql: fmt.Sprintf("(%s IN (%s))", e.sql, strings.Join(parts, ", "))}
}

// Between is the inclusive range check.
func (e Expr) Between(lo, hi any) Expr {
	return Expr{sql: fmt.Sprintf("(%s BETWEEN %s AND %s)", e.sql, operand(lo).sql, operand(hi).sql)}
}

// Sum is the aggregate sum.
func (e Expr) Sum() Expr {
	return Expr{sql: fmt.Sprintf("SUM(%s)", e.sql)}
}

// Max is the aggregate maximum.
func (e Expr) Max() Expr {
	return Expr{sql: fmt.Sprintf("MAX(%s)", e.sql)}
}

// NUnique counts distinct non-NULL values.
func (e Expr) NUnique() Expr {
	return Expr{sql: fmt.Sprintf("COUNT(DISTINCT %s)", e.sql)}
}

// IfElse returns then when cond holds and otherwise els. A NULL condition
// selects els.
func IfElse(cond, then, els Expr) Expr {
	return Expr{sql: fmt.Sprintf("(CASE WHEN %s THEN %s ELSE %s END)", cond.sql, then.sql, els.sql)}
}

// Concat joins string expressions or literals.
func Concat(parts ...any) Expr {
	rendered := make([]string, len(parts))
	for i, p := range parts {
		rendered[i] = operand(p).sql
	}
	return Expr{sql: "(" + strings.Join(rendered, " || ") + ")"}
}

func (e Expr) binary(op string, v any) Expr {
	return Expr{sql: fmt.Sprintf("(%s %s %s)", e.sql, op, operand(v).sql)}
}

func operand(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Lit(v)
}

func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case Expr:
		return t.sql
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return quoteString(t)
	case int:
		return strconv.Itoa(t)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	case time.Time:
		return "TIMESTAMP " + quoteString(t.UTC().Format("2006-01-02 15:04:05.999999"))
	default:
		return quoteString(fmt.Sprint(t))
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
