package loader

import (
	"fmt"
	"strings"
)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// updateColumns returns the columns that are neither conflict keys nor
// excluded, preserving order.
func updateColumns(columns, index, exclude []string) []string {
	skip := make(map[string]struct{}, len(index)+len(exclude))
	for _, c := range index {
		skip[c] = struct{}{}
	}
	for _, c := range exclude {
		skip[c] = struct{}{}
	}
	var out []string
	for _, c := range columns {
		if _, ok := skip[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// onConflictAction renders the conflict action. Rows are only rewritten
// when at least one update column changed.
func onConflictAction(table string, update []string) string {
	if len(update) == 0 {
		return "DO NOTHING"
	}
	set := make([]string, len(update))
	where := make([]string, len(update))
	for i, c := range update {
		col := quoteIdent(c)
		set[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
		where[i] = fmt.Sprintf("%s.%s IS DISTINCT FROM EXCLUDED.%s", quoteIdent(table), col, col)
	}
	return "DO UPDATE SET " + strings.Join(set, ", ") + "\nWHERE " + strings.Join(where, " OR ")
}

func createStagingSQL(staging, schema, table string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s.%s INCLUDING DEFAULTS) ON COMMIT DROP",
		quoteIdent(staging), quoteIdent(schema), quoteIdent(table))
}

func mergeSQL(staging, schema, table string, columns, index, update []string) string {
	cols := quoteAll(columns)
	return fmt.Sprintf("INSERT INTO %s.%s (%s)\nSELECT %s FROM %s\nON CONFLICT (%s)\n%s",
		quoteIdent(schema), quoteIdent(table), cols,
		cols, quoteIdent(staging),
		quoteAll(index),
		onConflictAction(table, update))
}
