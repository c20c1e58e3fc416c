package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrEmptyRuleSet is returned when a validator is invoked without any rules.
var ErrEmptyRuleSet = errors.New("schema rule set must not be empty")

// ErrUpsertTransport is returned when the native bulk-copy connection cannot
// be obtained from the destination handle.
var ErrUpsertTransport = errors.New("native postgres connection unavailable")

// SchemaViolationError reports every rule whose metric evaluated above zero.
type SchemaViolationError struct {
	Entity     string
	Violations map[string]int64
}

func (e *SchemaViolationError) Error() string {
	names := make([]string, 0, len(e.Violations))
	for name := range e.Violations {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, e.Violations[name])
	}
	msg := "schema violation: " + strings.Join(parts, ", ")
	if e.Entity != "" {
		return e.Entity + ": " + msg
	}
	return msg
}

// ReferenceReadError is returned when a reference table needed for
// foreign-key filtering could not be read.
type ReferenceReadError struct {
	Entity    string
	Reference string
	Err       error
}

func (e *ReferenceReadError) Error() string {
	return fmt.Sprintf("%s: failed to read reference %s: %v", e.Entity, e.Reference, e.Err)
}

func (e *ReferenceReadError) Unwrap() error { return e.Err }

// ColumnMismatchError names every requested column absent from a table.
type ColumnMismatchError struct {
	Table   string
	Missing []string
}

func (e *ColumnMismatchError) Error() string {
	return fmt.Sprintf("columns missing from %s: %s", e.Table, strings.Join(e.Missing, ", "))
}

// TransactionError wraps any failure inside the upsert transaction.
// The transaction has been rolled back when this error is returned.
type TransactionError struct {
	Table string
	Stage string
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("upsert %s: %s: %v", e.Table, e.Stage, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// MissingColumns returns the entries of requested that are not in available,
// preserving the requested order.
func MissingColumns(requested, available []string) []string {
	have := make(map[string]struct{}, len(available))
	for _, c := range available {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range requested {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}
