// Package schema holds the declarative data-quality rules of every entity
// and the validator that evaluates them.
package schema

import (
	"sort"

	"github.com/leapstack-labs/thelook/pkg/frame"
)

// RowRule returns a boolean predicate that is true for an offending row.
type RowRule func(t frame.Table) frame.Expr

// AggRule returns a scalar expression whose positive value is a violation count.
type AggRule func(t frame.Table) frame.Expr

// RuleSet groups the row and aggregate rules of one entity.
type RuleSet struct {
	Row map[string]RowRule
	Agg map[string]AggRule
}

// Empty reports whether the rule set has no rules at all.
func (r RuleSet) Empty() bool {
	return len(r.Row) == 0 && len(r.Agg) == 0
}

// Names returns every rule name, sorted.
func (r RuleSet) Names() []string {
	names := make([]string, 0, len(r.Row)+len(r.Agg))
	for name := range r.Row {
		names = append(names, name)
	}
	for name := range r.Agg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry maps entity names to their rule sets.
type Registry map[string]RuleSet

// Lookup returns the rule set of an entity.
func (r Registry) Lookup(entity string) (RuleSet, bool) {
	rs, ok := r[entity]
	return rs, ok
}

// Register adds or replaces the rule set of an entity.
func (r Registry) Register(entity string, rules RuleSet) {
	r[entity] = rules
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
