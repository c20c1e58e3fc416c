package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
)

// Validate evaluates every rule of rules against t in one aggregate query.
// It returns t unchanged when no metric is positive, and otherwise a
// *core.SchemaViolationError listing all failing rules.
func Validate(ctx context.Context, t frame.Table, rules RuleSet, logger *slog.Logger) (frame.Table, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if rules.Empty() {
		logger.Error("schema rule set is empty")
		return frame.Table{}, core.ErrEmptyRuleSet
	}

	metrics := make([]frame.Assign, 0, len(rules.Row)+len(rules.Agg))
	for _, name := range sortedKeys(rules.Row) {
		pred := rules.Row[name](t)
		metric := pred.Cast(frame.Int32).Sum().FillNull(0).Cast(frame.Int64)
		metrics = append(metrics, frame.Set(name, metric))
	}
	for _, name := range sortedKeys(rules.Agg) {
		metrics = append(metrics, frame.Set(name, rules.Agg[name](t).Cast(frame.Int64)))
	}

	results, err := t.Aggregate(ctx, metrics...)
	if err != nil {
		return frame.Table{}, fmt.Errorf("failed to evaluate schema rules: %w", err)
	}

	violations := make(map[string]int64)
	for name, v := range results {
		n, err := toInt64(v)
		if err != nil {
			return frame.Table{}, fmt.Errorf("rule %s: %w", name, err)
		}
		if n > 0 {
			violations[name] = n
		}
	}

	if len(violations) > 0 {
		err := &core.SchemaViolationError{Violations: violations}
		logger.Error("schema violation detected", slog.Any("violations", violations))
		return frame.Table{}, err
	}

	logger.Info("schema validation passed", slog.Int("rules", len(metrics)))
	return t, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected metric type %T", v)
	}
}
