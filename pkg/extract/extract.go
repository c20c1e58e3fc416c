// Package extract turns raw entity tables into primary tables: it selects
// the configured columns, applies the entity transform, restricts
// incremental entities to their new rows, drops rows whose foreign keys
// have no match, and validates the result against the entity rule set.
//
// Every function returns a lazy frame.Table. Only counts, key reads and the
// validation aggregate execute against the engine.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
	"github.com/leapstack-labs/thelook/pkg/schema"
)

// KeySource yields the values of a key column of a reference entity.
type KeySource interface {
	Keys(ctx context.Context, column string) ([]any, error)
}

// WatermarkSource yields the latest timestamp already persisted for an entity.
// The boolean is false when nothing has been persisted yet.
type WatermarkSource interface {
	MaxTimestamp(ctx context.Context, column string) (time.Time, bool, error)
}

// Input is the raw side of an extraction.
type Input struct {
	// Raw is the source table.
	Raw frame.Table
	// Columns is the projection applied before any transform. Empty keeps
	// every column of Raw.
	Columns []string
}

// Config holds extractor configuration.
type Config struct {
	// Engine evaluates tables and hosts reference tables.
	Engine *frame.Engine
	// Rules is the rule registry. Nil uses schema.DefaultRegistry.
	Rules schema.Registry
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
	// Now is the clock used for lookback windows (optional, defaults to time.Now)
	Now func() time.Time
}

// Extractor runs the per-entity extraction flows.
type Extractor struct {
	engine *frame.Engine
	rules  schema.Registry
	logger *slog.Logger
	now    func() time.Time
}

// New creates an extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.Engine == nil {
		return nil, errors.New("extract: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rules := cfg.Rules
	if rules == nil {
		rules = schema.DefaultRegistry()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Extractor{engine: cfg.Engine, rules: rules, logger: logger, now: now}, nil
}

func (x *Extractor) log(entity string) *slog.Logger {
	return x.logger.With(slog.String("entity", entity))
}

func (x *Extractor) selectColumns(entity string, in Input) (frame.Table, error) {
	if len(in.Columns) == 0 {
		return in.Raw, nil
	}
	t, err := in.Raw.Select(in.Columns...)
	if err != nil {
		var mismatch *core.ColumnMismatchError
		if errors.As(err, &mismatch) {
			mismatch.Table = entity
		}
		return frame.Table{}, err
	}
	return t, nil
}

// reference reads the keys of a reference entity into a memtable.
func (x *Extractor) reference(ctx context.Context, entity, ref string, src KeySource, column string) (frame.Table, error) {
	if src == nil {
		return frame.Table{}, x.referenceError(entity, ref, errors.New("no reference source"))
	}
	keys, err := src.Keys(ctx, column)
	if err != nil {
		return frame.Table{}, x.referenceError(entity, ref, err)
	}
	t, err := x.engine.Memtable(ctx, column, keys)
	if err != nil {
		return frame.Table{}, x.referenceError(entity, ref, err)
	}
	return t, nil
}

func (x *Extractor) referenceError(entity, ref string, err error) error {
	x.log(entity).Error("failed to read reference table, aborting to avoid foreign key errors",
		slog.String("reference", ref), slog.String("error", err.Error()))
	return &core.ReferenceReadError{Entity: entity, Reference: ref, Err: err}
}

// dropOrphans logs the rows of t whose left column has no match in ref and
// returns t restricted to the matching rows. When sampleSize is positive
// up to that many values of sampleCol are logged.
func (x *Extractor) dropOrphans(
	ctx context.Context,
	entity, refName string,
	t, ref frame.Table,
	left, right string,
	sampleCol string, sampleSize int,
) (frame.Table, error) {
	orphans := t.AntiJoin(ref, left, right)
	n, err := orphans.Count(ctx)
	if err != nil {
		return frame.Table{}, fmt.Errorf("%s: failed to count orphans: %w", entity, err)
	}
	if n > 0 {
		attrs := []any{
			slog.String("reference", refName),
			slog.String("column", left),
			slog.Int64("orphans", n),
		}
		if sampleSize > 0 {
			sample, err := orphans.Limit(sampleSize).Keys(ctx, sampleCol)
			if err != nil {
				return frame.Table{}, fmt.Errorf("%s: failed to sample orphans: %w", entity, err)
			}
			attrs = append(attrs, slog.Any("sample", sample))
		}
		x.log(entity).Warn("referential integrity: removing rows with missing reference", attrs...)
	}
	return t.SemiJoin(ref, left, right), nil
}

func (x *Extractor) validate(ctx context.Context, entity string, t frame.Table) (frame.Table, error) {
	rules, ok := x.rules.Lookup(entity)
	if !ok {
		rules = schema.RuleSet{}
	}
	out, err := schema.Validate(ctx, t, rules, x.log(entity))
	if err != nil {
		var violation *core.SchemaViolationError
		if errors.As(err, &violation) {
			violation.Entity = entity
		}
		return frame.Table{}, err
	}
	return out, nil
}

// window keeps the rows created at or after now minus lookbackDays.
func (x *Extractor) window(entity string, t frame.Table, lookbackDays int) (frame.Table, error) {
	if lookbackDays < 0 {
		return frame.Table{}, fmt.Errorf("%s: lookback must not be negative, got %d", entity, lookbackDays)
	}
	cutoff := x.now().UTC().AddDate(0, 0, -lookbackDays)
	x.log(entity).Info("processing rows created since cutoff", slog.Time("cutoff", cutoff))
	return t.Filter(frame.Col("created_at").Cast(frame.Timestamp).Ge(cutoff)), nil
}

func (x *Extractor) logDropped(entity string, before, after int64) {
	if dropped := before - after; dropped > 0 {
		x.log(entity).Warn("rows removed by foreign key or schema checks",
			slog.Int64("dropped", dropped),
			slog.Int64("rows_in", before),
			slog.Int64("rows_out", after))
	}
}
