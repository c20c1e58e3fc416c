package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/thelook/pkg/adapter"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/extract"
	"github.com/leapstack-labs/thelook/pkg/frame"
	"github.com/leapstack-labs/thelook/pkg/loader"
)

// rawPrefix names the source relation of an entity.
const rawPrefix = "raw_"

// runEntity extracts one entity, writes it unless the run is dry and
// records the outcome in the ledger.
func (e *Engine) runEntity(ctx context.Context, frames *frame.Engine, st *runState, entity string) error {
	log := e.logger.With(slog.String("entity", entity))
	mon := e.startMonitor(log)

	rec := &core.EntityRun{
		RunID:     st.runID,
		Entity:    entity,
		StartedAt: time.Now().UTC(),
	}

	err := e.processEntity(ctx, frames, st, entity, log, rec)

	rec.CompletedAt = time.Now().UTC()
	if err != nil {
		rec.Status = core.EntityRunStatusFailed
		rec.Error = err.Error()
		log.Error("entity failed", slog.String("error", err.Error()))
	} else {
		rec.Status = core.EntityRunStatusSuccess
	}
	rec.ExecutionMS = mon.finish(string(rec.Status)).Milliseconds()

	if recErr := e.store.RecordEntityRun(rec); recErr != nil {
		log.Warn("failed to record entity run", slog.String("error", recErr.Error()))
	}
	return err
}

func (e *Engine) processEntity(
	ctx context.Context,
	frames *frame.Engine,
	st *runState,
	entity string,
	log *slog.Logger,
	rec *core.EntityRun,
) error {
	tc := e.cfg.Tables[entity]

	raw, err := e.rawTable(ctx, frames, entity, tc.Path)
	if err != nil {
		return err
	}

	x, err := e.newExtractor(frames, e.logger)
	if err != nil {
		return err
	}

	out, err := e.extract(ctx, x, st, entity, extract.Input{Raw: raw, Columns: tc.Columns})
	if err != nil {
		return err
	}

	rows, err := out.Count(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", entity, err)
	}
	rec.RowsOut = rows
	st.succeed(entity, out)

	if st.dryRun {
		log.Info("dry run, skipping write", slog.Int64("rows_out", rows))
		return nil
	}

	saveArgs := e.cfg.SaveArgs
	if saveArgs.IndexElements == nil {
		saveArgs.IndexElements = []string{core.KeyColumn(entity)}
	}
	ds := &loader.Dataset{
		Table:        entity,
		Schema:       e.destinationSchema(),
		Conn:         loader.Existing{DB: e.destinationHandle()},
		Mode:         tc.Mode,
		SaveArgs:     saveArgs,
		GlobalConfig: e.cfg.Upsert,
		Metadata:     e.destinationMetadata(),
		Logger:       e.logger,
	}
	res, err := ds.Save(ctx, out)
	if err != nil {
		return err
	}
	rec.RowsWritten = res.RowsWritten
	return nil
}

// rawTable returns the raw relation of entity, registering path first
// when one is configured.
func (e *Engine) rawTable(ctx context.Context, frames *frame.Engine, entity, path string) (frame.Table, error) {
	name := rawPrefix + entity
	if path != "" {
		e.mu.Lock()
		src := e.source
		e.mu.Unlock()

		sl, ok := src.(adapter.SourceLoader)
		if !ok {
			return frame.Table{}, fmt.Errorf("%s: source adapter cannot load files", entity)
		}
		if err := sl.LoadSource(ctx, name, path); err != nil {
			return frame.Table{}, fmt.Errorf("%s: %w", entity, err)
		}
	}
	t, err := frames.Table(ctx, name)
	if err != nil {
		return frame.Table{}, fmt.Errorf("%s: failed to read %s: %w", entity, name, err)
	}
	return t, nil
}

func (e *Engine) extract(ctx context.Context, x *extract.Extractor, st *runState, entity string, in extract.Input) (frame.Table, error) {
	lookback := e.cfg.OrderLookbackDays

	switch entity {
	case core.EntityUsers:
		return x.Users(ctx, in)
	case core.EntityDistributionCenters:
		return x.DistributionCenters(ctx, in)
	case core.EntityEvents:
		return x.Events(ctx, in)
	case core.EntityProducts:
		return x.Products(ctx, in, e.keys(st, core.EntityDistributionCenters))
	case core.EntityInventoryItems:
		return x.InventoryItems(ctx, in, e.watermark(st, entity), e.keys(st, core.EntityDistributionCenters))
	case core.EntityOrders:
		return x.Orders(ctx, in, lookback, e.keys(st, core.EntityUsers))
	case core.EntityOrderItems:
		return x.OrderItems(ctx, in, lookback, extract.OrderItemRefs{
			Orders:         e.keys(st, core.EntityOrders),
			Users:          e.keys(st, core.EntityUsers),
			Products:       e.keys(st, core.EntityProducts),
			InventoryItems: e.keys(st, core.EntityInventoryItems),
		})
	default:
		return frame.Table{}, fmt.Errorf("unknown entity %q", entity)
	}
}

// keys returns where the keys of ref are read from: this run's output of
// ref in a dry run, the persisted destination table otherwise.
func (e *Engine) keys(st *runState, ref string) extract.KeySource {
	if st.dryRun {
		if t, ok := st.output(ref); ok {
			return t
		}
		return nil
	}
	return loader.NewTarget(e.destinationHandle(), e.destinationSchema(), ref)
}

// watermark returns the persisted table of entity. Dry runs have none.
func (e *Engine) watermark(st *runState, entity string) extract.WatermarkSource {
	if st.dryRun {
		return nil
	}
	return loader.NewTarget(e.destinationHandle(), e.destinationSchema(), entity)
}
