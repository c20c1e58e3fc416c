package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
	"github.com/leapstack-labs/thelook/pkg/transform"
)

const (
	productOrphanSample   = 50
	inventoryOrphanSample = 10
)

// Users selects, cleans and validates users.
func (x *Extractor) Users(ctx context.Context, in Input) (frame.Table, error) {
	return x.simple(ctx, core.EntityUsers, in, transform.Users)
}

// DistributionCenters selects, cleans and validates distribution centers.
func (x *Extractor) DistributionCenters(ctx context.Context, in Input) (frame.Table, error) {
	return x.simple(ctx, core.EntityDistributionCenters, in, transform.DistributionCenters)
}

// Events selects, cleans and validates web events.
func (x *Extractor) Events(ctx context.Context, in Input) (frame.Table, error) {
	return x.simple(ctx, core.EntityEvents, in, transform.Events)
}

func (x *Extractor) simple(ctx context.Context, entity string, in Input, fn transform.Func) (frame.Table, error) {
	t, err := x.selectColumns(entity, in)
	if err != nil {
		return frame.Table{}, err
	}
	return x.validate(ctx, entity, fn(t))
}

// Products drops products whose distribution center does not exist.
func (x *Extractor) Products(ctx context.Context, in Input, centers KeySource) (frame.Table, error) {
	entity := core.EntityProducts
	t, err := x.selectColumns(entity, in)
	if err != nil {
		return frame.Table{}, err
	}
	t = transform.Products(t)

	ref, err := x.reference(ctx, entity, core.EntityDistributionCenters, centers, "id")
	if err != nil {
		return frame.Table{}, err
	}
	t, err = x.dropOrphans(ctx, entity, core.EntityDistributionCenters, t, ref,
		"distribution_center_id", "id", "id", productOrphanSample)
	if err != nil {
		return frame.Table{}, err
	}
	return x.validate(ctx, entity, t)
}

// InventoryItems loads the items created after the persisted watermark and
// drops the ones whose distribution center does not exist. Without a
// watermark every row is loaded.
func (x *Extractor) InventoryItems(ctx context.Context, in Input, persisted WatermarkSource, centers KeySource) (frame.Table, error) {
	entity := core.EntityInventoryItems
	log := x.log(entity)

	t, err := x.selectColumns(entity, in)
	if err != nil {
		return frame.Table{}, err
	}

	if persisted != nil {
		wm, ok, err := persisted.MaxTimestamp(ctx, "created_at")
		switch {
		case err != nil:
			log.Warn("target table empty or missing, running full load", slog.String("error", err.Error()))
		case !ok:
			log.Info("no watermark found, running full load")
		default:
			log.Info("watermark found", slog.Time("watermark", wm))
			t = t.Filter(frame.Col("created_at").Cast(frame.Timestamp).Gt(wm))
		}
	} else {
		log.Warn("no watermark source, running full load")
	}

	n, err := t.Count(ctx)
	if err != nil {
		return frame.Table{}, fmt.Errorf("%s: %w", entity, err)
	}
	if n == 0 {
		log.Info("no new data")
		return transform.InventoryItems(t).Limit(0), nil
	}

	t = transform.InventoryItems(t)

	ref, err := x.reference(ctx, entity, core.EntityDistributionCenters, centers, "id")
	if err != nil {
		return frame.Table{}, err
	}
	t, err = x.dropOrphans(ctx, entity, core.EntityDistributionCenters, t, ref,
		"product_distribution_center_id", "id", "product_distribution_center_id", inventoryOrphanSample)
	if err != nil {
		return frame.Table{}, err
	}
	return x.validate(ctx, entity, t)
}

// Orders loads the orders inside the lookback window whose user exists.
func (x *Extractor) Orders(ctx context.Context, in Input, lookbackDays int, users KeySource) (frame.Table, error) {
	entity := core.EntityOrders

	t, err := x.selectColumns(entity, in)
	if err != nil {
		return frame.Table{}, err
	}
	t, err = x.window(entity, t, lookbackDays)
	if err != nil {
		return frame.Table{}, err
	}

	rowsIn, err := t.Count(ctx)
	if err != nil {
		return frame.Table{}, fmt.Errorf("%s: %w", entity, err)
	}
	if rowsIn == 0 {
		x.log(entity).Info("no recent rows found")
		return transform.Orders(t).Limit(0), nil
	}

	t = transform.Orders(t)

	ref, err := x.reference(ctx, entity, core.EntityUsers, users, "id")
	if err != nil {
		return frame.Table{}, err
	}
	t, err = x.dropOrphans(ctx, entity, core.EntityUsers, t, ref, "user_id", "id", "", 0)
	if err != nil {
		return frame.Table{}, err
	}

	t, err = x.validate(ctx, entity, t)
	if err != nil {
		return frame.Table{}, err
	}

	rowsOut, err := t.Count(ctx)
	if err != nil {
		return frame.Table{}, fmt.Errorf("%s: %w", entity, err)
	}
	x.logDropped(entity, rowsIn, rowsOut)
	return t, nil
}

// OrderItemRefs are the reference entities of order items.
type OrderItemRefs struct {
	Orders         KeySource
	Users          KeySource
	Products       KeySource
	InventoryItems KeySource
}

// OrderItems loads the order lines inside the lookback window whose order,
// user, product and inventory item all exist. Only the net number of
// dropped rows is logged.
func (x *Extractor) OrderItems(ctx context.Context, in Input, lookbackDays int, refs OrderItemRefs) (frame.Table, error) {
	entity := core.EntityOrderItems

	t, err := x.selectColumns(entity, in)
	if err != nil {
		return frame.Table{}, err
	}
	t, err = x.window(entity, t, lookbackDays)
	if err != nil {
		return frame.Table{}, err
	}

	rowsIn, err := t.Count(ctx)
	if err != nil {
		return frame.Table{}, fmt.Errorf("%s: %w", entity, err)
	}
	if rowsIn == 0 {
		x.log(entity).Info("no recent rows found")
		return transform.OrderItems(t).Limit(0), nil
	}

	t = transform.OrderItems(t)

	joins := []struct {
		ref    string
		src    KeySource
		left   string
		column string
	}{
		{core.EntityOrders, refs.Orders, "order_id", core.KeyColumn(core.EntityOrders)},
		{core.EntityUsers, refs.Users, "user_id", "id"},
		{core.EntityProducts, refs.Products, "product_id", "id"},
		{core.EntityInventoryItems, refs.InventoryItems, "inventory_item_id", "id"},
	}
	refTables := make([]frame.Table, len(joins))
	for i, j := range joins {
		refTables[i], err = x.reference(ctx, entity, j.ref, j.src, j.column)
		if err != nil {
			return frame.Table{}, err
		}
	}
	for i, j := range joins {
		t = t.SemiJoin(refTables[i], j.left, j.column)
	}

	rowsOut, err := t.Count(ctx)
	if err != nil {
		return frame.Table{}, fmt.Errorf("%s: %w", entity, err)
	}
	x.logDropped(entity, rowsIn, rowsOut)

	return x.validate(ctx, entity, t)
}
