// Package transform holds the per-entity cleaning and typing steps applied
// to raw tables before integrity checks. Every function only composes the
// table's plan; nothing is executed.
package transform

import (
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
)

// Func turns a raw entity table into its typed, cleaned form.
type Func func(t frame.Table) frame.Table

const unknown = "Unknown"

func fillUnknown(cols ...string) []frame.Assign {
	out := make([]frame.Assign, len(cols))
	for i, c := range cols {
		out[i] = frame.Set(c, frame.Col(c).FillNull(unknown))
	}
	return out
}

func casts(typ string, cols ...string) []frame.Assign {
	out := make([]frame.Assign, len(cols))
	for i, c := range cols {
		out[i] = frame.Set(c, frame.Col(c).Cast(typ))
	}
	return out
}

func money(col string) frame.Expr {
	return frame.Col(col).Abs().Round(2).Cast(frame.Money)
}

func join(groups ...[]frame.Assign) []frame.Assign {
	var out []frame.Assign
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Users normalizes user profiles and derives context_summary.
func Users(t frame.Table) frame.Table {
	t = t.Mutate(join(
		[]frame.Assign{
			frame.Set("id", frame.Col("id").Cast(frame.Int32)),
			frame.Set("age", frame.Col("age").Abs().FillNull(0).Cast(frame.Int16)),
			frame.Set("gender", frame.Col("gender").FillNull("Others")),
		},
		fillUnknown("state", "city", "country", "traffic_source"),
		[]frame.Assign{
			frame.Set("latitude", frame.Col("latitude").Clip(-90, 90).FillNull(0.0)),
			frame.Set("longitude", frame.Col("longitude").Clip(-180, 180).FillNull(0.0)),
		},
	)...)

	return t.Mutate(frame.Set("context_summary", frame.Concat(
		"User profile: ", frame.Col("gender"),
		", ", frame.Col("age").Cast(frame.String),
		" years old, located_in ", frame.Col("city"),
		", ", frame.Col("state"),
		", ", frame.Col("country"),
		". Acquired via ", frame.Col("traffic_source"),
		".",
	)))
}

// DistributionCenters types the id and bounds the coordinates.
// Missing coordinates stay NULL.
func DistributionCenters(t frame.Table) frame.Table {
	return t.Mutate(
		frame.Set("id", frame.Col("id").Cast(frame.Int32)),
		frame.Set("latitude", frame.Col("latitude").Clip(-90, 90)),
		frame.Set("longitude", frame.Col("longitude").Clip(-180, 180)),
	)
}

// Products types prices as money and fills descriptive fields.
func Products(t frame.Table) frame.Table {
	return t.Mutate(join(
		[]frame.Assign{
			frame.Set("id", frame.Col("id").Cast(frame.Int32)),
			frame.Set("cost", money("cost")),
			frame.Set("retail_price", money("retail_price")),
			frame.Set("distribution_center_id", frame.Col("distribution_center_id").Cast(frame.Int16)),
		},
		fillUnknown("category", "name", "brand", "department", "sku"),
	)...)
}

// InventoryItems types ids, timestamps and prices of stock units.
func InventoryItems(t frame.Table) frame.Table {
	return t.Mutate(join(
		casts(frame.Int32, "id", "product_id", "product_distribution_center_id"),
		casts(frame.Timestamp, "created_at", "sold_at"),
		[]frame.Assign{
			frame.Set("cost", money("cost")),
			frame.Set("product_retail_price", frame.Col("product_retail_price").Cast(frame.Money)),
		},
		fillUnknown("product_category", "product_name", "product_brand", "product_department", "product_sku"),
	)...)
}

// Orders types order headers and repairs their lifecycle timestamps.
func Orders(t frame.Table) frame.Table {
	t = t.Mutate(join(
		casts(frame.Int32, "order_id", "user_id"),
		casts(frame.Timestamp, "created_at", "returned_at", "shipped_at", "delivered_at"),
		casts(frame.Int16, "num_of_item"),
	)...)
	return RepairTimeline(t)
}

// OrderItems types order lines and repairs their lifecycle timestamps.
func OrderItems(t frame.Table) frame.Table {
	t = t.Mutate(join(
		casts(frame.Int32, "id", "order_id", "user_id", "product_id", "inventory_item_id"),
		[]frame.Assign{frame.Set("status", frame.Col("status").FillNull("Processing"))},
		casts(frame.Timestamp, "created_at", "shipped_at", "delivered_at", "returned_at"),
		[]frame.Assign{frame.Set("sale_price", frame.Col("sale_price").Cast(frame.Money))},
	)...)
	return RepairTimeline(t)
}

// Events types web events and derives visitor_type from user_id.
func Events(t frame.Table) frame.Table {
	return t.Mutate(join(
		casts(frame.Int32, "id", "user_id"),
		casts(frame.Int16, "sequence_number"),
		casts(frame.Timestamp, "created_at"),
		fillUnknown("session_id", "city", "state", "browser", "traffic_source", "event_type"),
		[]frame.Assign{frame.Set("visitor_type", frame.IfElse(
			frame.Col("user_id").NotNull(), frame.Lit("Registered"), frame.Lit("Guest"),
		))},
	)...)
}

// RepairTimeline moves shipped_at, delivered_at and returned_at forward so
// that each is not earlier than the previous milestone. The steps run in
// order and each sees the corrected value of the one before. A comparison
// involving NULL keeps the original value.
func RepairTimeline(t frame.Table) frame.Table {
	steps := [][2]string{
		{"shipped_at", "created_at"},
		{"delivered_at", "shipped_at"},
		{"returned_at", "delivered_at"},
	}
	for _, s := range steps {
		col, floor := frame.Col(s[0]), frame.Col(s[1])
		t = t.Mutate(frame.Set(s[0], frame.IfElse(col.Lt(floor), floor, col)))
	}
	return t
}

// Registry maps entity names to their transforms.
var Registry = map[string]Func{
	core.EntityUsers:               Users,
	core.EntityDistributionCenters: DistributionCenters,
	core.EntityProducts:            Products,
	core.EntityInventoryItems:      InventoryItems,
	core.EntityOrders:              Orders,
	core.EntityOrderItems:          OrderItems,
	core.EntityEvents:              Events,
}
