package schema

import (
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
)

// OrderStatuses are the statuses accepted for orders and order items.
var OrderStatuses = []any{"Processing", "Shipped", "Complete", "Returned", "Cancelled"}

func isNull(col string) RowRule {
	return func(t frame.Table) frame.Expr { return t.Col(col).IsNull() }
}

func below(col string, bound any) RowRule {
	return func(t frame.Table) frame.Expr { return t.Col(col).Lt(bound) }
}

func outOfRange(col string, lo, hi float64) RowRule {
	return func(t frame.Table) frame.Expr { return t.Col(col).Between(lo, hi).Not() }
}

func duplicated(col string) AggRule {
	return func(t frame.Table) frame.Expr { return frame.CountAll().Sub(t.Col(col).NUnique()) }
}

// happenedBefore flags rows where col is set and earlier than ref.
// When requireRef is true the rule only applies if ref is set as well.
func happenedBefore(col, ref string, requireRef bool) RowRule {
	return func(t frame.Table) frame.Expr {
		pred := t.Col(col).NotNull()
		if requireRef {
			pred = pred.And(t.Col(ref).NotNull())
		}
		return pred.And(t.Col(col).Lt(t.Col(ref)))
	}
}

func invalidStatus(t frame.Table) frame.Expr {
	return t.Col("status").NotNull().And(t.Col("status").IsIn(OrderStatuses...).Not())
}

// Users is the rule set of the users entity.
var Users = RuleSet{
	Row: map[string]RowRule{
		"id_missing":  isNull("id"),
		"age_invalid": below("age", 0),
		"gender_invalid": func(t frame.Table) frame.Expr {
			return t.Col("gender").IsIn("M", "F", "Others").Not()
		},
		"lat_out_range":   outOfRange("latitude", -90, 90),
		"lon_out_range":   outOfRange("longitude", -180, 180),
		"created_missing": isNull("created_at"),
	},
	Agg: map[string]AggRule{
		"id_duplicated": duplicated("id"),
	},
}

// DistributionCenters is the rule set of the distribution_centers entity.
var DistributionCenters = RuleSet{
	Row: map[string]RowRule{
		"id_missing":    isNull("id"),
		"name_missing":  isNull("name"),
		"lat_out_range": outOfRange("latitude", -90, 90),
		"lon_out_range": outOfRange("longitude", -180, 180),
	},
	Agg: map[string]AggRule{
		"id_duplicated": duplicated("id"),
		"name_duplicates": func(t frame.Table) frame.Expr {
			return frame.CountAll().Sub(t.Col("name").Lower().NUnique())
		},
	},
}

// Products is the rule set of the products entity.
var Products = RuleSet{
	Row: map[string]RowRule{
		"id_missing":   isNull("id"),
		"cost_missing": isNull("cost"),
		"cost_negative": func(t frame.Table) frame.Expr {
			return t.Col("cost").Le(0)
		},
		"price_missing":  isNull("retail_price"),
		"price_negative": below("retail_price", 0),
		"sku_missing":    isNull("sku"),
	},
	Agg: map[string]AggRule{
		"id_duplicated":  duplicated("id"),
		"sku_duplicated": duplicated("sku"),
	},
}

// InventoryItems is the rule set of the inventory_items entity.
var InventoryItems = RuleSet{
	Row: map[string]RowRule{
		"id_missing":          isNull("id"),
		"prod_id_missing":     isNull("product_id"),
		"dist_center_missing": isNull("product_distribution_center_id"),
		"created_missing":     isNull("created_at"),
		"sold_data_invalid":   happenedBefore("sold_at", "created_at", false),
		"cost_missing":        isNull("cost"),
		"cost_negative":       below("cost", 0),
		"price_missing":       isNull("product_retail_price"),
		"price_negative":      below("product_retail_price", 0),
		"category_missing":    isNull("product_category"),
		"name_missing":        isNull("product_name"),
		"brand_missing":       isNull("product_brand"),
		"dept_missing":        isNull("product_department"),
		"sku_missing":         isNull("product_sku"),
	},
	Agg: map[string]AggRule{
		"id_duplicated": duplicated("id"),
	},
}

// Orders is the rule set of the orders entity.
var Orders = RuleSet{
	Row: map[string]RowRule{
		"id_missing":      isNull("order_id"),
		"user_id_missing": isNull("user_id"),
		"status_missing":  isNull("status"),
		"status_invalid":  invalidStatus,
		"items_missing":   isNull("num_of_item"),
		"items_invalid": func(t frame.Table) frame.Expr {
			return t.Col("num_of_item").Le(0)
		},
		"created_missing":     isNull("created_at"),
		"ship_early_err":      happenedBefore("shipped_at", "created_at", false),
		"delivered_early_err": happenedBefore("delivered_at", "shipped_at", true),
		"returned_early_err":  happenedBefore("returned_at", "delivered_at", true),
	},
	Agg: map[string]AggRule{
		"id_duplicated": duplicated("order_id"),
	},
}

// OrderItems is the rule set of the order_items entity.
var OrderItems = RuleSet{
	Row: map[string]RowRule{
		"id_missing":       isNull("id"),
		"order_id_missing": isNull("order_id"),
		"user_id_missing":  isNull("user_id"),
		"prod_id_missing":  isNull("product_id"),
		"inv_id_missing":   isNull("inventory_item_id"),
		"status_invalid":   invalidStatus,
		"price_negative": func(t frame.Table) frame.Expr {
			return t.Col("sale_price").NotNull().And(t.Col("sale_price").Lt(0))
		},
		"created_missing":     isNull("created_at"),
		"ship_early_err":      happenedBefore("shipped_at", "created_at", false),
		"delivered_early_err": happenedBefore("delivered_at", "shipped_at", true),
		"returned_early_err":  happenedBefore("returned_at", "delivered_at", true),
	},
	Agg: map[string]AggRule{
		"id_duplicated": duplicated("id"),
	},
}

// VisitorTypes are the values derived for events.visitor_type.
var VisitorTypes = []any{"Guest", "Registered"}

// Events is the rule set of the events entity.
var Events = RuleSet{
	Row: map[string]RowRule{
		"id_missing":      isNull("id"),
		"session_missing": isNull("session_id"),
		"created_missing": isNull("created_at"),
		"sequence_invalid": func(t frame.Table) frame.Expr {
			return t.Col("sequence_number").Le(0)
		},
		"visitor_type_invalid": func(t frame.Table) frame.Expr {
			return t.Col("visitor_type").IsIn(VisitorTypes...).Not()
		},
	},
	Agg: map[string]AggRule{
		"id_duplicated": duplicated("id"),
	},
}

// DefaultRegistry returns the rule sets of every entity.
func DefaultRegistry() Registry {
	return Registry{
		core.EntityUsers:               Users,
		core.EntityDistributionCenters: DistributionCenters,
		core.EntityProducts:            Products,
		core.EntityInventoryItems:      InventoryItems,
		core.EntityOrders:              Orders,
		core.EntityOrderItems:          OrderItems,
		core.EntityEvents:              Events,
	}
}
