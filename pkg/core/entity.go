package core

// Entity names. They double as destination table names.
const (
	EntityUsers               = "users"
	EntityDistributionCenters = "distribution_centers"
	EntityProducts            = "products"
	EntityInventoryItems      = "inventory_items"
	EntityOrders              = "orders"
	EntityOrderItems          = "order_items"
	EntityEvents              = "events"
)

// Entities lists every entity in dependency-friendly order.
var Entities = []string{
	EntityUsers,
	EntityDistributionCenters,
	EntityProducts,
	EntityInventoryItems,
	EntityOrders,
	EntityOrderItems,
	EntityEvents,
}

// KeyColumn returns the primary key column of an entity.
func KeyColumn(entity string) string {
	if entity == EntityOrders {
		return "order_id"
	}
	return "id"
}

// IsEntity reports whether name is a known entity.
func IsEntity(name string) bool {
	for _, e := range Entities {
		if e == name {
			return true
		}
	}
	return false
}
