package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/thelook/pkg/adapter"
)

func init() {
	adapter.Register("duckdb", adapter.RoleSource, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
