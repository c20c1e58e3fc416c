package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/thelook/pkg/adapter"
)

func init() {
	adapter.Register("postgres", adapter.RoleDestination, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
