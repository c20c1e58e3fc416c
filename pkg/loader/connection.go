package loader

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/thelook/pkg/adapter"
	"github.com/leapstack-labs/thelook/pkg/core"
)

// Connection says where a Dataset writes to. It is either Existing or
// NeedsConstruction.
type Connection interface {
	open(ctx context.Context, logger *slog.Logger) (*sql.DB, func() error, error)
}

// Existing reuses an open destination handle. The handle is not closed by
// the loader.
type Existing struct {
	DB *sql.DB
}

func (e Existing) open(context.Context, *slog.Logger) (*sql.DB, func() error, error) {
	if e.DB == nil {
		return nil, nil, fmt.Errorf("%w: nil database handle", core.ErrUpsertTransport)
	}
	return e.DB, func() error { return nil }, nil
}

// NeedsConstruction builds a destination adapter from Config for the
// duration of one Save.
type NeedsConstruction struct {
	Config core.AdapterConfig
}

func (n NeedsConstruction) open(ctx context.Context, logger *slog.Logger) (*sql.DB, func() error, error) {
	cfg := n.Config
	if cfg.Type == "" {
		cfg.Type = "postgres"
	}
	adp, err := adapter.NewAdapter(cfg, adapter.RoleDestination, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create destination adapter: %w", err)
	}
	if err := adp.Connect(ctx, cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to destination: %w", err)
	}
	return adp.Handle(), adp.Close, nil
}
