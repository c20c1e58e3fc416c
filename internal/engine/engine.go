// Package engine runs the extraction pipeline: it registers raw sources in
// DuckDB, extracts every entity in dependency order and writes the primary
// tables to PostgreSQL, recording each run in the ledger.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/thelook/internal/config"
	"github.com/leapstack-labs/thelook/internal/dag"
	"github.com/leapstack-labs/thelook/internal/state"
	"github.com/leapstack-labs/thelook/pkg/adapter"
	_ "github.com/leapstack-labs/thelook/pkg/adapters/duckdb"   // source adapter
	_ "github.com/leapstack-labs/thelook/pkg/adapters/postgres" // destination adapter
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/extract"
	"github.com/leapstack-labs/thelook/pkg/frame"
	"github.com/leapstack-labs/thelook/pkg/loader"
)

// Config holds engine configuration.
type Config struct {
	// Source is the DuckDB query engine raw tables are registered in.
	Source core.AdapterConfig
	// Destination is the PostgreSQL store. Nil only allows dry runs.
	Destination *core.AdapterConfig
	// Tables configures each entity.
	Tables map[string]config.TableConfig
	// OrderLookbackDays bounds the orders and order_items windows.
	OrderLookbackDays int
	// Upsert maps table names to loader options overriding SaveArgs.
	Upsert map[string]loader.Options
	// SaveArgs are the loader options shared by every table.
	SaveArgs loader.Options
	// Monitoring tunes per-entity resource logging.
	Monitoring config.MonitoringConfig
	// Parallelism bounds the entities extracted at once (optional, defaults to 4)
	Parallelism int
	// Environment labels runs in the ledger (optional, defaults to dev)
	Environment string
	// StatePath is the SQLite ledger path, used when Store is nil.
	StatePath string
	// Store is the run ledger (optional, opened from StatePath if nil)
	Store core.Store
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
	// Now is the clock used for lookback windows (optional, defaults to time.Now)
	Now func() time.Time
}

// Engine orchestrates a pipeline run.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	store     core.Store
	ownsStore bool
	graph     *dag.Graph
	memory    memoryProbe

	mu     sync.Mutex
	source adapter.Adapter
	frames *frame.Engine
	dest   adapter.Adapter
}

// New creates an engine. Database connections are opened lazily by Run.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = config.DefaultParallelism
	}
	if cfg.Environment == "" {
		cfg.Environment = config.DefaultEnv
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = "duckdb"
	}
	if cfg.OrderLookbackDays < 0 {
		return nil, fmt.Errorf("order lookback must be >= 0, got %d", cfg.OrderLookbackDays)
	}

	store, owns := cfg.Store, false
	if store == nil {
		path := cfg.StatePath
		if path == "" {
			path = ":memory:"
		}
		s := state.NewSQLiteStore(logger)
		if err := s.Open(path); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		if err := s.InitSchema(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to initialize state schema: %w", err)
		}
		store, owns = s, true
	}

	logger.Debug("initializing engine",
		slog.String("environment", cfg.Environment),
		slog.Int("parallelism", cfg.Parallelism))

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		ownsStore: owns,
		graph:     dag.EntityGraph(),
		memory:    processRSS,
	}, nil
}

// Graph returns the entity dependency graph.
func (e *Engine) Graph() *dag.Graph { return e.graph }

// Store returns the run ledger.
func (e *Engine) Store() core.Store { return e.store }

// ensureSource connects the DuckDB source adapter once.
func (e *Engine) ensureSource(ctx context.Context) (*frame.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frames != nil {
		return e.frames, nil
	}

	e.logger.Debug("connecting to source", slog.String("adapter_type", e.cfg.Source.Type))
	src, err := adapter.NewAdapter(e.cfg.Source, adapter.RoleSource, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create source adapter: %w", err)
	}
	if err := src.Connect(ctx, e.cfg.Source); err != nil {
		return nil, fmt.Errorf("failed to connect to source: %w", err)
	}
	e.source = src
	e.frames = frame.NewEngine(src.Handle(), e.logger)
	return e.frames, nil
}

// ensureDestination connects the PostgreSQL destination once.
func (e *Engine) ensureDestination(ctx context.Context) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dest != nil {
		return e.dest.Handle(), nil
	}
	if e.cfg.Destination == nil {
		return nil, errors.New("no destination configured")
	}

	cfg := *e.cfg.Destination
	if cfg.Type == "" {
		cfg.Type = "postgres"
	}
	e.logger.Debug("connecting to destination", slog.String("adapter_type", cfg.Type))
	dst, err := adapter.NewAdapter(cfg, adapter.RoleDestination, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination adapter: %w", err)
	}
	if err := dst.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to destination: %w", err)
	}
	e.dest = dst
	return dst.Handle(), nil
}

func (e *Engine) destinationHandle() *sql.DB {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dest == nil {
		return nil
	}
	return e.dest.Handle()
}

// destinationMetadata returns the connected destination adapter, or nil.
func (e *Engine) destinationMetadata() loader.MetadataReader {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dest == nil {
		return nil
	}
	return e.dest
}

func (e *Engine) destinationSchema() string {
	if e.cfg.Destination != nil && e.cfg.Destination.Schema != "" {
		return e.cfg.Destination.Schema
	}
	return loader.DefaultSchema
}

// Close releases every connection and the ledger if the engine opened it.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.frames != nil {
		errs = append(errs, e.frames.Close())
		e.frames = nil
	}
	if e.source != nil {
		errs = append(errs, e.source.Close())
		e.source = nil
	}
	if e.dest != nil {
		errs = append(errs, e.dest.Close())
		e.dest = nil
	}
	if e.ownsStore && e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing engine: %w", err)
	}
	return nil
}

func (e *Engine) newExtractor(frames *frame.Engine, logger *slog.Logger) (*extract.Extractor, error) {
	return extract.New(extract.Config{
		Engine: frames,
		Logger: logger,
		Now:    e.cfg.Now,
	})
}
