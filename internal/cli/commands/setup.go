package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/thelook/internal/cli/config"
	"github.com/leapstack-labs/thelook/internal/engine"
	"github.com/leapstack-labs/thelook/internal/state"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Loaded
	Logger *slog.Logger
	Engine *engine.Engine
}

// NewCommandContext creates a CommandContext with an engine.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := config.GetLogger(cmd.Context())

	eng, err := createEngine(cfg.Config, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("failed to close engine", slog.String("error", err.Error()))
		}
	}
	return &CommandContext{Cfg: cfg, Logger: logger, Engine: eng}, cleanup, nil
}

// getConfig returns the configuration loaded by the root command, loading
// it from the working directory when the command runs on its own.
func getConfig(cmd *cobra.Command) (*config.Loaded, error) {
	if cfg := config.GetConfig(cmd.Context()); cfg != nil {
		return cfg, nil
	}
	return config.Load("", "", nil)
}

func ensureStateDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}

func createEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	if err := ensureStateDir(cfg.StatePath); err != nil {
		return nil, err
	}

	var dest *core.AdapterConfig
	if cfg.Destination != nil {
		ac := cfg.Destination.AdapterConfig()
		dest = &ac
	}

	return engine.New(engine.Config{
		Source:            cfg.Source.AdapterConfig(),
		Destination:       dest,
		Tables:            cfg.Tables,
		OrderLookbackDays: cfg.OrderLookbackDays,
		Upsert:            cfg.Upsert,
		SaveArgs:          cfg.SaveArgs,
		Monitoring:        cfg.Monitoring,
		Parallelism:       cfg.Parallelism,
		Environment:       cfg.Environment,
		StatePath:         cfg.StatePath,
		Logger:            logger,
	})
}

// openStore opens the run ledger without building an engine.
func openStore(cfg *config.Config, logger *slog.Logger) (*state.SQLiteStore, error) {
	if err := ensureStateDir(cfg.StatePath); err != nil {
		return nil, err
	}
	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return store, nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderEntityRuns prints one row per entity outcome.
func renderEntityRuns(w io.Writer, runs []*core.EntityRun) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "(no entities)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Entity", "Status", "Rows Out", "Rows Written", "Duration", "Error"})
	for _, er := range runs {
		t.AppendRow(table.Row{
			er.Entity,
			string(er.Status),
			er.RowsOut,
			er.RowsWritten,
			fmt.Sprintf("%dms", er.ExecutionMS),
			truncate(er.Error, 60),
		})
	}
	t.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
