// Package duckdb provides the DuckDB adapter that hosts raw entity sources
// and evaluates the pipeline's lazy tables.
//
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/thelook/pkg/adapters/duckdb"
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/thelook/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect opens the database, then installs extensions, applies settings
// and creates secrets from cfg.Params.
// Use ":memory:" or an empty path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	if err := a.applyParams(ctx, params); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}

	a.Logger.Debug("connected to duckdb", slog.String("path", cfg.Path), slog.Int("extensions", len(params.Extensions)))
	return nil
}

func (a *Adapter) applyParams(ctx context.Context, p *Params) error {
	for _, ext := range p.Extensions {
		if err := a.Exec(ctx, "INSTALL "+ext); err != nil {
			return fmt.Errorf("failed to install extension %s: %w", ext, err)
		}
		if err := a.Exec(ctx, "LOAD "+ext); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// GLOBAL so that every pooled connection sees the setting.
		stmt := fmt.Sprintf("SET GLOBAL %s = %s", k, quote(p.Settings[k]))
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}

	for _, s := range p.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(s)); err != nil {
			return fmt.Errorf("failed to create %s secret: %w", s.Type, err)
		}
	}
	return nil
}

// GetTableMetadata retrieves metadata for a table or view.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table, "main")
}

// LoadSource registers a parquet, CSV or JSON file (or glob) as a view named
// name. Remote URLs (s3://, gs://, https://) are passed through as is.
func (a *Adapter) LoadSource(ctx context.Context, name, path string) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	location := path
	if !strings.Contains(path, "://") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to get absolute path: %w", err)
		}
		location = abs
	}

	reader, err := readerFor(location)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", adapter.QuoteIdent(name), reader)
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load source %s: %w", name, err)
	}
	a.Logger.Debug("registered source", slog.String("name", name), slog.String("path", location))
	return nil
}

func readerFor(location string) (string, error) {
	ext := strings.ToLower(filepath.Ext(location))
	switch ext {
	case ".parquet":
		return fmt.Sprintf("read_parquet(%s)", quote(location)), nil
	case ".csv":
		return fmt.Sprintf("read_csv_auto(%s, header=true)", quote(location)), nil
	case ".json", ".jsonl", ".ndjson":
		return fmt.Sprintf("read_json_auto(%s)", quote(location)), nil
	default:
		return "", fmt.Errorf("unsupported source format %q", ext)
	}
}

var (
	_ adapter.Adapter      = (*Adapter)(nil)
	_ adapter.SourceLoader = (*Adapter)(nil)
)
