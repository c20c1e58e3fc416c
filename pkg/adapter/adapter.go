// Package adapter provides the database adapter contract used by the
// pipeline: DuckDB as the query engine over raw sources and PostgreSQL as
// the destination store.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories and
// register themselves on import.
package adapter

import (
	"context"
	"database/sql"

	"github.com/leapstack-labs/thelook/pkg/core"
)

type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata
)

// Adapter defines the interface that all database adapters must implement.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// GetTableMetadata describes a table. The destination check of the
	// loader reads its columns.
	GetTableMetadata(ctx context.Context, table string) (*Metadata, error)

	// Handle exposes the underlying database/sql handle. Nil before Connect.
	Handle() *sql.DB
}

// SourceLoader is implemented by adapters that can expose files as tables.
type SourceLoader interface {
	// LoadSource registers the file at path as a relation named name.
	LoadSource(ctx context.Context, name, path string) error
}
