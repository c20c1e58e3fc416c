// Package loader writes primary tables into PostgreSQL.
//
// Rows are streamed from the DuckDB result cursor with the native pgx binary
// COPY protocol. In upsert mode they land in a transaction-scoped staging
// table and are merged into the destination with a change-aware
// INSERT ... ON CONFLICT, so unchanged rows are never rewritten.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
)

// DefaultSchema is the destination schema used when none is configured.
const DefaultSchema = "public"

// Dataset is a destination table.
type Dataset struct {
	// Table is the destination table name.
	Table string
	// Schema is the destination schema (optional, defaults to public)
	Schema string
	// Conn is where the data is written.
	Conn Connection
	// Mode is ModeUpsert or ModeAppend (optional, defaults to upsert)
	Mode string
	// SaveArgs are the node-level options.
	SaveArgs Options
	// GlobalConfig maps table names to options that override SaveArgs.
	GlobalConfig map[string]Options
	// Metadata describes destination tables (optional, skips the column check if nil)
	Metadata MetadataReader
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// MetadataReader describes a destination table. Destination adapters
// implement it.
type MetadataReader interface {
	GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error)
}

// Result reports what a Save did.
type Result struct {
	RowsIn      int64
	RowsWritten int64
}

func (d *Dataset) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger.With(slog.String("table", d.Table))
}

func (d *Dataset) schema() string {
	if d.Schema != "" {
		return d.Schema
	}
	return DefaultSchema
}

// Save writes t to the destination. An empty table is a no-op that never
// acquires a destination connection. Append mode writes t as is; upsert
// mode applies the resolved options first.
func (d *Dataset) Save(ctx context.Context, t frame.Table) (Result, error) {
	log := d.logger()

	var opts Options
	if d.Mode != ModeAppend {
		opts = resolveOptions(d.Table, d.GlobalConfig, d.SaveArgs, log)
		if len(opts.Columns) > 0 {
			if missing := core.MissingColumns(opts.Columns, t.Columns()); len(missing) > 0 {
				return Result{}, &core.ColumnMismatchError{Table: d.Table, Missing: missing}
			}
			var err error
			if t, err = t.Select(opts.Columns...); err != nil {
				return Result{}, err
			}
		}
	}

	rowsIn, err := t.Count(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count rows for %s: %w", d.Table, err)
	}
	if rowsIn == 0 {
		log.Info("table is empty, nothing to write")
		return Result{}, nil
	}

	if err := d.checkDestination(ctx, t.Columns(), log); err != nil {
		return Result{}, err
	}

	if d.Conn == nil {
		return Result{}, fmt.Errorf("%w: no connection configured for %s", core.ErrUpsertTransport, d.Table)
	}
	db, release, err := d.Conn.open(ctx, log)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = release() }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", core.ErrUpsertTransport, err)
	}
	defer func() { _ = conn.Close() }()

	var written int64
	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("%w: driver connection is %T", core.ErrUpsertTransport, driverConn)
		}
		tx, err := sc.Conn().Begin(ctx)
		if err != nil {
			return d.txError("begin", err)
		}
		written, err = d.write(ctx, tx, t, opts)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			log.Error("postgres rejected write",
				slog.String("code", pgErr.Code),
				slog.String("detail", pgErr.Detail),
				slog.String("message", pgErr.Message))
		}
		return Result{RowsIn: rowsIn}, err
	}

	log.Info("write completed",
		slog.String("mode", d.modeName()),
		slog.Int64("rows_written", written),
		slog.Int64("rows_in", rowsIn))
	return Result{RowsIn: rowsIn, RowsWritten: written}, nil
}

// checkDestination fails with a ColumnMismatchError when the destination
// table lacks any of columns. It is skipped without a Metadata reader.
func (d *Dataset) checkDestination(ctx context.Context, columns []string, log *slog.Logger) error {
	if d.Metadata == nil {
		return nil
	}
	meta, err := d.Metadata.GetTableMetadata(ctx, d.schema()+"."+d.Table)
	if err != nil {
		return fmt.Errorf("failed to read destination columns of %s: %w", d.Table, err)
	}
	have := make([]string, len(meta.Columns))
	for i, c := range meta.Columns {
		have[i] = c.Name
	}
	if missing := core.MissingColumns(columns, have); len(missing) > 0 {
		return &core.ColumnMismatchError{Table: d.Table, Missing: missing}
	}
	log.Debug("destination columns checked", slog.Int64("destination_rows", meta.RowCount))
	return nil
}

func (d *Dataset) modeName() string {
	if d.Mode == ModeAppend {
		return ModeAppend
	}
	return ModeUpsert
}

// copyTx is the part of pgx.Tx a write uses.
type copyTx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

var _ copyTx = pgx.Tx(nil)

// write runs one append or upsert inside tx. Anything short of a commit
// is rolled back.
func (d *Dataset) write(ctx context.Context, tx copyTx, t frame.Table, opts Options) (int64, error) {
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		n   int64
		err error
	)
	if d.Mode == ModeAppend {
		n, err = d.copyInto(ctx, tx, pgx.Identifier{d.schema(), d.Table}, t)
	} else {
		n, err = d.upsert(ctx, tx, t, opts)
	}
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, d.txError("commit", err)
	}
	return n, nil
}

// upsert copies t into a staging table and merges it into the destination.
// The merge's row count is the number of rows written.
func (d *Dataset) upsert(ctx context.Context, tx copyTx, t frame.Table, opts Options) (int64, error) {
	columns := t.Columns()
	update := updateColumns(columns, opts.IndexElements, opts.ExcludeFromUpdate)
	staging := stagingName(d.Table)

	if _, err := tx.Exec(ctx, createStagingSQL(staging, d.schema(), d.Table)); err != nil {
		return 0, d.txError("create staging table", err)
	}

	if _, err := d.copyInto(ctx, tx, pgx.Identifier{staging}, t); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, mergeSQL(staging, d.schema(), d.Table, columns, opts.IndexElements, update))
	if err != nil {
		return 0, d.txError("merge", err)
	}
	return tag.RowsAffected(), nil
}

func (d *Dataset) copyInto(ctx context.Context, tx copyTx, target pgx.Identifier, t frame.Table) (int64, error) {
	rows, err := t.Rows(ctx)
	if err != nil {
		return 0, d.txError("read source", err)
	}
	defer func() { _ = rows.Close() }()

	columns := t.Columns()
	n, err := tx.CopyFrom(ctx, target, columns, newRowSource(rows, len(columns)))
	if err != nil {
		return 0, d.txError("copy", err)
	}
	return n, nil
}

func (d *Dataset) txError(stage string, err error) error {
	return &core.TransactionError{Table: d.Table, Stage: stage, Err: err}
}

// stagingName returns tmp_<table>_<8 hex chars>.
func stagingName(table string) string {
	return "tmp_" + table + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
