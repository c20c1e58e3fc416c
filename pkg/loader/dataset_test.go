package loader

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/leapstack-labs/thelook/internal/testutil"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceTable(t *testing.T, query string) frame.Table {
	t.Helper()
	eng := frame.NewEngine(testutil.NewDuckDB(t), testutil.NewTestLogger(t))
	t.Cleanup(func() { _ = eng.Close() })
	tbl, err := eng.Query(context.Background(), query)
	require.NoError(t, err)
	return tbl
}

func TestDataset_Save_EmptyTableNeverConnects(t *testing.T) {
	logger, capture := testutil.NewCaptureLogger()
	tbl := sourceTable(t, "SELECT 1 AS id, 'a' AS nome LIMIT 0")

	d := &Dataset{Table: "users", Conn: Existing{}, Logger: logger}
	res, err := d.Save(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	_, ok := capture.Find("table is empty, nothing to write")
	assert.True(t, ok)
}

func TestDataset_Save_MissingColumns(t *testing.T) {
	tbl := sourceTable(t, "SELECT 1 AS id, 'a' AS nome")

	d := &Dataset{
		Table:    "users",
		Conn:     Existing{},
		SaveArgs: Options{Columns: []string{"id", "email", "phone"}},
	}
	_, err := d.Save(context.Background(), tbl)

	var mismatch *core.ColumnMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "users", mismatch.Table)
	assert.Equal(t, []string{"email", "phone"}, mismatch.Missing)
}

func TestDataset_Save_NonPgxDriverIsTransportError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	tbl := sourceTable(t, "SELECT 1 AS id, 'a' AS nome")
	d := &Dataset{Table: "users", Conn: Existing{DB: db}, Logger: testutil.NewTestLogger(t)}

	res, err := d.Save(context.Background(), tbl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUpsertTransport))
	assert.Equal(t, int64(1), res.RowsIn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDataset_Save_NilHandle(t *testing.T) {
	tbl := sourceTable(t, "SELECT 1 AS id")
	d := &Dataset{Table: "users", Conn: Existing{}}
	_, err := d.Save(context.Background(), tbl)
	assert.True(t, errors.Is(err, core.ErrUpsertTransport))
}

func TestNeedsConstruction_UnknownType(t *testing.T) {
	tbl := sourceTable(t, "SELECT 1 AS id")
	d := &Dataset{Table: "users", Conn: NeedsConstruction{Config: core.AdapterConfig{Type: "oracle"}}}
	_, err := d.Save(context.Background(), tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create destination adapter")
}

func TestTarget_Keys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT "id" FROM "public"."users" WHERE "id" IS NOT NULL`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(7)))

	keys, err := NewTarget(db, "", "users").Keys(context.Background(), "id")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(7)}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTarget_KeysQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT DISTINCT`).WillReturnError(errors.New("relation does not exist"))

	_, err = NewTarget(db, "staging", "orders").Keys(context.Background(), "id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read orders.id")
}

func TestTarget_MaxTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	wm := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	q := regexp.QuoteMeta(`SELECT MAX("created_at") FROM "public"."inventory_items"`)
	mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(wm))
	mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	target := NewTarget(db, "public", "inventory_items")

	got, ok, err := target.MaxTimestamp(context.Background(), "created_at")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, wm, got)

	_, ok, err = target.MaxTimestamp(context.Background(), "created_at")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowSource_ConvertsDuckDBValues(t *testing.T) {
	tbl := sourceTable(t, "SELECT 12.50::DECIMAL(10,2) AS price, 'a' AS nome, NULL::DECIMAL(10,2) AS cost")
	rows, err := tbl.Rows(context.Background())
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	src := newRowSource(rows, 3)
	require.True(t, src.Next())
	values, err := src.Values()
	require.NoError(t, err)

	num, ok := values[0].(pgtype.Numeric)
	require.True(t, ok, "got %T", values[0])
	assert.Equal(t, int32(-2), num.Exp)
	assert.Equal(t, big.NewInt(1250), num.Int)
	assert.Equal(t, "a", values[1])
	assert.Nil(t, values[2])

	assert.False(t, src.Next())
	assert.NoError(t, src.Err())
	assert.Equal(t, int64(1), src.count)
}

func TestToPostgres(t *testing.T) {
	assert.Equal(t, "x", toPostgres("x"))
	assert.Nil(t, toPostgres(nil))
	assert.Equal(t,
		pgtype.Numeric{Int: big.NewInt(42), Exp: 0, Valid: true},
		toPostgres(big.NewInt(42)))
}

// recordingTx stands in for pgx.Tx and records each statement it sees.
type recordingTx struct {
	failAt    string
	mergeTag  string
	ops       []string
	sql       []string
	copied    int64
	committed bool
}

func (tx *recordingTx) step(op string) error {
	tx.ops = append(tx.ops, op)
	if op == tx.failAt || strings.HasPrefix(op, tx.failAt+" ") {
		return errors.New(op + " failed")
	}
	return nil
}

func (tx *recordingTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	tx.sql = append(tx.sql, sql)
	op := "merge"
	if strings.HasPrefix(sql, "CREATE TEMP TABLE") {
		op = "create"
	}
	if err := tx.step(op); err != nil {
		return pgconn.CommandTag{}, err
	}
	if op == "merge" {
		return pgconn.NewCommandTag(tx.mergeTag), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (tx *recordingTx) CopyFrom(_ context.Context, table pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	if err := tx.step("copy " + table.Sanitize()); err != nil {
		return 0, err
	}
	var n int64
	for src.Next() {
		if _, err := src.Values(); err != nil {
			return n, err
		}
		n++
	}
	tx.copied = n
	return n, src.Err()
}

func (tx *recordingTx) Commit(context.Context) error {
	if err := tx.step("commit"); err != nil {
		return err
	}
	tx.committed = true
	return nil
}

func (tx *recordingTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.ops = append(tx.ops, "rollback")
	}
	return nil
}

const twoUsers = "SELECT * FROM (VALUES (1, 'a'), (2, 'b')) AS v(id, nome)"

func TestDataset_Write(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		failAt    string
		wantOps   []string
		wantStage string
		wantRows  int64
	}{
		{
			name:     "upsert commits after merge",
			wantOps:  []string{"create", "copy staging", "merge", "commit"},
			wantRows: 1,
		},
		{
			name:      "staging failure rolls back",
			failAt:    "create",
			wantOps:   []string{"create", "rollback"},
			wantStage: "create staging table",
		},
		{
			name:      "copy failure rolls back",
			failAt:    "copy",
			wantOps:   []string{"create", "copy staging", "rollback"},
			wantStage: "copy",
		},
		{
			name:      "merge failure rolls back",
			failAt:    "merge",
			wantOps:   []string{"create", "copy staging", "merge", "rollback"},
			wantStage: "merge",
		},
		{
			name:      "commit failure rolls back",
			failAt:    "commit",
			wantOps:   []string{"create", "copy staging", "merge", "commit", "rollback"},
			wantStage: "commit",
		},
		{
			name:     "append copies into the table",
			mode:     ModeAppend,
			wantOps:  []string{`copy "public"."users"`, "commit"},
			wantRows: 2,
		},
		{
			name:      "append copy failure rolls back",
			mode:      ModeAppend,
			failAt:    "copy",
			wantOps:   []string{`copy "public"."users"`, "rollback"},
			wantStage: "copy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := sourceTable(t, twoUsers)
			tx := &recordingTx{failAt: tt.failAt, mergeTag: "INSERT 0 1"}
			d := &Dataset{Table: "users", Mode: tt.mode}

			n, err := d.write(context.Background(), tx, tbl, Options{IndexElements: []string{"id"}})

			ops := make([]string, len(tx.ops))
			for i, op := range tx.ops {
				if strings.HasPrefix(op, `copy "tmp_users_`) {
					op = "copy staging"
				}
				ops[i] = op
			}
			assert.Equal(t, tt.wantOps, ops)

			if tt.wantStage != "" {
				var txErr *core.TransactionError
				require.True(t, errors.As(err, &txErr))
				assert.Equal(t, tt.wantStage, txErr.Stage)
				assert.Equal(t, "users", txErr.Table)
				assert.Zero(t, n)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, n)
			assert.Equal(t, int64(2), tx.copied)
		})
	}
}

func TestDataset_Write_MergeStatement(t *testing.T) {
	t.Run("changed rows only", func(t *testing.T) {
		tx := &recordingTx{mergeTag: "INSERT 0 2"}
		d := &Dataset{Table: "users", Schema: "thelook"}

		n, err := d.write(context.Background(), tx, sourceTable(t, twoUsers), Options{IndexElements: []string{"id"}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.Len(t, tx.sql, 2)
		assert.Contains(t, tx.sql[0], `(LIKE "thelook"."users" INCLUDING DEFAULTS) ON COMMIT DROP`)
		assert.Contains(t, tx.sql[1], `INSERT INTO "thelook"."users" ("id", "nome")`)
		assert.Contains(t, tx.sql[1], `WHERE "users"."nome" IS DISTINCT FROM EXCLUDED."nome"`)
	})

	t.Run("key only table does nothing on conflict", func(t *testing.T) {
		tx := &recordingTx{mergeTag: "INSERT 0 0"}
		d := &Dataset{Table: "users"}

		n, err := d.write(context.Background(), tx, sourceTable(t, "SELECT 1 AS id"), Options{IndexElements: []string{"id"}})
		require.NoError(t, err)
		assert.Zero(t, n)
		require.Len(t, tx.sql, 2)
		assert.Contains(t, tx.sql[1], `ON CONFLICT ("id")`+"\nDO NOTHING")
	})
}

func TestDataset_Save_AppendIgnoresUpsertOptions(t *testing.T) {
	logger, capture := testutil.NewCaptureLogger()
	tbl := sourceTable(t, "SELECT 1 AS id, 'a' AS nome LIMIT 0")

	d := &Dataset{
		Table:        "users",
		Mode:         ModeAppend,
		Conn:         Existing{},
		SaveArgs:     Options{Columns: []string{"id", "email"}},
		GlobalConfig: map[string]Options{"orders": {IndexElements: []string{"order_id"}}},
		Logger:       logger,
	}
	_, err := d.Save(context.Background(), tbl)
	require.NoError(t, err)
	assert.Empty(t, capture.Records(slog.LevelWarn))

	d.Mode = ModeUpsert
	_, err = d.Save(context.Background(), tbl)
	var mismatch *core.ColumnMismatchError
	require.True(t, errors.As(err, &mismatch))
	_, warned := capture.Find("table not found in global upsert config, using defaults")
	assert.True(t, warned)
}

type destinationColumns struct {
	columns []string
	err     error
	asked   string
}

func (m *destinationColumns) GetTableMetadata(_ context.Context, table string) (*core.TableMetadata, error) {
	m.asked = table
	if m.err != nil {
		return nil, m.err
	}
	meta := &core.TableMetadata{Name: table}
	for i, c := range m.columns {
		meta.Columns = append(meta.Columns, core.Column{Name: c, Position: i + 1})
	}
	return meta, nil
}

func TestDataset_Save_DestinationColumns(t *testing.T) {
	tests := []struct {
		name        string
		meta        *destinationColumns
		wantMissing []string
		wantErr     string
		transport   bool
	}{
		{
			name:        "column absent from destination",
			meta:        &destinationColumns{columns: []string{"id"}},
			wantMissing: []string{"nome"},
		},
		{
			name:    "metadata read failure",
			meta:    &destinationColumns{err: errors.New("table users not found")},
			wantErr: "failed to read destination columns of users",
		},
		{
			name:      "matching destination proceeds to connect",
			meta:      &destinationColumns{columns: []string{"id", "nome", "updated_at"}},
			transport: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Dataset{Table: "users", Schema: "thelook", Conn: Existing{}, Metadata: tt.meta}
			_, err := d.Save(context.Background(), sourceTable(t, twoUsers))
			require.Error(t, err)
			assert.Equal(t, "thelook.users", tt.meta.asked)

			switch {
			case tt.wantMissing != nil:
				var mismatch *core.ColumnMismatchError
				require.True(t, errors.As(err, &mismatch))
				assert.Equal(t, "users", mismatch.Table)
				assert.Equal(t, tt.wantMissing, mismatch.Missing)
			case tt.wantErr != "":
				assert.Contains(t, err.Error(), tt.wantErr)
			case tt.transport:
				assert.True(t, errors.Is(err, core.ErrUpsertTransport))
			}
		})
	}
}
