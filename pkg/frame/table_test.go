package frame

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leapstack-labs/thelook/internal/testutil"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := NewEngine(testutil.NewDuckDB(t), testutil.NewTestLogger(t))
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func people(t *testing.T, eng *Engine) Table {
	t.Helper()
	tbl, err := eng.Query(context.Background(),
		"SELECT * FROM (VALUES (1, 'ana', 30), (2, NULL, -4), (3, 'caio', NULL)) AS v(id, name, age)")
	require.NoError(t, err)
	return tbl
}

func TestEngine_QueryResolvesColumns(t *testing.T) {
	eng := newTestEngine(t)
	tbl := people(t, eng)
	assert.Equal(t, []string{"id", "name", "age"}, tbl.Columns())
	assert.True(t, tbl.HasColumn("name"))
	assert.False(t, tbl.HasColumn("email"))
}

func TestTable_Select(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	tbl := people(t, eng)

	t.Run("reorders columns", func(t *testing.T) {
		sel, err := tbl.Select("age", "id")
		require.NoError(t, err)
		assert.Equal(t, []string{"age", "id"}, sel.Columns())
		n, err := sel.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("names every missing column", func(t *testing.T) {
		_, err := tbl.Select("id", "email", "phone")
		var mismatch *core.ColumnMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, []string{"email", "phone"}, mismatch.Missing)
	})
}

func TestTable_MutateIsLazyAndOrdered(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	tbl := people(t, eng)

	out := tbl.Mutate(
		Set("age", Col("age").Abs().FillNull(0)),
		Set("name", Col("name").FillNull("Unknown")),
		Set("label", Concat(Col("name").FillNull("?"), "#", Col("id").Cast(String))),
	)
	assert.Equal(t, []string{"id", "name", "age", "label"}, out.Columns())

	recs, err := out.Filter(Col("id").Eq(2)).Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 4, recs[0]["age"])
	assert.Equal(t, "Unknown", recs[0]["name"])
	assert.Equal(t, "?#2", recs[0]["label"])
}

func TestExpr_ClipKeepsNullAndBoundaries(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	tbl, err := eng.Query(ctx,
		"SELECT * FROM (VALUES (1, 90.0::DOUBLE), (2, -90.0::DOUBLE), (3, 90.0001::DOUBLE), (4, NULL::DOUBLE), (5, -120.5::DOUBLE)) AS v(id, lat)")
	require.NoError(t, err)

	recs, err := tbl.Mutate(Set("lat", Col("lat").Clip(-90, 90))).Records(ctx)
	require.NoError(t, err)

	got := map[int32]any{}
	for _, r := range recs {
		got[r["id"].(int32)] = r["lat"]
	}
	assert.Equal(t, 90.0, got[1])
	assert.Equal(t, -90.0, got[2])
	assert.Equal(t, 90.0, got[3])
	assert.Nil(t, got[4])
	assert.Equal(t, -90.0, got[5])
}

func TestTable_SemiAndAntiJoin(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	tbl := people(t, eng)

	ref, err := eng.Memtable(ctx, "id", []any{int32(1), int64(3), nil})
	require.NoError(t, err)

	kept, err := tbl.SemiJoin(ref, "id", "id").Keys(ctx, "id")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{int32(1), int32(3)}, kept)

	orphans, err := tbl.AntiJoin(ref, "id", "id").Keys(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, []any{int32(2)}, orphans)
}

func TestEngine_MemtableRejectsMixedTypes(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Memtable(context.Background(), "id", []any{int32(1), "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixed key types")
}

func TestEngine_EmptyMemtable(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	ref, err := eng.Memtable(ctx, "id", nil)
	require.NoError(t, err)

	n, err := people(t, eng).SemiJoin(ref, "id", "id").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestTable_Aggregate(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	tbl := people(t, eng)

	got, err := tbl.Aggregate(ctx,
		Set("rows", CountAll()),
		Set("named", Col("name").NUnique()),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got["rows"])
	assert.EqualValues(t, 2, got["named"])
}

func TestTable_MaxTimestamp(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	tbl, err := eng.Query(ctx,
		"SELECT * FROM (VALUES ('2023-01-01 10:00:00'), ('2023-03-05 00:00:00')) AS v(created_at)")
	require.NoError(t, err)

	ts, ok, err := tbl.MaxTimestamp(ctx, "created_at")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 3, 5, 0, 0, 0, 0, time.UTC), ts.UTC())

	_, ok, err = tbl.Limit(0).MaxTimestamp(ctx, "created_at")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{true, "TRUE"},
		{"O'Neil", "'O''Neil'"},
		{int32(7), "7"},
		{90.0, "90.0"},
		{-0.5, "-0.5"},
		{time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), "TIMESTAMP '2023-01-05 00:00:00'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, literal(tt.in))
	}
}
