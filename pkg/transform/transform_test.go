package transform

import (
	"context"
	"testing"
	"time"

	"github.com/leapstack-labs/thelook/internal/testutil"
	"github.com/leapstack-labs/thelook/pkg/core"
	"github.com/leapstack-labs/thelook/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *frame.Engine {
	t.Helper()
	eng := frame.NewEngine(testutil.NewDuckDB(t), testutil.NewTestLogger(t))
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func query(t *testing.T, eng *frame.Engine, q string) frame.Table {
	t.Helper()
	tbl, err := eng.Query(context.Background(), q)
	require.NoError(t, err)
	return tbl
}

func records(t *testing.T, tbl frame.Table) []map[string]any {
	t.Helper()
	recs, err := tbl.Records(context.Background())
	require.NoError(t, err)
	return recs
}

func day(d int) time.Time {
	return time.Date(2023, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestOrders_RepairsTimelineInOrder(t *testing.T) {
	eng := newEngine(t)
	raw := query(t, eng, `SELECT * FROM (VALUES
		(1, 7, 'Shipped', '2023-01-05', '2023-01-01', '2023-01-04', '2023-01-04', 2)
	) AS v(order_id, user_id, status, created_at, shipped_at, delivered_at, returned_at, num_of_item)`)

	recs := records(t, Orders(raw))
	require.Len(t, recs, 1)
	for _, col := range []string{"created_at", "shipped_at", "delivered_at", "returned_at"} {
		ts, ok := recs[0][col].(time.Time)
		require.True(t, ok, col)
		assert.Equal(t, day(5), ts.UTC(), col)
	}
	assert.Equal(t, int32(1), recs[0]["order_id"])
	assert.Equal(t, int16(2), recs[0]["num_of_item"])
}

func TestRepairTimeline_KeepsNulls(t *testing.T) {
	eng := newEngine(t)
	raw := query(t, eng, `SELECT * FROM (VALUES
		(TIMESTAMP '2023-01-05', NULL::TIMESTAMP, TIMESTAMP '2023-01-02', NULL::TIMESTAMP)
	) AS v(created_at, shipped_at, delivered_at, returned_at)`)

	recs := records(t, RepairTimeline(raw))
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0]["shipped_at"])
	assert.Equal(t, day(2), recs[0]["delivered_at"].(time.Time).UTC())
	assert.Nil(t, recs[0]["returned_at"])
}

func TestUsers(t *testing.T) {
	eng := newEngine(t)
	raw := query(t, eng, `SELECT * FROM (VALUES
		(1, -34, NULL, NULL, 'Recife', 'Brasil', 'Search', 95.5::DOUBLE, -200.0::DOUBLE),
		(2, NULL, 'F', 'SP', NULL, NULL, NULL, NULL::DOUBLE, 10.0::DOUBLE)
	) AS v(id, age, gender, state, city, country, traffic_source, latitude, longitude)`)

	out := Users(raw)
	assert.Equal(t, "context_summary", out.Columns()[len(out.Columns())-1])

	recs := records(t, out.Filter(frame.Col("id").Eq(1)))
	require.Len(t, recs, 1)
	first := recs[0]
	assert.Equal(t, int16(34), first["age"])
	assert.Equal(t, "Others", first["gender"])
	assert.Equal(t, "Unknown", first["state"])
	assert.Equal(t, 90.0, first["latitude"])
	assert.Equal(t, -180.0, first["longitude"])
	assert.Equal(t,
		"User profile: Others, 34 years old, located_in Recife, Unknown, Brasil. Acquired via Search.",
		first["context_summary"])

	recs = records(t, out.Filter(frame.Col("id").Eq(2)))
	require.Len(t, recs, 1)
	second := recs[0]
	assert.Equal(t, int16(0), second["age"])
	assert.Equal(t, 0.0, second["latitude"])
	assert.Equal(t,
		"User profile: F, 0 years old, located_in Unknown, SP, Unknown. Acquired via Unknown.",
		second["context_summary"])
}

func TestDistributionCenters_ClipOnly(t *testing.T) {
	eng := newEngine(t)
	raw := query(t, eng, `SELECT * FROM (VALUES
		(1, 'Memphis TN', 91.0::DOUBLE, NULL::DOUBLE)
	) AS v(id, name, latitude, longitude)`)

	recs := records(t, DistributionCenters(raw))
	require.Len(t, recs, 1)
	assert.Equal(t, 90.0, recs[0]["latitude"])
	assert.Nil(t, recs[0]["longitude"])
}

func TestProducts_RoundsMoney(t *testing.T) {
	eng := newEngine(t)
	raw := query(t, eng, `SELECT * FROM (VALUES
		(1, -100.999::DOUBLE, -10.0::DOUBLE, NULL::VARCHAR, 'Tee', NULL::VARCHAR, 'Men', NULL::VARCHAR, 1)
	) AS v(id, cost, retail_price, category, name, brand, department, sku, distribution_center_id)`)

	out := Products(raw).Mutate(
		frame.Set("cost_text", frame.Col("cost").Cast(frame.String)),
		frame.Set("price_text", frame.Col("retail_price").Cast(frame.String)),
	)
	recs := records(t, out)
	require.Len(t, recs, 1)
	assert.Equal(t, "101.00", recs[0]["cost_text"])
	assert.Equal(t, "10.00", recs[0]["price_text"])
	assert.Equal(t, "Unknown", recs[0]["category"])
	assert.Equal(t, "Unknown", recs[0]["sku"])
	assert.Equal(t, int16(1), recs[0]["distribution_center_id"])
}

func TestOrderItems_DefaultsStatus(t *testing.T) {
	eng := newEngine(t)
	raw := query(t, eng, `SELECT * FROM (VALUES
		(1, 10, 7, 3, 4, NULL::VARCHAR, '2023-01-02', NULL, NULL, NULL, 12.5::DOUBLE)
	) AS v(id, order_id, user_id, product_id, inventory_item_id, status, created_at, shipped_at, delivered_at, returned_at, sale_price)`)

	recs := records(t, OrderItems(raw))
	require.Len(t, recs, 1)
	assert.Equal(t, "Processing", recs[0]["status"])
	assert.Equal(t, day(2), recs[0]["created_at"].(time.Time).UTC())
	assert.Nil(t, recs[0]["shipped_at"])
}

func TestEvents_DerivesVisitorType(t *testing.T) {
	eng := newEngine(t)
	raw := query(t, eng, `SELECT * FROM (VALUES
		(1, 7, 1, 'abc', '2023-01-02 10:00:00', 'Recife', 'PE', 'Chrome', 'Email', 'home'),
		(2, NULL, 2, NULL, '2023-01-02 10:05:00', NULL, NULL, NULL, NULL, NULL)
	) AS v(id, user_id, sequence_number, session_id, created_at, city, state, browser, traffic_source, event_type)`)

	out := Events(raw)
	assert.Contains(t, out.Columns(), "visitor_type")

	recs := records(t, out.Filter(frame.Col("id").Eq(1)))
	require.Len(t, recs, 1)
	assert.Equal(t, "Registered", recs[0]["visitor_type"])

	recs = records(t, out.Filter(frame.Col("id").Eq(2)))
	require.Len(t, recs, 1)
	assert.Equal(t, "Guest", recs[0]["visitor_type"])
	assert.Equal(t, "Unknown", recs[0]["session_id"])
}

func TestTransforms_IdempotentOnCleanInput(t *testing.T) {
	eng := newEngine(t)
	tests := []struct {
		name string
		fn   Func
		raw  string
	}{
		{
			name: "users",
			fn:   Users,
			raw: `SELECT * FROM (VALUES (1, 30, 'F', 'SP', 'Santos', 'Brasil', 'Search', 10.0::DOUBLE, 20.0::DOUBLE))
				AS v(id, age, gender, state, city, country, traffic_source, latitude, longitude)`,
		},
		{
			name: "orders",
			fn:   Orders,
			raw: `SELECT * FROM (VALUES (1, 7, 'Complete', TIMESTAMP '2023-01-01', TIMESTAMP '2023-01-02', TIMESTAMP '2023-01-03', NULL::TIMESTAMP, 1))
				AS v(order_id, user_id, status, created_at, shipped_at, delivered_at, returned_at, num_of_item)`,
		},
		{
			name: "distribution_centers",
			fn:   DistributionCenters,
			raw:  `SELECT * FROM (VALUES (1, 'Memphis TN', 35.1::DOUBLE, -90.0::DOUBLE)) AS v(id, name, latitude, longitude)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := tt.fn(query(t, eng, tt.raw))
			twice := tt.fn(once)
			assert.Equal(t, once.Columns(), twice.Columns())
			assert.Equal(t, records(t, once), records(t, twice))
		})
	}
}

func TestRegistry_CoversEveryEntity(t *testing.T) {
	for _, entity := range core.Entities {
		_, ok := Registry[entity]
		assert.True(t, ok, entity)
	}
}
