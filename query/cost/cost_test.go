package cost

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/acksell/recordlayer/codec/gobcodec"
	"github.com/acksell/recordlayer/index"
	"github.com/acksell/recordlayer/indexstate"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/query/plan"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/stats"
	"github.com/acksell/recordlayer/store"
	"github.com/acksell/recordlayer/txn"
	"github.com/acksell/recordlayer/typedvalue"
)

type widget struct {
	SKU      string `recordlayer:"sku"`
	Category string `recordlayer:"category"`
}

// buildStats opens an in-memory store populated with n widgets spread
// across categories "a" and "b", builds a readable widget_by_category
// value index, and returns a fully collected *stats.Manager.
func buildStats(t *testing.T, n int) *stats.Manager {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks := keyspace.New(nil)
	rt := schema.RecordType{Name: "widget", PrimaryKey: schema.Field{Path: "sku"}}
	idx := schema.Index{
		Name:       "widget_by_category",
		RecordType: "widget",
		Kind:       schema.IndexKindValue,
		KeyExpr:    schema.Field{Path: "category"},
	}
	sch, err := schema.New([]schema.RecordType{rt}, []schema.Index{idx})
	require.NoError(t, err)

	c := gobcodec.New()
	require.NoError(t, c.Register("widget", widget{}, "sku"))

	states := indexstate.New(ks, sch)
	maintainer := index.New(ks, c)
	st := store.New(ks, sch, c, states, maintainer)

	ctx := context.Background()
	require.NoError(t, txn.Run(ctx, db, func(_ context.Context, tc *txn.Context) error {
		if err := states.Transition(tc, "widget_by_category", indexstate.StateDisabled, indexstate.StateWriteOnly); err != nil {
			return err
		}
		return states.Transition(tc, "widget_by_category", indexstate.StateWriteOnly, indexstate.StateReadable)
	}))

	for i := 0; i < n; i++ {
		cat := "a"
		if i%2 == 0 {
			cat = "b"
		}
		w := widget{SKU: skuFor(i), Category: cat}
		require.NoError(t, txn.Run(ctx, db, func(_ context.Context, tc *txn.Context) error {
			return st.Save(tc, "widget", w)
		}))
	}

	m := stats.New(db, st, nil)
	_, err = m.CollectTableStats(ctx, "widget", 1.0)
	require.NoError(t, err)
	_, err = m.CollectIndexStats(ctx, idx, 10)
	require.NoError(t, err)
	return m
}

func skuFor(i int) string {
	digits := "0123456789"
	return "sku-" + string(digits[i%10]) + string(digits[(i/10)%10])
}

func TestEstimateFullScanScalesWithRowCount(t *testing.T) {
	m := buildStats(t, 20)
	c := Estimate(plan.FullScan{RecordType: "widget"}, m, "widget")
	require.Equal(t, float64(20), c.Rows)
	require.Greater(t, c.IO, 0.0)
	require.Greater(t, c.Total, 0.0)
}

func TestEstimateIndexScanCheaperThanFullScan(t *testing.T) {
	m := buildStats(t, 20)
	full := Estimate(plan.FullScan{RecordType: "widget"}, m, "widget")
	scan := Estimate(plan.IndexScan{
		Predicate: filter.FieldPredicate{Name: "category", Op: filter.OpEq, Value: typedvalue.String("a")},
	}, m, "widget")
	require.Less(t, scan.Total, full.Total)
}

func TestEstimateMissingStatsUsesSentinel(t *testing.T) {
	m := stats.New(mustOpenDB(t), store.New(keyspace.New(nil), mustSchema(t), gobcodec.New(), nil, nil), nil)
	c := Estimate(plan.FullScan{RecordType: "ghost"}, m, "ghost")
	require.Equal(t, largeSentinel, c.Rows)
}

func TestEstimateIntersectionCombinesChildren(t *testing.T) {
	m := buildStats(t, 20)
	a := plan.IndexScan{Predicate: filter.FieldPredicate{Name: "category", Op: filter.OpEq, Value: typedvalue.String("a")}}
	b := plan.IndexScan{Predicate: filter.FieldPredicate{Name: "category", Op: filter.OpEq, Value: typedvalue.String("b")}}
	c := Estimate(plan.Intersection{Children: []plan.Plan{a, b}}, m, "widget")
	require.GreaterOrEqual(t, c.IO, 0.0)
}

func TestEstimateLimitScalesDownCost(t *testing.T) {
	m := buildStats(t, 20)
	full := Estimate(plan.FullScan{RecordType: "widget"}, m, "widget")
	limited := Estimate(plan.Limit{Child: plan.FullScan{RecordType: "widget"}, N: 1}, m, "widget")
	require.Less(t, limited.Total, full.Total)
}

func TestRankOrdersByTotalThenRowsThenIO(t *testing.T) {
	candidates := []plan.Plan{plan.FullScan{}, plan.FullScan{}, plan.FullScan{}}
	costs := []Cost{
		{Total: 3, Rows: 1, IO: 1},
		{Total: 1, Rows: 5, IO: 5},
		{Total: 1, Rows: 5, IO: 2},
	}
	order := Rank(candidates, costs)
	require.Equal(t, []int{2, 1, 0}, order)
}

func mustOpenDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustSchema(t *testing.T) *schema.Schema {
	t.Helper()
	rt := schema.RecordType{Name: "ghost", PrimaryKey: schema.Field{Path: "id"}}
	sch, err := schema.New([]schema.RecordType{rt}, nil)
	require.NoError(t, err)
	return sch
}
