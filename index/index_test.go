package index

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/recordlayer/codec/gobcodec"
	"github.com/acksell/recordlayer/errs"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/txn"
)

type product struct {
	SKU      string `recordlayer:"sku"`
	Category string `recordlayer:"category"`
	Price    int64  `recordlayer:"price"`
}

func testMaintainer(t *testing.T) (*badger.DB, *Maintainer, *gobcodec.Codec) {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks := keyspace.New(nil)
	c := gobcodec.New()
	require.NoError(t, c.Register("product", product{}, "sku"))
	return db, New(ks, c), c
}

func TestValueIndexUpdateInsertAndDelete(t *testing.T) {
	db, m, _ := testMaintainer(t)
	idx := schema.Index{Name: "by_category", RecordType: "product", Kind: schema.IndexKindValue, KeyExpr: schema.Field{Path: "category"}}

	p := product{SKU: "sku-1", Category: "tools"}
	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		return m.Update(tc, idx, "product", nil, p)
	})
	require.NoError(t, err)

	err = txn.RunReadOnly(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		opts := badger.DefaultIteratorOptions
		it := tc.Txn().NewIterator(opts)
		defer it.Close()
		count := 0
		prefix := m.sub.Bytes()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		assert.Equal(t, 1, count)
		return nil
	})
	require.NoError(t, err)

	// deleting: oldRecord=p, newRecord=nil removes the entry.
	err = txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		return m.Update(tc, idx, "product", p, nil)
	})
	require.NoError(t, err)

	err = txn.RunReadOnly(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		opts := badger.DefaultIteratorOptions
		it := tc.Txn().NewIterator(opts)
		defer it.Close()
		count := 0
		prefix := m.sub.Bytes()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		assert.Equal(t, 0, count)
		return nil
	})
	require.NoError(t, err)
}

func TestValueIndexSkipsNullKey(t *testing.T) {
	db, m, _ := testMaintainer(t)
	// product has no "color" field, so the key expression evaluates to null.
	idx := schema.Index{Name: "by_color", RecordType: "product", Kind: schema.IndexKindValue, KeyExpr: schema.Field{Path: "color"}}

	p := product{SKU: "sku-1", Category: "tools"}
	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		return m.Update(tc, idx, "product", nil, p)
	})
	require.NoError(t, err)

	err = txn.RunReadOnly(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		opts := badger.DefaultIteratorOptions
		it := tc.Txn().NewIterator(opts)
		defer it.Close()
		count := 0
		prefix := m.sub.Bytes()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		assert.Equal(t, 0, count, "a null key must not produce an index entry")
		return nil
	})
	require.NoError(t, err)
}

func TestUniqueValueIndexRejectsDuplicate(t *testing.T) {
	db, m, _ := testMaintainer(t)
	idx := schema.Index{Name: "by_category_unique", RecordType: "product", Kind: schema.IndexKindValue, KeyExpr: schema.Field{Path: "category"}, Unique: true}

	p1 := product{SKU: "sku-1", Category: "tools"}
	p2 := product{SKU: "sku-2", Category: "tools"}

	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		return m.Update(tc, idx, "product", nil, p1)
	})
	require.NoError(t, err)

	err = txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		return m.Update(tc, idx, "product", nil, p2)
	})
	var uv *errs.UniqueViolation
	assert.ErrorAs(t, err, &uv)
}

func TestCountIndexTracksGroupCardinality(t *testing.T) {
	db, m, _ := testMaintainer(t)
	idx := schema.Index{Name: "count_by_category", RecordType: "product", Kind: schema.IndexKindCount, GroupingExpr: schema.Field{Path: "category"}}

	p1 := product{SKU: "sku-1", Category: "tools"}
	p2 := product{SKU: "sku-2", Category: "tools"}

	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		if err := m.Update(tc, idx, "product", nil, p1); err != nil {
			return err
		}
		return m.Update(tc, idx, "product", nil, p2)
	})
	require.NoError(t, err)

	err = txn.RunReadOnly(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		v, err := m.ValueAt(tc, "count_by_category", tuple.Tuple{"tools"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
		return nil
	})
	require.NoError(t, err)

	// removing one record decrements the group count.
	err = txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		return m.Update(tc, idx, "product", p1, nil)
	})
	require.NoError(t, err)

	err = txn.RunReadOnly(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		v, err := m.ValueAt(tc, "count_by_category", tuple.Tuple{"tools"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
		return nil
	})
	require.NoError(t, err)
}

func TestSumIndexAccumulatesValue(t *testing.T) {
	db, m, _ := testMaintainer(t)
	idx := schema.Index{
		Name:         "sum_price_by_category",
		RecordType:   "product",
		Kind:         schema.IndexKindSum,
		GroupingExpr: schema.Field{Path: "category"},
		ValueExpr:    schema.Field{Path: "price"},
	}

	p1 := product{SKU: "sku-1", Category: "tools", Price: 100}
	p2 := product{SKU: "sku-2", Category: "tools", Price: 250}

	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		if err := m.Update(tc, idx, "product", nil, p1); err != nil {
			return err
		}
		return m.Update(tc, idx, "product", nil, p2)
	})
	require.NoError(t, err)

	err = txn.RunReadOnly(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		v, err := m.ValueAt(tc, "sum_price_by_category", tuple.Tuple{"tools"})
		require.NoError(t, err)
		assert.Equal(t, int64(350), v)
		return nil
	})
	require.NoError(t, err)
}

func TestValueAtDefaultsToZero(t *testing.T) {
	db, m, _ := testMaintainer(t)
	err := txn.RunReadOnly(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		v, err := m.ValueAt(tc, "nonexistent", tuple.Tuple{"x"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), v)
		return nil
	})
	require.NoError(t, err)
}
