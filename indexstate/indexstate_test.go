package indexstate

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/recordlayer/errs"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/txn"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testManager(t *testing.T) (*badger.DB, *Manager) {
	t.Helper()
	db := openTestDB(t)
	ks := keyspace.New(nil)
	idx := schema.Index{
		Name:       "product_by_category",
		RecordType: "product",
		Kind:       schema.IndexKindValue,
		KeyExpr:    schema.Field{Path: "category"},
	}
	rt := schema.RecordType{Name: "product", PrimaryKey: schema.Field{Path: "sku"}}
	sch, err := schema.New([]schema.RecordType{rt}, []schema.Index{idx})
	require.NoError(t, err)
	return db, New(ks, sch)
}

func TestGetDefaultsToDisabled(t *testing.T) {
	db, m := testManager(t)
	err := txn.RunReadOnly(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		st, err := m.Get(tc, "product_by_category")
		require.NoError(t, err)
		assert.Equal(t, StateDisabled, st)
		return nil
	})
	require.NoError(t, err)
}

func TestTransitionFollowsAllowedPath(t *testing.T) {
	db, m := testManager(t)
	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		require.NoError(t, m.Transition(tc, "product_by_category", StateDisabled, StateWriteOnly))
		st, err := m.Get(tc, "product_by_category")
		require.NoError(t, err)
		assert.Equal(t, StateWriteOnly, st)

		require.NoError(t, m.Transition(tc, "product_by_category", StateWriteOnly, StateReadable))
		st, err = m.Get(tc, "product_by_category")
		require.NoError(t, err)
		assert.Equal(t, StateReadable, st)
		return nil
	})
	require.NoError(t, err)
}

func TestTransitionRejectsWrongFromState(t *testing.T) {
	db, m := testManager(t)
	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		err := m.Transition(tc, "product_by_category", StateWriteOnly, StateReadable)
		assert.ErrorIs(t, err, errs.ErrInvalidTransition)
		return nil
	})
	require.NoError(t, err)
}

func TestTransitionRejectsSkippingWriteOnly(t *testing.T) {
	db, m := testManager(t)
	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		// current state is disabled, but disabled -> readable isn't a legal edge.
		err := m.Transition(tc, "product_by_category", StateDisabled, StateReadable)
		assert.ErrorIs(t, err, errs.ErrInvalidTransition)
		return nil
	})
	require.NoError(t, err)
}

func TestTransitionToDisabledAlwaysAllowed(t *testing.T) {
	db, m := testManager(t)
	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		require.NoError(t, m.Transition(tc, "product_by_category", StateDisabled, StateWriteOnly))
		require.NoError(t, m.Transition(tc, "product_by_category", StateWriteOnly, StateDisabled))
		st, err := m.Get(tc, "product_by_category")
		require.NoError(t, err)
		assert.Equal(t, StateDisabled, st)
		return nil
	})
	require.NoError(t, err)
}

func TestWritableAndReadableIndexes(t *testing.T) {
	db, m := testManager(t)
	err := txn.Run(context.Background(), db, func(_ context.Context, tc *txn.Context) error {
		writable, err := m.WritableIndexes(tc, "product")
		require.NoError(t, err)
		assert.Empty(t, writable)

		require.NoError(t, m.Transition(tc, "product_by_category", StateDisabled, StateWriteOnly))
		writable, err = m.WritableIndexes(tc, "product")
		require.NoError(t, err)
		require.Len(t, writable, 1)

		readable, err := m.ReadableIndexes(tc, "product")
		require.NoError(t, err)
		assert.Empty(t, readable)

		require.NoError(t, m.Transition(tc, "product_by_category", StateWriteOnly, StateReadable))
		readable, err = m.ReadableIndexes(tc, "product")
		require.NoError(t, err)
		require.Len(t, readable, 1)
		assert.Equal(t, "product_by_category", readable[0].Name)
		return nil
	})
	require.NoError(t, err)
}
