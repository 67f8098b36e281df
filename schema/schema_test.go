package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidSchema(t *testing.T) {
	rt := RecordType{Name: "product", PrimaryKey: Field{Path: "sku"}}
	idx := Index{
		Name:       "by_category",
		RecordType: "product",
		Kind:       IndexKindValue,
		KeyExpr:    Field{Path: "category"},
	}
	s, err := New([]RecordType{rt}, []Index{idx})
	require.NoError(t, err)

	got, ok := s.RecordType("product")
	assert.True(t, ok)
	assert.Equal(t, rt, got)

	idxs := s.IndexesFor("product")
	require.Len(t, idxs, 1)
	assert.Equal(t, "by_category", idxs[0].Name)
}

func TestNewRejectsDuplicateRecordType(t *testing.T) {
	rt := RecordType{Name: "product", PrimaryKey: Field{Path: "sku"}}
	_, err := New([]RecordType{rt, rt}, nil)
	assert.Error(t, err)
}

func TestNewRejectsIndexOnUnknownRecordType(t *testing.T) {
	idx := Index{Name: "bad", RecordType: "ghost", Kind: IndexKindValue, KeyExpr: Field{Path: "x"}}
	_, err := New(nil, []Index{idx})
	assert.Error(t, err)
}

func TestIndexValidate(t *testing.T) {
	t.Run("value index requires key expr", func(t *testing.T) {
		idx := Index{Name: "i", RecordType: "t", Kind: IndexKindValue}
		assert.Error(t, idx.Validate())
	})
	t.Run("count index requires grouping expr", func(t *testing.T) {
		idx := Index{Name: "i", RecordType: "t", Kind: IndexKindCount}
		assert.Error(t, idx.Validate())
	})
	t.Run("count index cannot be unique", func(t *testing.T) {
		idx := Index{Name: "i", RecordType: "t", Kind: IndexKindCount, GroupingExpr: Field{Path: "g"}, Unique: true}
		assert.Error(t, idx.Validate())
	})
	t.Run("sum index requires value expr", func(t *testing.T) {
		idx := Index{Name: "i", RecordType: "t", Kind: IndexKindSum, GroupingExpr: Field{Path: "g"}}
		assert.Error(t, idx.Validate())
	})
	t.Run("unknown kind rejected", func(t *testing.T) {
		idx := Index{Name: "i", RecordType: "t", Kind: "bogus"}
		assert.Error(t, idx.Validate())
	})
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
recordTypes:
  - name: product
    primaryKey: [sku]
indexes:
  - name: product_by_category
    recordType: product
    kind: value
    keyExpr: [category]
  - name: product_count_by_category
    recordType: product
    kind: count
    grouping: [category]
`)
	s, err := ParseYAML(doc)
	require.NoError(t, err)

	rt, ok := s.RecordType("product")
	require.True(t, ok)
	assert.Equal(t, Field{Path: "sku"}, rt.PrimaryKey)

	idx, ok := s.Index("product_by_category")
	require.True(t, ok)
	assert.Equal(t, IndexKindValue, idx.Kind)
	assert.Equal(t, Field{Path: "category"}, idx.KeyExpr)

	countIdx, ok := s.Index("product_count_by_category")
	require.True(t, ok)
	assert.Equal(t, IndexKindCount, countIdx.Kind)
}

func TestParseYAMLMultiFieldKeyExpr(t *testing.T) {
	doc := []byte(`
recordTypes:
  - name: event
    primaryKey: [tenant, id]
`)
	s, err := ParseYAML(doc)
	require.NoError(t, err)
	rt, ok := s.RecordType("event")
	require.True(t, ok)
	assert.Equal(t, 2, rt.PrimaryKey.Arity())
}
