package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acksell/recordlayer/typedvalue"
)

func TestKeyStability(t *testing.T) {
	a := FieldPredicate{Name: "x", Op: OpEq, Value: typedvalue.Int(1)}
	b := FieldPredicate{Name: "y", Op: OpEq, Value: typedvalue.Int(2)}

	and1 := And{Children: []Filter{a, b}}
	and2 := And{Children: []Filter{b, a}}
	assert.Equal(t, and1.Key(), and2.Key(), "And should be order-insensitive")

	or1 := Or{Children: []Filter{a, b}}
	or2 := Or{Children: []Filter{b, a}}
	assert.Equal(t, or1.Key(), or2.Key())
}

func TestKeyDistinguishesDistinctTrees(t *testing.T) {
	a := FieldPredicate{Name: "x", Op: OpEq, Value: typedvalue.Int(1)}
	b := FieldPredicate{Name: "x", Op: OpEq, Value: typedvalue.Int(2)}
	assert.NotEqual(t, a.Key(), b.Key())

	notA := Not{Child: a}
	assert.NotEqual(t, a.Key(), notA.Key())
}

func TestCountPredicates(t *testing.T) {
	a := FieldPredicate{Name: "x", Op: OpEq, Value: typedvalue.Int(1)}
	b := FieldPredicate{Name: "y", Op: OpEq, Value: typedvalue.Int(2)}
	c := FieldPredicate{Name: "z", Op: OpEq, Value: typedvalue.Int(3)}

	assert.Equal(t, 1, CountPredicates(a))
	assert.Equal(t, 2, CountPredicates(And{Children: []Filter{a, b}}))
	assert.Equal(t, 3, CountPredicates(Or{Children: []Filter{a, And{Children: []Filter{b, c}}}}))
	assert.Equal(t, 1, CountPredicates(Not{Child: a}))
	assert.Equal(t, 0, CountPredicates(nil))
}

func TestFields(t *testing.T) {
	a := FieldPredicate{Name: "x", Op: OpEq, Value: typedvalue.Int(1)}
	b := FieldPredicate{Name: "y", Op: OpEq, Value: typedvalue.Int(2)}
	tree := And{Children: []Filter{a, Not{Child: b}, a}}

	got := Fields(tree)
	assert.Equal(t, []string{"x", "y"}, got)
}

func TestNegateInvertsEachComparison(t *testing.T) {
	cases := map[Op]Op{
		OpEq:  OpNeq,
		OpNeq: OpEq,
		OpLt:  OpGte,
		OpLte: OpGt,
		OpGt:  OpLte,
		OpGte: OpLt,
	}
	for op, want := range cases {
		got, ok := Negate(op)
		assert.True(t, ok, "Negate(%s) should be representable", op)
		assert.Equal(t, want, got)
	}
}

func TestNegateRejectsStartsWith(t *testing.T) {
	_, ok := Negate(OpStartsWith)
	assert.False(t, ok)
}
