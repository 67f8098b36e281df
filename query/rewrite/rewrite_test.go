package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/typedvalue"
)

func pred(name string, v int64) filter.FieldPredicate {
	return filter.FieldPredicate{Name: name, Op: filter.OpEq, Value: typedvalue.Int(v)}
}

func TestRewritePushesNotThroughAnd(t *testing.T) {
	a, b := pred("a", 1), pred("b", 2)
	f := filter.Not{Child: filter.And{Children: []filter.Filter{a, b}}}

	got := Rewrite(f, Config{})

	or, ok := got.(filter.Or)
	if assert.True(t, ok, "De Morgan's should turn Not(And) into Or") {
		assert.Len(t, or.Children, 2)
		for _, c := range or.Children {
			p, isPred := c.(filter.FieldPredicate)
			if assert.True(t, isPred, "Not(a=v) should collapse into the negated predicate a!=v") {
				assert.Equal(t, filter.OpNeq, p.Op)
			}
		}
	}
}

func TestRewriteEliminatesDoubleNegation(t *testing.T) {
	a := pred("a", 1)
	f := filter.Not{Child: filter.Not{Child: a}}

	got := Rewrite(f, Config{})
	assert.Equal(t, a.Key(), got.Key())
}

func TestRewriteFlattensNestedAnd(t *testing.T) {
	a, b, c := pred("a", 1), pred("b", 2), pred("c", 3)
	f := filter.And{Children: []filter.Filter{
		a,
		filter.And{Children: []filter.Filter{b, c}},
	}}

	got := Rewrite(f, Config{})
	and, ok := got.(filter.And)
	if assert.True(t, ok) {
		assert.Len(t, and.Children, 3)
	}
}

func TestRewriteDedupesIdenticalChildren(t *testing.T) {
	a := pred("a", 1)
	f := filter.And{Children: []filter.Filter{a, a, a}}

	got := Rewrite(f, Config{})
	and, ok := got.(filter.And)
	if assert.True(t, ok) {
		assert.Len(t, and.Children, 1)
	}
}

func TestRewriteDistributesBoundedDNF(t *testing.T) {
	a, b, c := pred("a", 1), pred("b", 2), pred("c", 3)
	f := filter.And{Children: []filter.Filter{
		a,
		filter.Or{Children: []filter.Filter{b, c}},
	}}

	got := Rewrite(f, Config{})
	or, ok := got.(filter.Or)
	if assert.True(t, ok, "And(a, Or(b,c)) should distribute to Or(And(a,b), And(a,c))") {
		assert.Len(t, or.Children, 2)
	}
}

func TestRewriteSkipsDistributionPastMaxDNFTerms(t *testing.T) {
	a := pred("a", 1)
	or1 := filter.Or{Children: []filter.Filter{pred("b", 1), pred("b", 2), pred("b", 3)}}
	or2 := filter.Or{Children: []filter.Filter{pred("c", 1), pred("c", 2), pred("c", 3)}}
	// termCount = 3*3 = 9, above a MaxDNFTerms of 4: distribution must be skipped.
	f := filter.And{Children: []filter.Filter{a, or1, or2}}

	got := Rewrite(f, Config{MaxDNFTerms: 4})
	_, isAnd := got.(filter.And)
	assert.True(t, isAnd, "should remain an And, not distribute past the term cap")
}

func TestRewritePushesNotThroughOrIntoNeqPredicates(t *testing.T) {
	status := filter.FieldPredicate{Name: "status", Op: filter.OpEq, Value: typedvalue.String("inactive")}
	deleted := filter.FieldPredicate{Name: "deleted", Op: filter.OpEq, Value: typedvalue.Bool(true)}
	f := filter.Not{Child: filter.Or{Children: []filter.Filter{status, deleted}}}

	got := Rewrite(f, Config{})

	and, ok := got.(filter.And)
	if !assert.True(t, ok, "De Morgan's should turn Not(Or) into And") {
		return
	}
	if !assert.Len(t, and.Children, 2) {
		return
	}
	for _, c := range and.Children {
		fp, ok := c.(filter.FieldPredicate)
		if assert.True(t, ok, "negated equality should collapse to a bare != predicate, not stay wrapped in Not") {
			assert.Equal(t, filter.OpNeq, fp.Op)
		}
	}
}

func TestRewriteLeavesStartsWithWrappedInNot(t *testing.T) {
	p := filter.FieldPredicate{Name: "name", Op: filter.OpStartsWith, Value: typedvalue.String("abc")}
	f := filter.Not{Child: p}

	got := Rewrite(f, Config{})

	not, ok := got.(filter.Not)
	if assert.True(t, ok, "startsWith has no single-range negation, so it stays wrapped") {
		assert.Equal(t, p.Key(), not.Child.Key())
	}
}

func TestRewriteIsIdempotent(t *testing.T) {
	a, b := pred("a", 1), pred("b", 2)
	f := filter.And{Children: []filter.Filter{a, b}}

	once := Rewrite(f, Config{})
	twice := Rewrite(once, Config{})
	assert.Equal(t, once.Key(), twice.Key())
}
