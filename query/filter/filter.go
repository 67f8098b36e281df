// Package filter defines the query filter tree the Query Rewriter,
// Statistics Manager, and Plan Enumerator all operate on: a closed sum type
// over {And, Or, Not, Field(name, op, value)} (spec.md §4.7).
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/acksell/recordlayer/typedvalue"
)

// Op is one of the comparison operators a Field predicate supports.
type Op string

const (
	OpEq         Op = "="
	OpNeq        Op = "!="
	OpLt         Op = "<"
	OpLte        Op = "<="
	OpGt         Op = ">"
	OpGte        Op = ">="
	OpStartsWith Op = "startsWith"
)

// Negate returns the operator expressing "not (field op value)" as a single
// comparison, when one exists. Every op is invertible this way except
// startsWith, which has no single contiguous range for its complement.
func Negate(op Op) (Op, bool) {
	switch op {
	case OpEq:
		return OpNeq, true
	case OpNeq:
		return OpEq, true
	case OpLt:
		return OpGte, true
	case OpLte:
		return OpGt, true
	case OpGt:
		return OpLte, true
	case OpGte:
		return OpLt, true
	default:
		return "", false
	}
}

// Filter is the closed set of filter-tree node kinds.
type Filter interface {
	isFilter()
	// Key renders a stable, canonical string for this node, used by the
	// Plan Cache (spec.md §4.10): And/Or children are sorted lexicographically
	// before joining so equivalent trees with differently ordered children
	// collapse to the same key.
	Key() string
}

// FieldPredicate is a leaf: name op value.
type FieldPredicate struct {
	Name  string
	Op    Op
	Value typedvalue.Value
}

func (FieldPredicate) isFilter() {}

func (f FieldPredicate) Key() string {
	return fmt.Sprintf("field(%s,%s,%s:%s)", f.Name, f.Op, f.Value.Kind, f.Value.String())
}

// And is a conjunction of children.
type And struct{ Children []Filter }

func (And) isFilter() {}

func (a And) Key() string { return joinSorted("and", a.Children) }

// Or is a disjunction of children.
type Or struct{ Children []Filter }

func (Or) isFilter() {}

func (o Or) Key() string { return joinSorted("or", o.Children) }

// Not negates a single child.
type Not struct{ Child Filter }

func (Not) isFilter() {}

func (n Not) Key() string { return "not(" + n.Child.Key() + ")" }

func joinSorted(kind string, children []Filter) string {
	keys := make([]string, len(children))
	for i, c := range children {
		keys[i] = c.Key()
	}
	sort.Strings(keys)
	return kind + "(" + strings.Join(keys, ",") + ")"
}

// CountPredicates returns the number of FieldPredicate leaves in a filter
// tree, the unit the Cost Estimator's cpu_filter_cost term counts against
// (spec.md §4.8).
func CountPredicates(f Filter) int {
	if f == nil {
		return 0
	}
	switch n := f.(type) {
	case FieldPredicate:
		return 1
	case And:
		total := 0
		for _, c := range n.Children {
			total += CountPredicates(c)
		}
		return total
	case Or:
		total := 0
		for _, c := range n.Children {
			total += CountPredicates(c)
		}
		return total
	case Not:
		return CountPredicates(n.Child)
	default:
		return 0
	}
}

// Fields returns the set of distinct field names a filter tree references.
func Fields(f Filter) []string {
	seen := map[string]bool{}
	var walk func(Filter)
	walk = func(f Filter) {
		switch n := f.(type) {
		case FieldPredicate:
			seen[n.Name] = true
		case And:
			for _, c := range n.Children {
				walk(c)
			}
		case Or:
			for _, c := range n.Children {
				walk(c)
			}
		case Not:
			walk(n.Child)
		}
	}
	walk(f)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
