// Package plan defines the candidate plan shapes the Plan Enumerator (C13,
// spec.md §4.9) produces and the Query Planner (C15) ultimately executes: a
// closed sum type {FullScan, IndexScan, Intersection, Union, Limit}, plus
// the op-to-range construction table of §4.9.
package plan

import (
	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/tuple"
)

// Plan is the closed set of plan node kinds.
type Plan interface {
	isPlan()
	// Fields returns the field names this plan node (and its children)
	// evaluate. The Intersection enumerator's distinct-field check reads
	// IndexScan.Field directly rather than calling Fields.
	Fields() []string
}

// FullScan reads every record of RecordType, applying Filter as a residual
// in-memory check over each decoded record.
type FullScan struct {
	RecordType string
	Filter     filter.Filter
}

func (FullScan) isPlan() {}
func (f FullScan) Fields() []string {
	if f.Filter == nil {
		return nil
	}
	return filter.Fields(f.Filter)
}

// IndexScan reads the [Lo, Hi) key range of Index, applying Residual (the
// predicates the index range doesn't already enforce) per matched record.
type IndexScan struct {
	Index    schema.Index
	Lo, Hi   []byte
	Residual filter.Filter
	// Field is the index's leading key field this scan was built from, kept
	// alongside Index for the Intersection enumerator's distinct-field
	// check without re-deriving it from Index.KeyExpr.
	Field string
	// Predicate is the FieldPredicate this scan's range was built from,
	// kept so the Cost Estimator can look up the matching index histogram
	// bucket directly instead of re-deriving it from Lo/Hi byte ranges.
	Predicate filter.FieldPredicate
}

func (IndexScan) isPlan() {}
func (s IndexScan) Fields() []string {
	out := []string{s.Field}
	if s.Residual != nil {
		out = append(out, filter.Fields(s.Residual)...)
	}
	return out
}

// Intersection merges two or more child plans on a common primary key
// order, keeping only records every child stream produces.
type Intersection struct {
	Children []Plan
}

func (Intersection) isPlan() {}
func (i Intersection) Fields() []string {
	var out []string
	for _, c := range i.Children {
		out = append(out, c.Fields()...)
	}
	return out
}

// Union merges two or more child plans, de-duplicating by primary key.
type Union struct {
	Children []Plan
}

func (Union) isPlan() {}
func (u Union) Fields() []string {
	var out []string
	for _, c := range u.Children {
		out = append(out, c.Fields()...)
	}
	return out
}

// Limit caps Child's output at N records.
type Limit struct {
	Child Plan
	N     int
}

func (Limit) isPlan() {}
func (l Limit) Fields() []string { return l.Child.Fields() }

// RangeFor implements the §4.9 op -> [lo, hi) table for a single field
// predicate's value.
func RangeFor(op filter.Op, value any) (lo, hi []byte, ok bool) {
	switch op {
	case filter.OpEq:
		t := tuple.Tuple{value}
		return t.Pack(), t.Next(), true
	case filter.OpNeq:
		// no single contiguous range excludes one value: scan the whole
		// index and let the residual filter reject the excluded value.
		return nil, nil, true
	case filter.OpLt:
		return nil, tuple.Tuple{value}.Pack(), true
	case filter.OpLte:
		return nil, tuple.Tuple{value}.Next(), true
	case filter.OpGt:
		return tuple.Tuple{value}.Next(), nil, true
	case filter.OpGte:
		return tuple.Tuple{value}.Pack(), nil, true
	case filter.OpStartsWith:
		s, ok := value.(string)
		if !ok {
			return nil, nil, false
		}
		lo, hi := tuple.StringPrefixRange(s)
		return lo, hi, true
	default:
		return nil, nil, false
	}
}
