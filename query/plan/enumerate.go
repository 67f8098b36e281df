package plan

import (
	"sort"

	"github.com/acksell/recordlayer/indexstate"
	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/stats"
	"github.com/acksell/recordlayer/txn"
)

// CostFn ranks a candidate plan for bestOf's per-disjunct selection. The
// plan package can't import query/cost directly (cost imports plan), so the
// caller — query/planner, which sees both — supplies cost.Estimate(...).Total
// bound to its own stats.Manager and record type. A nil CostFn falls back to
// keeping the first candidate (FullScan, since Enumerate always prepends it).
type CostFn func(Plan) float64

// Enumerate produces the candidate plans of spec.md §4.9 for a (rewritten)
// filter over recordType, restricted to the schema's currently `readable`
// indexes. st is optional: when non-nil it's used only to prioritize which
// index scans survive the maxCandidates cap (highest selectivity first);
// when nil, candidates are kept in generation order up to the cap. rank, when
// non-nil, is used to pick the cheapest plan per Or disjunct (see bestOf).
func Enumerate(tc *txn.Context, sch *schema.Schema, states *indexstate.Manager, st *stats.Manager, recordType string, f filter.Filter, maxCandidates int, rank CostFn) ([]Plan, error) {
	readable, err := states.ReadableIndexes(tc, recordType)
	if err != nil {
		return nil, err
	}
	var valueIndexes []schema.Index
	for _, idx := range readable {
		if idx.Kind == schema.IndexKindValue {
			valueIndexes = append(valueIndexes, idx)
		}
	}

	candidates := []Plan{FullScan{RecordType: recordType, Filter: f}}

	leaves, isTopAnd := topLevelPredicates(f)
	scans := indexScansFor(valueIndexes, leaves, f, isTopAnd)
	candidates = append(candidates, scans...)

	if isTopAnd && len(scans) >= 2 {
		distinct := distinctByField(scans)
		if len(distinct) >= 2 {
			children := make([]Plan, len(distinct))
			for i, s := range distinct {
				children[i] = s
			}
			candidates = append(candidates, Intersection{Children: children})
		}
	}

	if or, ok := f.(filter.Or); ok {
		children := make([]Plan, len(or.Children))
		for i, disjunct := range or.Children {
			sub, err := Enumerate(tc, sch, states, st, recordType, disjunct, maxCandidates, rank)
			if err != nil {
				return nil, err
			}
			children[i] = bestOf(sub, rank, recordType)
		}
		candidates = append(candidates, Union{Children: children})
	}

	return cap_(candidates, st, recordType, maxCandidates), nil
}

// topLevelPredicates returns the FieldPredicate leaves directly reachable
// from f's top level: f itself if it's a bare predicate, or its children if
// f is a top-level And. The second return reports whether f was an And
// (needed by the caller to decide whether Intersection is eligible).
// A child already rewritten to a bare predicate is used directly;
// asNegatedPredicate additionally covers a Not{FieldPredicate} that reached
// Enumerate without going through the Query Rewriter first.
func topLevelPredicates(f filter.Filter) ([]filter.FieldPredicate, bool) {
	switch n := f.(type) {
	case filter.FieldPredicate:
		return []filter.FieldPredicate{n}, false
	case filter.And:
		var out []filter.FieldPredicate
		for _, c := range n.Children {
			if fp, ok := c.(filter.FieldPredicate); ok {
				out = append(out, fp)
			} else if fp, ok := asNegatedPredicate(c); ok {
				out = append(out, fp)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// asNegatedPredicate turns Not{FieldPredicate{Op}} into a bare
// FieldPredicate with the negated Op, when Op is invertible as a single
// comparison (see filter.Negate).
func asNegatedPredicate(f filter.Filter) (filter.FieldPredicate, bool) {
	n, ok := f.(filter.Not)
	if !ok {
		return filter.FieldPredicate{}, false
	}
	fp, ok := n.Child.(filter.FieldPredicate)
	if !ok {
		return filter.FieldPredicate{}, false
	}
	negated, ok := filter.Negate(fp.Op)
	if !ok {
		return filter.FieldPredicate{}, false
	}
	return filter.FieldPredicate{Name: fp.Name, Op: negated, Value: fp.Value}, true
}

func indexScansFor(indexes []schema.Index, leaves []filter.FieldPredicate, whole filter.Filter, isTopAnd bool) []Plan {
	var out []Plan
	for _, leaf := range leaves {
		for _, idx := range indexes {
			lead, ok := idx.KeyExpr.LeadingField()
			if !ok || lead != leaf.Name {
				continue
			}
			lo, hi, ok := RangeFor(leaf.Op, leaf.Value.TupleElement())
			if !ok {
				continue
			}
			out = append(out, IndexScan{
				Index:     idx,
				Lo:        lo,
				Hi:        hi,
				Residual:  residualExcluding(whole, isTopAnd, leaf, rangeIsExact(leaf.Op)),
				Field:     leaf.Name,
				Predicate: leaf,
			})
		}
	}
	return out
}

// rangeIsExact reports whether RangeFor(op, ...)'s [lo, hi) range alone
// enforces op's condition, so the leaf predicate can be dropped from the
// residual. OpNeq's range spans the whole index (no single contiguous range
// excludes one value), so its leaf must stay in the residual.
func rangeIsExact(op filter.Op) bool {
	return op != filter.OpNeq
}

// residualExcluding returns the remaining predicates a filter enforces once
// leaf's condition has been satisfied by an index range: nil for a bare
// predicate fully handled by the index, leaf itself for a bare predicate
// whose range isn't exact, or the conjunction of the other top-level And
// children (plus leaf, if its own range isn't exact).
func residualExcluding(whole filter.Filter, isTopAnd bool, leaf filter.FieldPredicate, exact bool) filter.Filter {
	if !isTopAnd {
		if exact {
			return nil
		}
		return leaf
	}
	and := whole.(filter.And)
	var rest []filter.Filter
	skipped := false
	for _, c := range and.Children {
		if exact && !skipped {
			if fp, ok := c.(filter.FieldPredicate); ok && fp.Key() == leaf.Key() {
				skipped = true
				continue
			}
			if np, ok := asNegatedPredicate(c); ok && np.Key() == leaf.Key() {
				skipped = true
				continue
			}
		}
		rest = append(rest, c)
	}
	if len(rest) == 0 {
		return nil
	}
	if len(rest) == 1 {
		return rest[0]
	}
	return filter.And{Children: rest}
}

// distinctByField keeps at most one IndexScan per distinct leading field,
// per spec.md §4.9's "index scans that cover distinct fields" requirement
// for Intersection eligibility.
func distinctByField(scans []Plan) []IndexScan {
	seen := map[string]bool{}
	var out []IndexScan
	for _, p := range scans {
		s, ok := p.(IndexScan)
		if !ok || seen[s.Field] {
			continue
		}
		seen[s.Field] = true
		out = append(out, s)
	}
	return out
}

// bestOf picks the lowest-cost plan among sub via rank (the caller's
// cost.Estimate binding), falling back to the first candidate — FullScan,
// since Enumerate always prepends it — when rank is nil.
func bestOf(sub []Plan, rank CostFn, recordType string) Plan {
	if len(sub) == 0 {
		return FullScan{RecordType: recordType}
	}
	if rank == nil {
		return sub[0]
	}
	best := sub[0]
	bestCost := rank(best)
	for _, p := range sub[1:] {
		if c := rank(p); c < bestCost {
			best, bestCost = p, c
		}
	}
	return best
}

// cap_ truncates candidates to maxCandidates: non-IndexScan plans (FullScan,
// Intersection, Union) are placed first in their original order, followed by
// the IndexScan candidates in ascending-selectivity order (spec.md §4.9,
// "prioritizing index scans on the highest-selectivity index first"), and
// the combined list is cut at maxCandidates, which can drop an Intersection
// or Union as well as IndexScans.
func cap_(candidates []Plan, st *stats.Manager, recordType string, maxCandidates int) []Plan {
	if maxCandidates <= 0 || len(candidates) <= maxCandidates {
		return candidates
	}
	var other, scans []Plan
	for _, c := range candidates {
		if s, ok := c.(IndexScan); ok {
			scans = append(scans, s)
		} else {
			other = append(other, c)
		}
	}
	if st != nil {
		sort.SliceStable(scans, func(i, j int) bool {
			si, sj := scans[i].(IndexScan), scans[j].(IndexScan)
			seli, _ := st.Selectivity(si.Predicate, recordType)
			selj, _ := st.Selectivity(sj.Predicate, recordType)
			return seli < selj
		})
	}
	out := append([]Plan{}, other...)
	remaining := maxCandidates - len(out)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > len(scans) {
		remaining = len(scans)
	}
	out = append(out, scans[:remaining]...)
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}
