// Package cost implements the Cost Estimator (spec.md §4.8/C12): a pure
// function from a candidate plan plus cached statistics to an estimated
// {rows, io, cpu, total} cost, used by the Query Planner to pick among
// enumerated candidates.
package cost

import (
	"sort"

	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/query/plan"
	"github.com/acksell/recordlayer/stats"
)

// Baseline constants from spec.md §4.8, fixed for a given process lifetime.
const (
	IOReadCost         = 1.0
	CPUDeserializeCost = 0.1
	CPUFilterCost      = 0.05
)

// Cost is the estimated resource consumption of running a plan.
type Cost struct {
	Rows  float64
	IO    float64
	CPU   float64
	Total float64
}

// largeSentinel replaces an unbounded (infinite) estimate so plans remain
// totally ordered by cost (spec.md §4.8, "safe arithmetic").
const largeSentinel = 1e18

// Estimate computes plan's cost against recordType's cached statistics.
// filter.CountPredicates(f) is the number of predicate evaluations a
// residual filter f requires, used for the cpu_filter_cost term.
func Estimate(p plan.Plan, st *stats.Manager, recordType string) Cost {
	switch n := p.(type) {
	case plan.FullScan:
		return estimateFullScan(n, st, recordType)
	case plan.IndexScan:
		return estimateIndexScan(n, st, recordType)
	case plan.Intersection:
		return estimateIntersection(n, st, recordType)
	case plan.Union:
		return estimateUnion(n, st, recordType)
	case plan.Limit:
		return estimateLimit(n, st, recordType)
	default:
		return Cost{Rows: largeSentinel, IO: largeSentinel, CPU: largeSentinel, Total: largeSentinel}
	}
}

func tableRows(st *stats.Manager, recordType string) float64 {
	ts, ok := st.TableStatsFor(recordType)
	if !ok || ts.RowCount <= 0 {
		return largeSentinel
	}
	return float64(ts.RowCount)
}

func total(io, cpu float64) float64 {
	return io + 0.1*cpu
}

// selectivityForFilter delegates to the Statistics Manager, treating a nil
// filter (no residual predicates left) as fully selective.
func selectivityForFilter(st *stats.Manager, f filter.Filter, recordType string) float64 {
	if f == nil {
		return 1
	}
	sel, err := st.Selectivity(f, recordType)
	if err != nil {
		return 1
	}
	return sel
}

func estimateFullScan(n plan.FullScan, st *stats.Manager, recordType string) Cost {
	rows := tableRows(st, recordType)
	sel := selectivityForFilter(st, n.Filter, recordType)
	io := rows * IOReadCost
	predicates := float64(filter.CountPredicates(n.Filter))
	cpu := rows * (CPUDeserializeCost + predicates*CPUFilterCost)
	return Cost{Rows: rows * sel, IO: io, CPU: cpu, Total: total(io, cpu)}
}

func estimateIndexScan(n plan.IndexScan, st *stats.Manager, recordType string) Cost {
	rows := tableRows(st, recordType)
	selIndex := selectivityForFilter(st, n.Predicate, recordType)
	selResidual := selectivityForFilter(st, n.Residual, recordType)
	matches := rows * selIndex * selResidual
	const covering = false // this module never builds covering projections; §4.8 drops the fetch half only in that case
	factor := 2.0
	if covering {
		factor = 1.0
	}
	io := matches * factor * IOReadCost
	predicates := float64(filter.CountPredicates(n.Residual))
	cpu := matches * (CPUDeserializeCost + predicates*CPUFilterCost)
	return Cost{Rows: matches, IO: io, CPU: cpu, Total: total(io, cpu)}
}

func estimateIntersection(n plan.Intersection, st *stats.Manager, recordType string) Cost {
	rows := tableRows(st, recordType)
	childCosts := make([]Cost, len(n.Children))
	sel := 1.0
	var ioSum float64
	maxRows := 0.0
	for i, c := range n.Children {
		cc := Estimate(c, st, recordType)
		childCosts[i] = cc
		ioSum += cc.IO
		if cc.Rows > maxRows {
			maxRows = cc.Rows
		}
		if rows > 0 {
			sel *= safeDiv(cc.Rows, rows)
		}
	}
	expectedRows := rows * sel
	cpu := maxRows * CPUFilterCost * float64(len(n.Children))
	return Cost{Rows: expectedRows, IO: ioSum, CPU: cpu, Total: total(ioSum, cpu)}
}

func estimateUnion(n plan.Union, st *stats.Manager, recordType string) Cost {
	var ioSum, cpuSum, rowSum float64
	for _, c := range n.Children {
		cc := Estimate(c, st, recordType)
		ioSum += cc.IO
		cpuSum += cc.CPU
		rowSum += cc.Rows
	}
	if rowSum > 1 {
		cpuSum += rowSum * log2(rowSum) * CPUFilterCost
	}
	return Cost{Rows: rowSum, IO: ioSum, CPU: cpuSum, Total: total(ioSum, cpuSum)}
}

func estimateLimit(n plan.Limit, st *stats.Manager, recordType string) Cost {
	child := Estimate(n.Child, st, recordType)
	factor := 1.0
	if child.Rows > 0 {
		factor = clamp01(float64(n.N) / child.Rows)
	}
	return Cost{
		Rows:  child.Rows * factor,
		IO:    child.IO * factor,
		CPU:   child.CPU * factor,
		Total: child.Total * factor,
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func log2(x float64) float64 {
	if x <= 1 {
		return 0
	}
	n := 0.0
	for x > 1 {
		x /= 2
		n++
	}
	return n
}

// Rank orders a set of plans ascending by estimated cost, breaking ties by
// lower estimated rows, then lower I/O (spec.md §4.11 step 4).
func Rank(candidates []plan.Plan, costs []Cost) []int {
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := costs[idx[a]], costs[idx[b]]
		if ca.Total != cb.Total {
			return ca.Total < cb.Total
		}
		if ca.Rows != cb.Rows {
			return ca.Rows < cb.Rows
		}
		return ca.IO < cb.IO
	})
	return idx
}
