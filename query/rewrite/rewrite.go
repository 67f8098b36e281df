// Package rewrite implements the Query Rewriter (spec.md §4.7/C11): a pure
// function from filter tree to normalized filter tree. It never touches the
// KV.
package rewrite

import (
	"github.com/acksell/recordlayer/query/filter"
)

// Config bounds the fix-point iteration and the DNF expansion.
type Config struct {
	MaxDepth     int // fix-point iteration cap, default 50
	MaxDNFTerms  int // default 100, per spec.md §4.7
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 50
	}
	if c.MaxDNFTerms <= 0 {
		c.MaxDNFTerms = 100
	}
	return c
}

// Rewrite applies NOT push-down, flattening, deduplication, and bounded DNF
// distribution to f, iterating to a fix point (or MaxDepth, whichever comes
// first).
func Rewrite(f filter.Filter, cfg Config) filter.Filter {
	cfg = cfg.withDefaults()
	current := f
	for i := 0; i < cfg.MaxDepth; i++ {
		next := pushNot(current)
		next = flatten(next)
		next = dedupe(next)
		next = distributeDNF(next, cfg.MaxDNFTerms)
		if next.Key() == current.Key() {
			return next
		}
		current = next
	}
	return current
}

// pushNot applies De Morgan's laws and double-negation elimination
// recursively: Not(And(xs)) -> Or(Not(xs)), Not(Or(xs)) -> And(Not(xs)),
// Not(Not(x)) -> x.
func pushNot(f filter.Filter) filter.Filter {
	switch n := f.(type) {
	case filter.Not:
		child := pushNot(n.Child)
		switch c := child.(type) {
		case filter.And:
			negated := make([]filter.Filter, len(c.Children))
			for i, ch := range c.Children {
				negated[i] = pushNot(filter.Not{Child: ch})
			}
			return filter.Or{Children: negated}
		case filter.Or:
			negated := make([]filter.Filter, len(c.Children))
			for i, ch := range c.Children {
				negated[i] = pushNot(filter.Not{Child: ch})
			}
			return filter.And{Children: negated}
		case filter.Not:
			return pushNot(c.Child)
		case filter.FieldPredicate:
			if negated, ok := filter.Negate(c.Op); ok {
				return filter.FieldPredicate{Name: c.Name, Op: negated, Value: c.Value}
			}
			return filter.Not{Child: c}
		default:
			return filter.Not{Child: child}
		}
	case filter.And:
		out := make([]filter.Filter, len(n.Children))
		for i, c := range n.Children {
			out[i] = pushNot(c)
		}
		return filter.And{Children: out}
	case filter.Or:
		out := make([]filter.Filter, len(n.Children))
		for i, c := range n.Children {
			out[i] = pushNot(c)
		}
		return filter.Or{Children: out}
	default:
		return f
	}
}

// flatten merges nested And-in-And and Or-in-Or children into their parent.
func flatten(f filter.Filter) filter.Filter {
	switch n := f.(type) {
	case filter.And:
		var out []filter.Filter
		for _, c := range n.Children {
			fc := flatten(c)
			if inner, ok := fc.(filter.And); ok {
				out = append(out, inner.Children...)
			} else {
				out = append(out, fc)
			}
		}
		return filter.And{Children: out}
	case filter.Or:
		var out []filter.Filter
		for _, c := range n.Children {
			fc := flatten(c)
			if inner, ok := fc.(filter.Or); ok {
				out = append(out, inner.Children...)
			} else {
				out = append(out, fc)
			}
		}
		return filter.Or{Children: out}
	case filter.Not:
		return filter.Not{Child: flatten(n.Child)}
	default:
		return f
	}
}

// dedupe removes structurally identical children from And/Or nodes,
// comparing by Filter.Key().
func dedupe(f filter.Filter) filter.Filter {
	switch n := f.(type) {
	case filter.And:
		return filter.And{Children: dedupeChildren(n.Children)}
	case filter.Or:
		return filter.Or{Children: dedupeChildren(n.Children)}
	case filter.Not:
		return filter.Not{Child: dedupe(n.Child)}
	default:
		return f
	}
}

func dedupeChildren(children []filter.Filter) []filter.Filter {
	seen := make(map[string]bool, len(children))
	out := make([]filter.Filter, 0, len(children))
	for _, c := range children {
		dc := dedupe(c)
		k := dc.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, dc)
	}
	return out
}

// distributeDNF distributes And over Or children, but only when the
// estimated resulting term count (the product of each immediate Or child's
// arity) is at most maxTerms; otherwise that And node is left as-is
// (spec.md §4.7, "bounded DNF").
func distributeDNF(f filter.Filter, maxTerms int) filter.Filter {
	switch n := f.(type) {
	case filter.And:
		children := make([]filter.Filter, len(n.Children))
		for i, c := range n.Children {
			children[i] = distributeDNF(c, maxTerms)
		}
		if termCount(children) > maxTerms {
			return filter.And{Children: children}
		}
		return distributeAnd(children)
	case filter.Or:
		out := make([]filter.Filter, len(n.Children))
		for i, c := range n.Children {
			out[i] = distributeDNF(c, maxTerms)
		}
		return filter.Or{Children: out}
	case filter.Not:
		return filter.Not{Child: distributeDNF(n.Child, maxTerms)}
	default:
		return f
	}
}

func termCount(children []filter.Filter) int {
	total := 1
	for _, c := range children {
		if or, ok := c.(filter.Or); ok {
			total *= len(or.Children)
		}
	}
	return total
}

// distributeAnd expands And(a, Or(b,c), d) into Or(And(a,b,d), And(a,c,d)).
func distributeAnd(children []filter.Filter) filter.Filter {
	combos := [][]filter.Filter{{}}
	for _, c := range children {
		or, ok := c.(filter.Or)
		if !ok {
			for i := range combos {
				combos[i] = append(combos[i], c)
			}
			continue
		}
		var next [][]filter.Filter
		for _, combo := range combos {
			for _, orChild := range or.Children {
				nc := make([]filter.Filter, len(combo), len(combo)+1)
				copy(nc, combo)
				nc = append(nc, orChild)
				next = append(next, nc)
			}
		}
		combos = next
	}
	if len(combos) == 1 {
		return filter.And{Children: combos[0]}
	}
	terms := make([]filter.Filter, len(combos))
	for i, combo := range combos {
		terms[i] = filter.And{Children: combo}
	}
	return filter.Or{Children: terms}
}
