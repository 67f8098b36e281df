// Package planner implements the Query Planner (spec.md §4.11/C15): the
// orchestration of the Plan Cache, Query Rewriter, Plan Enumerator, and Cost
// Estimator into a single `Plan(query) -> Cursor` call, and the concrete
// execution of a chosen plan against the bound Record Store. It implements
// store.Planner so a Store can be wired to it via Store.SetPlanner.
package planner

import (
	"fmt"

	"github.com/acksell/recordlayer/query/cost"
	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/query/plan"
	"github.com/acksell/recordlayer/query/plancache"
	"github.com/acksell/recordlayer/query/rewrite"
	"github.com/acksell/recordlayer/stats"
	"github.com/acksell/recordlayer/store"
	"github.com/acksell/recordlayer/txn"
)

// Config tunes the rewriter's and enumerator's bounds plus the plan cache's
// capacity. Zero values fall back to spec.md's defaults.
type Config struct {
	Rewrite         rewrite.Config
	MaxCandidates   int // default 10, spec.md §4.9
	PlanCacheSize   int // default 1000, spec.md §4.10
}

func (c Config) withDefaults() Config {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 10
	}
	return c
}

// Planner binds a Store and Statistics Manager and answers ExecuteQuery
// calls with a cost-chosen, executing Cursor.
type Planner struct {
	st    *store.Store
	stats *stats.Manager
	cache *plancache.Cache
	cfg   Config
}

// New returns a Planner over st, using stats for selectivity estimates and
// a cache of the configured (or default) capacity.
func New(st *store.Store, statsManager *stats.Manager, cfg Config) *Planner {
	cfg = cfg.withDefaults()
	return &Planner{
		st:    st,
		stats: statsManager,
		cache: plancache.New(cfg.PlanCacheSize),
		cfg:   cfg,
	}
}

// Plan implements store.Planner. query must be a filter.Filter (the only
// query shape this module defines); limit<=0 means unbounded.
func (p *Planner) Plan(tc *txn.Context, recordType string, query any, limit int) (store.Cursor, error) {
	f, ok := query.(filter.Filter)
	if !ok {
		return nil, fmt.Errorf("planner: query must be a filter.Filter, got %T", query)
	}

	cacheKey := recordType + "|" + f.Key()
	if limit > 0 {
		cacheKey = fmt.Sprintf("%s|limit=%d", cacheKey, limit)
	}

	var chosen plan.Plan
	if entry, ok := p.cache.Get(cacheKey); ok {
		chosen = entry.Plan
	} else {
		rewritten := rewrite.Rewrite(f, p.cfg.Rewrite)

		rank := func(candidate plan.Plan) float64 {
			return cost.Estimate(candidate, p.stats, recordType).Total
		}
		candidates, err := plan.Enumerate(tc, p.st.Schema(), p.st.States(), p.stats, recordType, rewritten, p.cfg.MaxCandidates, rank)
		if err != nil {
			return nil, fmt.Errorf("planner: enumerate: %w", err)
		}
		if limit > 0 {
			withLimit := make([]plan.Plan, len(candidates))
			for i, c := range candidates {
				withLimit[i] = plan.Limit{Child: c, N: limit}
			}
			candidates = withLimit
		}

		costs := make([]cost.Cost, len(candidates))
		for i, c := range candidates {
			costs[i] = cost.Estimate(c, p.stats, recordType)
		}
		order := cost.Rank(candidates, costs)
		best := order[0]
		chosen = candidates[best]
		p.cache.Put(cacheKey, plancache.Entry{Plan: chosen, Cost: costs[best]})
	}

	return p.execute(tc, recordType, chosen)
}
