// Package plancache implements the Plan Cache (spec.md §4.10/C14): an LRU
// keyed by a filter tree's stable Filter.Key(), backed by
// github.com/hashicorp/golang-lru/v2 — already a dependency elsewhere in
// the retrieval pack for exactly this "bounded, thread-safe-by-wrapping
// LRU" shape.
package plancache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/acksell/recordlayer/query/cost"
	"github.com/acksell/recordlayer/query/plan"
)

// Entry is what the cache stores per query: the chosen plan and its
// recorded cost, so a cache hit never needs to re-run cost estimation.
type Entry struct {
	Plan plan.Plan
	Cost cost.Cost
}

// Cache is a capacity-bounded, key-stable plan cache (spec.md §4.10). The
// golang-lru Cache has its own lock; Cache also holds its own mutex for the
// duration of each Get, Put and Len call. A Get followed by a Put is two
// separately locked steps, not one atomic check-then-insert: two callers
// that miss on the same key can both store a plan, and the later Put wins.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, Entry]
}

// DefaultCapacity is the spec's default entry count (spec.md §4.10).
const DefaultCapacity = 1000

// New returns a Cache with the given capacity, or DefaultCapacity if cap<=0.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[string, Entry](capacity)
	if err != nil {
		// Only returned by golang-lru for a non-positive size, which
		// DefaultCapacity and the guard above rule out.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get looks up key (the filter tree's stable Filter.Key(), scoped by record
// type at the caller), returning the cached entry and whether it was
// present.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put stores (or evicts-and-replaces) the plan chosen for key.
func (c *Cache) Put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, e)
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
