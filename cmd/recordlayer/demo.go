package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/acksell/recordlayer/codec/gobcodec"
	"github.com/acksell/recordlayer/index"
	"github.com/acksell/recordlayer/indexstate"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/onlineindex"
	"github.com/acksell/recordlayer/query/planner"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/stats"
	"github.com/acksell/recordlayer/store"
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/txn"
)

// Product is the sample record type this CLI exercises end to end: a value
// index on Category (range/equality/startsWith queries) and a count index
// grouped by Category (spec.md's aggregate-index example).
type Product struct {
	SKU      string `recordlayer:"sku"`
	Category string `recordlayer:"category"`
	Price    int64  `recordlayer:"price"`
}

// defaultSchemaYAML is used when no --schema file is configured, registering
// Product with a value index on category and a count index grouping by the
// same field.
const defaultSchemaYAML = `
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
`

// stack bundles everything buildStack wires together, returned so serve/
// stats can use the pieces they each need.
type stack struct {
	db         *badger.DB
	ks         *keyspace.Keyspace
	schema     *schema.Schema
	codec      *gobcodec.Codec
	states     *indexstate.Manager
	maintainer *index.Maintainer
	store      *store.Store
	indexer    *onlineindex.Indexer
	stats      *stats.Manager
	log        *zap.Logger
}

// buildStack opens (or creates) the Badger database at cfg.DataDir, loads
// the schema, and wires every record-layer component together the way an
// application embedding this module is expected to: Keyspace -> Schema ->
// Codec -> Index State Manager -> Index Maintainer -> Store -> Online
// Indexer / Statistics Manager -> Query Planner, with the Planner wired back
// into the Store via SetPlanner.
func buildStack(cfg Config) (*stack, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("recordlayer: build logger: %w", err)
	}

	opts := badger.DefaultOptions(cfg.DataDir)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("recordlayer: open db %q: %w", cfg.DataDir, err)
	}

	schemaYAML := []byte(defaultSchemaYAML)
	if cfg.Schema != "" {
		data, err := os.ReadFile(cfg.Schema)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("recordlayer: read schema %q: %w", cfg.Schema, err)
		}
		schemaYAML = data
	}
	sch, err := schema.ParseYAML(schemaYAML)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recordlayer: parse schema: %w", err)
	}

	ks := keyspace.New(nil)
	c := gobcodec.New()
	if err := c.Register("product", Product{}, "sku"); err != nil {
		db.Close()
		return nil, fmt.Errorf("recordlayer: register codec: %w", err)
	}

	states := indexstate.New(ks, sch)
	maintainer := index.New(ks, c)
	st := store.New(ks, sch, c, states, maintainer)

	idxCfg := onlineindex.Config{BatchSize: cfg.BatchSize, ThrottleDelay: cfg.Throttle}
	indexer := onlineindex.New(db, st, idxCfg, log.Sugar())
	statsManager := stats.New(db, st, log.Sugar())

	plnr := planner.New(st, statsManager, planner.Config{})
	st.SetPlanner(plnr)

	return &stack{
		db:         db,
		ks:         ks,
		schema:     sch,
		codec:      c,
		states:     states,
		maintainer: maintainer,
		store:      st,
		indexer:    indexer,
		stats:      statsManager,
		log:        log,
	}, nil
}

func (s *stack) close() {
	_ = s.log.Sync()
	_ = s.db.Close()
}

// seedSampleData writes a handful of Product records if the table is
// empty, so a fresh `recordlayer serve` run against an empty data directory
// has something for the online indexer and statistics manager to see.
func seedSampleData(ctx context.Context, db *badger.DB, st *store.Store) error {
	samples := []Product{
		{SKU: "sku-1", Category: "electronics", Price: 1999},
		{SKU: "sku-2", Category: "electronics", Price: 2999},
		{SKU: "sku-3", Category: "books", Price: 1299},
		{SKU: "sku-4", Category: "books", Price: 999},
		{SKU: "sku-5", Category: "garden", Price: 4999},
	}
	return txn.Run(ctx, db, func(ctx context.Context, tc *txn.Context) error {
		for _, p := range samples {
			if _, found, err := st.Load(tc, "product", tuple.Tuple{p.SKU}); err != nil {
				return err
			} else if found {
				continue
			}
			if err := st.Save(tc, "product", p); err != nil {
				return fmt.Errorf("recordlayer: seed %q: %w", p.SKU, err)
			}
		}
		return nil
	})
}
