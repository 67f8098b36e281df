package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/txn"
	"github.com/acksell/recordlayer/typedvalue"
)

// runServe opens the database, seeds a couple of sample records if the
// table is empty, runs the Online Indexer to completion for every demo
// index, collects fresh statistics, and answers one sample query — proof
// that Store, Index Maintainer, Index State Manager, Online Indexer,
// Statistics Manager, and Query Planner are all wired together correctly.
func runServe() error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataDir := fs.String("db", "", "badger data directory (overrides recordlayer.yaml)")
	schemaFile := fs.String("schema", "", "schema yaml file (overrides recordlayer.yaml)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg := LoadConfig()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *schemaFile != "" {
		cfg.Schema = *schemaFile
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedSampleData(ctx, s.db, s.store); err != nil {
		return err
	}

	for _, idx := range s.schema.IndexesFor("product") {
		if err := s.indexer.Build(ctx, idx.Name, "product", "recordlayer-cli"); err != nil {
			return fmt.Errorf("recordlayer: build %q: %w", idx.Name, err)
		}
	}
	if _, err := s.stats.CollectTableStats(ctx, "product", 1.0); err != nil {
		return fmt.Errorf("recordlayer: collect table stats: %w", err)
	}
	for _, idx := range s.schema.IndexesFor("product") {
		if _, err := s.stats.CollectIndexStats(ctx, idx, 20); err != nil {
			return fmt.Errorf("recordlayer: collect index stats for %q: %w", idx.Name, err)
		}
	}

	q := filter.FieldPredicate{Name: "category", Op: filter.OpEq, Value: typedvalue.String("electronics")}
	return txn.Run(ctx, s.db, func(ctx context.Context, tc *txn.Context) error {
		cur, err := s.store.ExecuteQuery(tc, "product", q, 0)
		if err != nil {
			return fmt.Errorf("recordlayer: execute query: %w", err)
		}
		defer cur.Close()
		for {
			rec, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			fmt.Printf("%+v\n", rec)
		}
		return nil
	})
}
