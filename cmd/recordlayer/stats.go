package main

import (
	"flag"
	"fmt"
	"os"
)

// runStats opens the database and prints whatever table/index statistics
// are currently cached (from a prior `serve` run's collection pass), the
// way a small admin tool would expose the Statistics Manager's state
// without touching the record data itself.
func runStats() error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
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

	for _, name := range s.schema.RecordTypeNames() {
		if ts, ok := s.stats.TableStatsFor(name); ok {
			fmt.Printf("table %s: rows=%d avg_bytes=%d sample_rate=%.2f collected_at=%s\n",
				name, ts.RowCount, ts.AvgRowBytes, ts.SampleRate, ts.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		} else {
			fmt.Printf("table %s: no stats collected yet\n", name)
		}
		for _, idx := range s.schema.IndexesFor(name) {
			if is, ok := s.stats.IndexStatsFor(idx.Name); ok {
				fmt.Printf("  index %s: distinct=%d nulls=%d buckets=%d\n",
					idx.Name, is.DistinctCount, is.NullCount, len(is.Histogram.Buckets))
			} else {
				fmt.Printf("  index %s: no stats collected yet\n", idx.Name)
			}
		}
	}
	return nil
}
