// Command recordlayer is a small CLI for exercising a record layer database
// from the shell: open (or create) a Badger-backed store from a YAML schema
// file and run one of a few subcommands against it.
//
// Modeled on the teacher's unified `ddb` CLI (dynamodb/cmd/ddb/main.go):
// a bare os.Args dispatch to subcommand functions, no CLI framework.
//
//	recordlayer serve --db ./data --schema ./schema.yaml
//	recordlayer stats --db ./data --schema ./schema.yaml
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "stats":
		err = runStats()
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Println(version)
		return
	default:
		fmt.Fprintf(os.Stderr, "recordlayer: unknown command %q\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "recordlayer: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`recordlayer is a CLI for a Badger-backed record layer database.

Commands:
  serve    Open a database, seed sample data, build indexes, collect stats and run a sample query
  stats    Print cached table and index statistics
  version  Print the version
  help     Print this message`)
}
