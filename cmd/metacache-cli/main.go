// Package main provides a CLI tool for managing the persistent image
// metadata cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/FRFlor/image-manager/internal/config"
	"github.com/FRFlor/image-manager/internal/metastore"
)

func main() {
	dbPath := flag.String("db", "", "Cache database path (default: platform cache dir)")
	maxEntries := flag.Int("max-entries", 10000, "Maximum cache entries")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.MetaCachePath
	}

	store, err := metastore.Open(path, *maxEntries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	switch args[0] {
	case "list", "ls":
		cmdList(ctx, store)
	case "stats":
		cmdStats(ctx, store)
	case "clear":
		cmdClear(ctx, store)
	case "flush":
		cmdFlush(ctx, store)
	default:
		printUsage()
		os.Exit(1)
	}
}

func cmdList(ctx context.Context, store *metastore.Store) {
	entries, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tDIMENSIONS\tSIZE\tLAST ACCESSED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%dx%d\t%d\t%s\n",
			e.FilePath, e.Width, e.Height, e.FileSize,
			time.Unix(0, e.LastAccessed).Format(time.RFC3339))
	}
	w.Flush()
}

func cmdStats(ctx context.Context, store *metastore.Store) {
	stats, err := store.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("entries: %d / %d\n", stats.EntryCount, stats.MaxEntries)
}

func cmdClear(ctx context.Context, store *metastore.Store) {
	if err := store.Clear(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("cache cleared")
}

func cmdFlush(ctx context.Context, store *metastore.Store) {
	if err := store.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("cache flushed to disk")
}

func printUsage() {
	fmt.Println(`metacache-cli - manage the image-manager metadata cache

Usage:
  metacache-cli [flags] <command>

Commands:
  list, ls   List cached entries
  stats      Show entry counts
  clear      Remove all entries
  flush      Checkpoint the WAL to disk

Flags:
  -db string          Cache database path
  -max-entries int    Maximum cache entries (default 10000)`)
}
