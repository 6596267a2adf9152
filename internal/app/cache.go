package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/glint/internal/cli"
	"horse.fit/glint/internal/db"
)

func runCache(args []string) int {
	if len(args) == 0 {
		printCacheUsage()
		return 2
	}

	action := strings.ToLower(strings.TrimSpace(args[0]))
	switch action {
	case "help", "-h", "--help":
		printCacheUsage()
		return 0
	case "stats", "prune":
	default:
		fmt.Fprintf(os.Stderr, "unknown cache action: %s\n\n", args[0])
		printCacheUsage()
		return 2
	}

	fs := flag.NewFlagSet("cache "+action, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "prune: delete entries unused for this long")

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "cache %s does not accept positional arguments\n", action)
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}
	if action == "prune" && *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be positive")
		return 2
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger, err := commandLogger(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !cfg.PersistentCacheEnabled() {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set: the persistent cache is disabled")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	if action == "prune" {
		cutoff := time.Now().UTC().Add(-*olderThan)
		deleted, err := pool.PruneTranslations(ctx, cutoff)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
			return 1
		}
		if outputFormat == outputFormatJSON {
			_ = printJSON(os.Stdout, map[string]any{"deleted": deleted, "cutoff": cutoff})
			return 0
		}
		fmt.Printf("cache prune cutoff=%s deleted=%d\n", cutoff.Format(time.RFC3339), deleted)
		return 0
	}

	stats, err := pool.QueryCacheStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query cache stats: %v\n", err)
		return 1
	}
	if outputFormat == outputFormatJSON {
		if err := printJSON(os.Stdout, stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}
	if err := writeTable(os.Stdout, []string{"entries", "hits"}, [][]string{{
		strconv.FormatInt(stats.Entries, 10),
		strconv.FormatInt(stats.Hits, 10),
	}}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func printCacheUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  glint cache stats [--format table|json] [--env .env]")
	fmt.Fprintln(os.Stderr, "  glint cache prune [--older-than 720h] [--format table|json] [--env .env]")
}
