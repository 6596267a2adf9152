package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/glint/internal/cli"
	"horse.fit/glint/internal/config"
	"horse.fit/glint/internal/db"
	"horse.fit/glint/internal/messaging"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Check timeout")
	remote := fs.String("remote", "", "Scheduler API base URL (defaults to SCHEDULER_URL)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	schedulerURL := strings.TrimSpace(*remote)
	if schedulerURL == "" {
		schedulerURL = strings.TrimSpace(cfg.SchedulerURL)
	}

	checked := 0
	failed := false
	if schedulerURL != "" {
		checked++
		if err := messaging.NewRemote(schedulerURL, cfg.HostToken).Health(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "scheduler %s: %v\n", schedulerURL, err)
			failed = true
		} else {
			fmt.Printf("scheduler %s: ok\n", schedulerURL)
		}
	}

	if cfg.PersistentCacheEnabled() {
		checked++
		if err := checkDatabase(ctx, cfg, logger); err != nil {
			fmt.Fprintf(os.Stderr, "database: %v\n", err)
			failed = true
		} else {
			fmt.Println("database: ok")
		}
	}

	if checked == 0 {
		fmt.Println("nothing to check: set SCHEDULER_URL or DATABASE_URL")
	}
	if failed {
		return 1
	}
	return 0
}

func checkDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	stats, err := pool.QueryCacheStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cache entries=%d hits=%d\n", stats.Entries, stats.Hits)
	return nil
}
