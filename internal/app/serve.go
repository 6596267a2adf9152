package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/glint/internal/cli"
	"horse.fit/glint/internal/httpapi"
	"horse.fit/glint/internal/logging"
	"horse.fit/glint/internal/settings"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "127.0.0.1", "Host interface to bind")
	port := fs.Int("port", 8095, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 2*time.Minute, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	settingsFile := fs.String("settings", "", "Settings JSON file (defaults to SETTINGS_FILE); reloaded on SIGHUP")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	flags := settingsFlags{file: settingsFile}
	store, err := resolveSettings(cfg, flags, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	rt, err := newRuntime(dbCtx, cfg, store, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to build translation runtime")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for sig := range sigCh {
			if sig != syscall.SIGHUP {
				cancel()
				return
			}
			reloadSettings(rt, flags.path(cfg))
		}
	}()

	var cacheStats httpapi.CacheStatsSource
	if rt.pool != nil {
		cacheStats = rt.pool
	}
	srv := httpapi.NewServer(rt.sched, rt.registry, cacheStats, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		TokenHash:       cfg.HostTokenHash,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}

// reloadSettings swaps in the settings file; subscribers pick up the new
// concurrency limit.
func reloadSettings(rt *runtime, path string) {
	if path == "" {
		rt.logger.Warn().Msg("SIGHUP ignored: no settings file configured")
		return
	}
	loaded, err := settings.LoadFile(path)
	if err != nil {
		rt.logger.Error().Err(err).Str("path", path).Msg("settings reload failed")
		return
	}
	if err := rt.store.Update(func(s *settings.Settings) { *s = loaded }); err != nil {
		rt.logger.Error().Err(err).Str("path", path).Msg("settings reload rejected")
		return
	}
	rt.sched.ClearCache()
	rt.logger.Info().Str("path", path).Int("parallel_requests", loaded.ParallelRequests).Msg("settings reloaded")
}
