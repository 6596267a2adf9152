package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/glint/internal/cli"
	"horse.fit/glint/internal/config"
	"horse.fit/glint/internal/db"
	"horse.fit/glint/internal/langdetect"
	"horse.fit/glint/internal/logging"
	"horse.fit/glint/internal/precheck"
	"horse.fit/glint/internal/scheduler"
	"horse.fit/glint/internal/settings"
	"horse.fit/glint/internal/translation"
)

// settingsFlags are the per-run overrides shared by translate and decompose.
type settingsFlags struct {
	file     *string
	target   *string
	source   *string
	engine   *string
	strategy *string
}

func (f settingsFlags) path(cfg *config.Config) string {
	if f.file != nil && strings.TrimSpace(*f.file) != "" {
		return strings.TrimSpace(*f.file)
	}
	return strings.TrimSpace(cfg.SettingsFile)
}

func loadConfig(envLoader *cli.EnvLoader) (*config.Config, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// commandLogger logs to stderr so command output on stdout stays clean.
func commandLogger(cfg *config.Config, out io.Writer) (zerolog.Logger, error) {
	logger, err := logging.NewWithWriter(cfg.Environment, cfg.LogLevel, out)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// resolveSettings layers settings file, environment and flag overrides.
// Validation only applies when requireTarget is set.
func resolveSettings(cfg *config.Config, flags settingsFlags, requireTarget bool) (*settings.Store, error) {
	base := settings.Defaults()
	fromFile := false
	if path := flags.path(cfg); path != "" {
		loaded, err := settings.LoadFile(path)
		if err != nil {
			return nil, err
		}
		base = loaded
		fromFile = true
	}

	if v := strings.TrimSpace(cfg.TargetLanguage); v != "" {
		base.TargetLanguage = v
	}
	if v := strings.TrimSpace(cfg.TranslatorEngine); v != "" {
		base.TranslatorEngine = v
	}
	if !fromFile && cfg.ParallelRequests > 0 {
		base.ParallelRequests = cfg.ParallelRequests
	}
	override := func(dst *string, flag *string) {
		if flag != nil && strings.TrimSpace(*flag) != "" {
			*dst = strings.TrimSpace(*flag)
		}
	}
	override(&base.TargetLanguage, flags.target)
	override(&base.SourceLanguage, flags.source)
	override(&base.TranslatorEngine, flags.engine)
	override(&base.DisplayStrategy, flags.strategy)

	base = base.WithDefaults()
	if requireTarget {
		if err := base.Validate(); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
	}
	return settings.NewStore(base), nil
}

// runtime owns the in-process translation stack.
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *settings.Store
	registry *translation.Registry
	gate     *precheck.Gate
	pool     *db.Pool
	sched    *scheduler.Scheduler

	unsubscribe func()
}

func newRuntime(ctx context.Context, cfg *config.Config, store *settings.Store, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: translation.NewRegistryFromConfig(cfg),
		gate:     precheck.NewGate(langdetect.Lingua),
	}

	opts := scheduler.Options{
		Limit:             store.Get().ParallelRequests,
		CacheCapacity:     cfg.CacheCapacity,
		Gate:              rt.gate,
		Settings:          store.Get,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	}
	if cfg.CacheCapacity == 0 {
		// zero in the environment means no memory tier
		opts.CacheCapacity = -1
	}

	if cfg.PersistentCacheEnabled() {
		pool, err := db.NewPool(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.pool = pool
		opts.Store = pool
		logger.Info().Msg("persistent translation cache enabled")
	}

	rt.sched = scheduler.New(rt.registry, opts)
	rt.unsubscribe = store.Subscribe(func(s settings.Settings) {
		rt.sched.UpdateConcurrencyLimit(s.ParallelRequests)
	})
	return rt, nil
}

func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.unsubscribe != nil {
		rt.unsubscribe()
	}
	if rt.sched != nil {
		rt.sched.Close()
	}
	if rt.pool != nil {
		if err := rt.pool.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("close database pool failed")
		}
	}
}
