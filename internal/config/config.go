package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// DatabaseURL enables the persistent translation cache tier when set.
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	SettingsFile      string  `envconfig:"SETTINGS_FILE" default:""`
	TargetLanguage    string  `envconfig:"TARGET_LANGUAGE" default:""`
	TranslatorEngine  string  `envconfig:"TRANSLATOR_ENGINE" default:""`
	ParallelRequests  int     `envconfig:"PARALLEL_REQUESTS" default:"5"`
	CacheCapacity     int     `envconfig:"CACHE_CAPACITY" default:"5000"`
	RequestsPerSecond float64 `envconfig:"REQUESTS_PER_SECOND" default:"0"`

	TranslationEndpoint string `envconfig:"TRANSLATION_ENDPOINT" default:""`
	TranslationModel    string `envconfig:"TRANSLATION_MODEL" default:""`
	LingvaEndpoint      string `envconfig:"LINGVA_ENDPOINT" default:""`

	// HostTokenHash is a bcrypt hash; when set the messaging API requires a bearer token.
	HostTokenHash string `envconfig:"HOST_TOKEN_HASH" default:""`
	HostToken     string `envconfig:"HOST_TOKEN" default:""`
	SchedulerURL  string `envconfig:"SCHEDULER_URL" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ParallelRequests < 1 {
		return fmt.Errorf("PARALLEL_REQUESTS must be >= 1")
	}
	if c.CacheCapacity < 0 {
		return fmt.Errorf("CACHE_CAPACITY must be >= 0")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("REQUESTS_PER_SECOND must be >= 0")
	}
	if url := strings.TrimSpace(c.SchedulerURL); url != "" && !strings.Contains(url, "://") {
		return fmt.Errorf("SCHEDULER_URL must be an absolute URL")
	}
	return nil
}

// PersistentCacheEnabled reports whether a database was configured for the cache tier.
func (c *Config) PersistentCacheEnabled() bool {
	return c != nil && strings.TrimSpace(c.DatabaseURL) != ""
}
