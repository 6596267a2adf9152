package config

import "testing"

func validConfig() Config {
	return Config{
		Environment:      "local",
		LogLevel:         "info",
		DBMinConns:       1,
		DBMaxConns:       8,
		ParallelRequests: 5,
		CacheCapacity:    100,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if cfg.PersistentCacheEnabled() {
		t.Fatalf("did not expect persistent cache without DATABASE_URL")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"parallel":  func(c *Config) { c.ParallelRequests = 0 },
		"capacity":  func(c *Config) { c.CacheCapacity = -1 },
		"rps":       func(c *Config) { c.RequestsPerSecond = -2 },
		"conns":     func(c *Config) { c.DBMinConns = 9 },
		"scheduler": func(c *Config) { c.SchedulerURL = "localhost:8090" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("TARGET_LANGUAGE", "de")
	t.Setenv("PARALLEL_REQUESTS", "3")
	t.Setenv("DATABASE_URL", "postgres://localhost/glint")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TargetLanguage != "de" || cfg.ParallelRequests != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.PersistentCacheEnabled() {
		t.Fatalf("expected persistent cache to be enabled")
	}
}
