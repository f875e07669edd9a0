package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validCfg returns a fully valid Config for mutation testing.
func validCfg() *Config {
	return &Config{
		Server:     ServerConfig{URL: DefaultServerURL, Timeout: DefaultTimeout, MaxAttempts: 1},
		Navigation: NavigationConfig{DocPageBudget: DefaultDocPageBudget, EnrichOnSelect: true},
		Enrich:     EnrichConfig{MaxConcurrency: 5},
		Cache:      CacheConfig{Enabled: true, MemoryTTL: 10 * time.Minute},
		RateLimit:  RateLimitConfig{RPS: 20, Burst: 10},
		Logging:    LoggingConfig{Level: "info"},
		Serve:      ServeConfig{ListenAddr: ":8090"},
	}
}

// isolate points HOME and the working directory at an empty temp dir so no
// real config.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURL, cfg.Server.URL)
	assert.Equal(t, 60*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 1, cfg.Server.MaxAttempts)
	assert.Equal(t, 10, cfg.Navigation.DocPageBudget)
	assert.True(t, cfg.Navigation.EnrichOnSelect)
	assert.Equal(t, 5, cfg.Enrich.MaxConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MemoryTTL)
	assert.Empty(t, cfg.Cache.RedisAddr)
	assert.Equal(t, 20.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8090", cfg.Serve.ListenAddr)
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("MCTRAINER_SERVER", "https://trainer.example.org")
	t.Setenv("MCTRAINER_TOKEN", "abcdef123456")
	t.Setenv("MCTRAINER_NAVIGATION_DOC_PAGE_BUDGET", "3")
	t.Setenv("MCTRAINER_CACHE_REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://trainer.example.org", cfg.Server.URL)
	assert.Equal(t, "abcdef123456", cfg.Server.Token)
	assert.Equal(t, 3, cfg.Navigation.DocPageBudget)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "mctnav.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: http://trainer.internal:8001
  timeout: 5s
enrich:
  max_concurrency: 2
logging:
  level: debug
  pretty: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://trainer.internal:8001", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 2, cfg.Enrich.MaxConcurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoad_SearchPath(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".mctnav"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mctnav", "config.yaml"),
		[]byte("serve:\n  listen_addr: \":9999\"\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Serve.ListenAddr)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestLoad_InvalidValue(t *testing.T) {
	isolate(t)
	t.Setenv("MCTRAINER_NAVIGATION_DOC_PAGE_BUDGET", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doc_page_budget")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty url", func(c *Config) { c.Server.URL = "" }, "server.url must not be empty"},
		{"relative url", func(c *Config) { c.Server.URL = "/api" }, "absolute URL"},
		{"zero timeout", func(c *Config) { c.Server.Timeout = 0 }, "server.timeout"},
		{"zero attempts", func(c *Config) { c.Server.MaxAttempts = 0 }, "server.max_attempts"},
		{"zero budget", func(c *Config) { c.Navigation.DocPageBudget = 0 }, "doc_page_budget"},
		{"zero concurrency", func(c *Config) { c.Enrich.MaxConcurrency = 0 }, "max_concurrency"},
		{"zero ttl", func(c *Config) { c.Cache.MemoryTTL = 0 }, "memory_ttl"},
		{"negative rps", func(c *Config) { c.RateLimit.RPS = -1 }, "ratelimit.rps"},
		{"rps without burst", func(c *Config) { c.RateLimit.Burst = 0 }, "ratelimit.burst"},
		{"throttle disabled", func(c *Config) { c.RateLimit = RateLimitConfig{} }, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validCfg()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfig_StringMasksToken(t *testing.T) {
	s := ServerConfig{URL: "http://x", Token: "abcd1234efgh5678"}.String()
	assert.Contains(t, s, "abcd****5678")
	assert.NotContains(t, s, "1234efgh")

	assert.Contains(t, ServerConfig{Token: "short"}.String(), "***")
}
