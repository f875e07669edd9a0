// Package config loads mctnav configuration from defaults, an optional
// config.yaml and MCTRAINER_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/medcat-trainer-client/pkg/logging"
)

const (
	// DefaultServerURL is the local trainer development server.
	DefaultServerURL = "http://localhost:8001"

	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 60 * time.Second

	// DefaultDocPageBudget is the number of document pages loaded up front.
	DefaultDocPageBudget = 10

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "MCTRAINER"
)

// Config holds all configuration for mctnav.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Enrich     EnrichConfig     `mapstructure:"enrich"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Serve      ServeConfig      `mapstructure:"serve"`
}

// ServerConfig points at the trainer REST backend.
type ServerConfig struct {
	URL         string        `mapstructure:"url"`
	Token       string        `mapstructure:"token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// String masks the token.
func (c ServerConfig) String() string {
	return fmt.Sprintf("ServerConfig{URL:%s, Token:%s, Timeout:%s}", c.URL, maskToken(c.Token), c.Timeout)
}

func maskToken(token string) string {
	const visible = 4
	if len(token) <= visible*2 {
		return "***"
	}
	return token[:visible] + "****" + token[len(token)-visible:]
}

// NavigationConfig controls the document navigator.
type NavigationConfig struct {
	DocPageBudget  int  `mapstructure:"doc_page_budget"`
	EnrichOnSelect bool `mapstructure:"enrich_on_select"`
}

// EnrichConfig controls the enrichment pipeline.
type EnrichConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// CacheConfig controls the reference lookup cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	MemoryTTL time.Duration `mapstructure:"memory_ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
}

// RateLimitConfig controls the client-side throttle. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ServeConfig holds the daemon's HTTP settings.
type ServeConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	ProjectID  int    `mapstructure:"project_id"`

	// AuthToken guards the mutating routes; empty disables auth.
	AuthToken string `mapstructure:"auth_token"`
}

// Load reads configuration from file and environment variables. configFile
// overrides the search path when non-empty.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.url", DefaultServerURL)
	v.SetDefault("server.token", "")
	v.SetDefault("server.timeout", DefaultTimeout)
	v.SetDefault("server.max_attempts", 1)

	v.SetDefault("navigation.doc_page_budget", DefaultDocPageBudget)
	v.SetDefault("navigation.enrich_on_select", true)

	v.SetDefault("enrich.max_concurrency", 5)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.memory_ttl", 10*time.Minute)
	v.SetDefault("cache.redis_addr", "")

	v.SetDefault("ratelimit.rps", 20.0)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetDefault("serve.listen_addr", ":8090")
	v.SetDefault("serve.project_id", 0)
	v.SetDefault("serve.auth_token", "")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(homeDir(), ".mctnav"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short forms used by the trainer's own tooling.
	_ = v.BindEnv("server.url", EnvPrefix+"_SERVER", EnvPrefix+"_SERVER_URL")
	_ = v.BindEnv("server.token", EnvPrefix+"_TOKEN", EnvPrefix+"_SERVER_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url must not be empty")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.url must be an absolute URL (got %q)", c.Server.URL)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be greater than 0")
	}
	if c.Server.MaxAttempts < 1 {
		return fmt.Errorf("server.max_attempts must be at least 1")
	}
	if c.Navigation.DocPageBudget < 1 {
		return fmt.Errorf("navigation.doc_page_budget must be at least 1")
	}
	if c.Enrich.MaxConcurrency < 1 {
		return fmt.Errorf("enrich.max_concurrency must be at least 1")
	}
	if c.Cache.MemoryTTL <= 0 {
		return fmt.Errorf("cache.memory_ttl must be greater than 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("ratelimit.burst must be at least 1 when ratelimit.rps is set")
	}
	if _, err := logging.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
