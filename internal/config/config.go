// SPDX-License-Identifier: MIT

// Package config loads engine configuration from the environment with an
// optional YAML file layered underneath. Environment variables always win.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the streaming engine.
const (
	DefaultBaseURL        = "http://127.0.0.1:8787"
	DefaultRequestTimeout = 30 * time.Second
	DefaultCacheTTL       = 2 * time.Minute
	DefaultCacheMaxSize   = 50
)

// Config holds every tunable of the streaming engine.
type Config struct {
	// BaseURL is the assistant backend root, without a trailing slash.
	BaseURL string `yaml:"base_url"`
	// BearerToken authenticates against the backend. Supplied by the auth
	// layer in production; read from the environment here.
	BearerToken string `yaml:"bearer_token"`
	// RequestTimeout bounds the non-streaming fallback request. Streaming
	// requests are unbounded and rely on cancellation.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// CacheTTL is the response-cache entry lifetime.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// CacheMaxSize is the entry count that triggers the expired-entry sweep.
	CacheMaxSize int `yaml:"cache_max_size"`
	// RedisAddr, when set, switches the response cache to the shared Redis
	// backend (host:port).
	RedisAddr string `yaml:"redis_addr"`
	// RateLimit is the maximum backend requests per second. Zero disables
	// client-side rate limiting.
	RateLimit float64 `yaml:"rate_limit"`
	// LogLevel configures the global logger ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`
}

// FromEnv builds a Config from environment variables, starting from defaults.
func FromEnv() Config {
	return Config{
		BaseURL:        ParseString("ASSISTANT_BASE_URL", DefaultBaseURL),
		BearerToken:    ParseString("ASSISTANT_BEARER_TOKEN", ""),
		RequestTimeout: ParseDuration("ASSISTANT_REQUEST_TIMEOUT", DefaultRequestTimeout),
		CacheTTL:       ParseDuration("ASSISTANT_CACHE_TTL", DefaultCacheTTL),
		CacheMaxSize:   ParseInt("ASSISTANT_CACHE_MAX_SIZE", DefaultCacheMaxSize),
		RedisAddr:      ParseString("ASSISTANT_REDIS_ADDR", ""),
		RateLimit:      ParseFloat("ASSISTANT_RATE_LIMIT", 0),
		LogLevel:       ParseString("LOG_LEVEL", "info"),
	}
}

// Load reads an optional YAML file and applies environment overrides on top.
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Config{
		BaseURL:        DefaultBaseURL,
		RequestTimeout: DefaultRequestTimeout,
		CacheTTL:       DefaultCacheTTL,
		CacheMaxSize:   DefaultCacheMaxSize,
		LogLevel:       "info",
	}
	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	cfg.BaseURL = ParseString("ASSISTANT_BASE_URL", cfg.BaseURL)
	cfg.BearerToken = ParseString("ASSISTANT_BEARER_TOKEN", cfg.BearerToken)
	cfg.RequestTimeout = ParseDuration("ASSISTANT_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.CacheTTL = ParseDuration("ASSISTANT_CACHE_TTL", cfg.CacheTTL)
	cfg.CacheMaxSize = ParseInt("ASSISTANT_CACHE_MAX_SIZE", cfg.CacheMaxSize)
	cfg.RedisAddr = ParseString("ASSISTANT_REDIS_ADDR", cfg.RedisAddr)
	cfg.RateLimit = ParseFloat("ASSISTANT_RATE_LIMIT", cfg.RateLimit)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url must not be empty")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.CacheMaxSize <= 0 {
		return fmt.Errorf("config: cache_max_size must be positive, got %d", c.CacheMaxSize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
