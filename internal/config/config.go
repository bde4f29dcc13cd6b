// Package config loads and validates all runtime configuration for the router.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example REDIS_URL becomes redis_url in
// YAML.
//
// Provider credentials are not configured here. They live in the provider
// store and are managed at runtime; the only exception is the optional
// ANTHROPIC_API_KEY fallback for anthropic records stored without a key.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Store selects and names the provider and token collections.
	Store StoreConfig

	// Redis holds the connection URL for the Redis-backed store and rate limiter.
	// Required only when Store.Mode is "redis".
	Redis RedisConfig

	// APITokens are written into the tokens collection at startup, so a
	// fresh deployment has at least one working caller credential.
	APITokens []string

	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
	Azure     AzureConfig

	// UpstreamTimeout bounds how long the router waits for upstream response
	// headers. Streamed bodies are not bounded by it. Default: 60s.
	UpstreamTimeout time.Duration

	// RateLimit controls request-rate limiting.
	RateLimit RateLimitConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string

	// AdminAPIKey enables the /admin provider API. Empty disables it.
	AdminAPIKey string
}

// StoreConfig controls where provider records and caller tokens live.
type StoreConfig struct {
	// Mode selects the backend:
	//   "redis":  Redis hashes (requires REDIS_URL). Shared across replicas.
	//   "memory": In-process maps. Lost on restart; single replica only.
	// Default: "memory".
	Mode string

	// ProvidersKey is the Redis hash holding provider records. Default: "models".
	ProvidersKey string

	// TokensKey is the Redis hash holding accepted caller tokens. Default: "tokens".
	TokensKey string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// AnthropicConfig holds Anthropic dialect settings.
type AnthropicConfig struct {
	// APIKey is used for anthropic records stored without their own key.
	APIKey string
	// BaseURL overrides https://api.anthropic.com. Useful for local mocks.
	BaseURL string
	// Version is sent as the anthropic-version header. Default: "2023-06-01".
	Version string
	// MaxTokens is set on translated requests that carry none. Default: 4096.
	MaxTokens int
}

// OpenAIConfig holds OpenAI dialect settings.
type OpenAIConfig struct {
	// BaseURL overrides https://api.openai.com for records without an endpoint.
	BaseURL string
}

// AzureConfig holds Azure OpenAI dialect settings.
type AzureConfig struct {
	// APIVersion is used for records without their own apiVersion.
	// Default: "2023-05-15".
	APIVersion string
}

// RateLimitConfig controls request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute allowed globally.
	// 0 disables rate limiting. Requires the redis store. Default: 0.
	RPMLimit int
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
//
// REDIS_URL is only required when STORE_MODE=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := fromViper(v)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("STORE_MODE", "memory")
	v.SetDefault("STORE_PROVIDERS_KEY", "models")
	v.SetDefault("STORE_TOKENS_KEY", "tokens")

	v.SetDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	v.SetDefault("ANTHROPIC_VERSION", "2023-06-01")
	v.SetDefault("ANTHROPIC_MAX_TOKENS", 4096)
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com")
	v.SetDefault("AZURE_API_VERSION", "2023-05-15")

	v.SetDefault("UPSTREAM_TIMEOUT", "60s")

	// Rate limit: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Store: StoreConfig{
			Mode:         strings.ToLower(v.GetString("STORE_MODE")),
			ProvidersKey: v.GetString("STORE_PROVIDERS_KEY"),
			TokensKey:    v.GetString("STORE_TOKENS_KEY"),
		},
		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		APITokens: splitList(v.GetStringSlice("API_TOKENS")),

		Anthropic: AnthropicConfig{
			APIKey:    v.GetString("ANTHROPIC_API_KEY"),
			BaseURL:   v.GetString("ANTHROPIC_BASE_URL"),
			Version:   v.GetString("ANTHROPIC_VERSION"),
			MaxTokens: v.GetInt("ANTHROPIC_MAX_TOKENS"),
		},
		OpenAI: OpenAIConfig{BaseURL: v.GetString("OPENAI_BASE_URL")},
		Azure:  AzureConfig{APIVersion: v.GetString("AZURE_API_VERSION")},

		UpstreamTimeout: v.GetDuration("UPSTREAM_TIMEOUT"),

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		CORSOrigins: splitList(v.GetStringSlice("CORS_ORIGINS")),
		AdminAPIKey: v.GetString("ADMIN_API_KEY"),
	}
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	switch c.Store.Mode {
	case "redis", "memory":
	default:
		return fmt.Errorf(
			"config: invalid STORE_MODE %q; must be one of: redis, memory",
			c.Store.Mode,
		)
	}

	// Redis URL is required when store mode is "redis".
	if c.Store.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when STORE_MODE=redis; " +
				"set STORE_MODE=memory to use the built-in in-process store",
		)
	}

	if c.Store.ProvidersKey == "" || c.Store.TokensKey == "" {
		return fmt.Errorf("config: STORE_PROVIDERS_KEY and STORE_TOKENS_KEY must not be empty")
	}
	if c.Store.ProvidersKey == c.Store.TokensKey {
		return fmt.Errorf("config: STORE_PROVIDERS_KEY and STORE_TOKENS_KEY must differ")
	}

	// Validate log level.
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Anthropic.MaxTokens < 1 {
		return fmt.Errorf("config: ANTHROPIC_MAX_TOKENS must be >= 1, got %d", c.Anthropic.MaxTokens)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("config: UPSTREAM_TIMEOUT must be a positive duration")
	}
	if c.RateLimit.RPMLimit < 0 {
		return fmt.Errorf("config: RPM_LIMIT must be >= 0, got %d", c.RateLimit.RPMLimit)
	}
	if c.RateLimit.RPMLimit > 0 && c.Store.Mode != "redis" {
		return fmt.Errorf("config: RPM_LIMIT requires STORE_MODE=redis")
	}

	return nil
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
