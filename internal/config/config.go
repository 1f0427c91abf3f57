// Package config loads and validates all runtime configuration for the
// consensus service.
//
// Configuration is read from environment variables (preferred for containers)
// with an optional .env file loaded first. The model catalog lives in a
// separate YAML file (MODELS_CONFIG_PATH) handled by LoadModels.
//
// BACKEND_API_KEYS is the only strictly required variable: without at least
// one accepted bearer token the API would be unreachable. Redis and
// ClickHouse are optional — the service degrades to in-process fallbacks.
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
	// ListenAddr is the address the HTTP server binds. Default ":8080".
	ListenAddr string

	// LogLevel controls the minimum log level. One of: debug, info, warn,
	// error. Default: info.
	LogLevel string

	// BackendAPIKeys are the bearer tokens accepted by the API.
	// At least one is required.
	BackendAPIKeys []string

	// ModelsPath points at the model descriptor YAML file.
	// Default "models.yaml".
	ModelsPath string

	// Providers holds the upstream credentials referenced by descriptor
	// credential_ref / secret_ref entries. A model whose reference resolves
	// to an empty value is disabled, not fatal.
	Providers ProviderKeys

	Cache     CacheConfig
	Engine    EngineConfig
	Server    ServerConfig
	Rates     RateConfig
	Analytics AnalyticsConfig
	Embedding EmbeddingConfig
}

// ProviderKeys holds the upstream provider credentials.
type ProviderKeys struct {
	OpenAI      string
	Anthropic   string
	Google      string
	Cohere      string
	Zhipu       string
	Moonshot    string
	Mistral     string
	ErnieKey    string
	ErnieSecret string
}

// CacheConfig controls the Redis-backed result and embedding cache.
type CacheConfig struct {
	// BackendURL is a redis:// URL. Empty falls back to the in-process cache.
	BackendURL string

	// TTL is the time-to-live for cached consensus results. Default 1h.
	TTL time.Duration

	// EmbeddingTTL is the time-to-live for cached embedding vectors.
	// Default 24h.
	EmbeddingTTL time.Duration
}

// EngineConfig controls the consensus pipeline.
type EngineConfig struct {
	// RequestTimeout is the absolute budget for one consensus run.
	// Default 30s.
	RequestTimeout time.Duration

	// MaxConcurrent bounds the provider fan-out width. Default 10.
	MaxConcurrent int

	// MinSuccess is the minimum number of successful replies required to
	// form a consensus. Default 2.
	MinSuccess int

	// MaxRetries is the number of retries per provider call after the first
	// attempt. Default 2.
	MaxRetries int

	// LowThreshold triggers chain refinement when the agreement score falls
	// below it. Default 0.85.
	LowThreshold float64

	// HighThreshold marks high-confidence results. Default 0.90.
	HighThreshold float64
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	// MaxInflight caps concurrently served protected requests. Default 256.
	MaxInflight int

	// AllowedOrigins is the CORS allow-list. Empty emits no CORS headers;
	// there is no wildcard default.
	AllowedOrigins []string
}

// RateConfig holds the per-token per-minute budgets by route class.
type RateConfig struct {
	ConsensusPerMin int
	BatchPerMin     int
	ReadPerMin      int
}

// AnalyticsConfig controls the analytics store.
type AnalyticsConfig struct {
	// ClickHouseURL is a clickhouse:// DSN. Empty falls back to the
	// in-memory store.
	ClickHouseURL string
}

// EmbeddingConfig selects the embedding backend used for agreement scoring.
type EmbeddingConfig struct {
	// Provider is "local" (hash-based, no network) or "remote"
	// (OpenAI embeddings API). Default "local".
	Provider string

	// Model is the remote embedding model name.
	// Default "text-embedding-3-small".
	Model string
}

// Load reads configuration from environment variables, with an optional
// .env file loaded first.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MODELS_CONFIG_PATH", "models.yaml")

	v.SetDefault("CACHE_TTL_SECONDS", 3600)
	v.SetDefault("EMBEDDING_TTL_SECONDS", 86400)

	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("MAX_CONCURRENT_REQUESTS", 10)
	v.SetDefault("MIN_SUCCESS", 2)
	v.SetDefault("MAX_RETRIES", 2)
	v.SetDefault("LOW_CONSENSUS_THRESHOLD", 0.85)
	v.SetDefault("HIGH_CONSENSUS_THRESHOLD", 0.90)

	v.SetDefault("MAX_INFLIGHT_REQUESTS", 256)

	v.SetDefault("RATE_CONSENSUS_PER_MIN", 60)
	v.SetDefault("RATE_BATCH_PER_MIN", 12)
	v.SetDefault("RATE_READ_PER_MIN", 300)

	v.SetDefault("EMBEDDING_PROVIDER", "local")
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")

	cfg := &Config{
		ListenAddr: v.GetString("LISTEN_ADDR"),
		LogLevel:   strings.ToLower(v.GetString("LOG_LEVEL")),

		BackendAPIKeys: splitList(v.GetString("BACKEND_API_KEYS")),
		ModelsPath:     v.GetString("MODELS_CONFIG_PATH"),

		Providers: ProviderKeys{
			OpenAI:      v.GetString("OPENAI_API_KEY"),
			Anthropic:   v.GetString("ANTHROPIC_API_KEY"),
			Google:      v.GetString("GOOGLE_API_KEY"),
			Cohere:      v.GetString("COHERE_API_KEY"),
			Zhipu:       v.GetString("ZHIPU_API_KEY"),
			Moonshot:    v.GetString("MOONSHOT_API_KEY"),
			Mistral:     v.GetString("MISTRAL_API_KEY"),
			ErnieKey:    v.GetString("ERNIE_API_KEY"),
			ErnieSecret: v.GetString("ERNIE_SECRET_KEY"),
		},

		Cache: CacheConfig{
			BackendURL:   v.GetString("CACHE_BACKEND_URL"),
			TTL:          time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
			EmbeddingTTL: time.Duration(v.GetInt("EMBEDDING_TTL_SECONDS")) * time.Second,
		},

		Engine: EngineConfig{
			RequestTimeout: time.Duration(v.GetInt("REQUEST_TIMEOUT_SECONDS")) * time.Second,
			MaxConcurrent:  v.GetInt("MAX_CONCURRENT_REQUESTS"),
			MinSuccess:     v.GetInt("MIN_SUCCESS"),
			MaxRetries:     v.GetInt("MAX_RETRIES"),
			LowThreshold:   v.GetFloat64("LOW_CONSENSUS_THRESHOLD"),
			HighThreshold:  v.GetFloat64("HIGH_CONSENSUS_THRESHOLD"),
		},

		Server: ServerConfig{
			MaxInflight:    v.GetInt("MAX_INFLIGHT_REQUESTS"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},

		Rates: RateConfig{
			ConsensusPerMin: v.GetInt("RATE_CONSENSUS_PER_MIN"),
			BatchPerMin:     v.GetInt("RATE_BATCH_PER_MIN"),
			ReadPerMin:      v.GetInt("RATE_READ_PER_MIN"),
		},

		Analytics: AnalyticsConfig{
			ClickHouseURL: v.GetString("ANALYTICS_CLICKHOUSE_URL"),
		},

		Embedding: EmbeddingConfig{
			Provider: strings.ToLower(v.GetString("EMBEDDING_PROVIDER")),
			Model:    v.GetString("EMBEDDING_MODEL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as
// defaults.
func (c *Config) validate() error {
	if len(c.BackendAPIKeys) == 0 {
		return fmt.Errorf("config: BACKEND_API_KEYS is required (comma-separated bearer tokens)")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	switch c.Embedding.Provider {
	case "local":
	case "remote":
		if c.Providers.OpenAI == "" {
			return fmt.Errorf("config: EMBEDDING_PROVIDER=remote requires OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("config: invalid EMBEDDING_PROVIDER %q; must be local or remote", c.Embedding.Provider)
	}

	if c.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.Engine.MaxConcurrent < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_REQUESTS must be ≥ 1, got %d", c.Engine.MaxConcurrent)
	}
	if c.Engine.MinSuccess < 1 {
		return fmt.Errorf("config: MIN_SUCCESS must be ≥ 1, got %d", c.Engine.MinSuccess)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("config: MAX_RETRIES must be ≥ 0, got %d", c.Engine.MaxRetries)
	}

	if c.Engine.LowThreshold <= 0 || c.Engine.LowThreshold > 1 {
		return fmt.Errorf("config: LOW_CONSENSUS_THRESHOLD must be in (0, 1], got %v", c.Engine.LowThreshold)
	}
	if c.Engine.HighThreshold <= 0 || c.Engine.HighThreshold > 1 {
		return fmt.Errorf("config: HIGH_CONSENSUS_THRESHOLD must be in (0, 1], got %v", c.Engine.HighThreshold)
	}
	if c.Engine.LowThreshold > c.Engine.HighThreshold {
		return fmt.Errorf("config: LOW_CONSENSUS_THRESHOLD %v exceeds HIGH_CONSENSUS_THRESHOLD %v",
			c.Engine.LowThreshold, c.Engine.HighThreshold)
	}

	return nil
}

// splitList parses a comma-separated env value into trimmed non-empty items.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
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
