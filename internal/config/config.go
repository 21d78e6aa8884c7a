package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir string   `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	CacheBackend    string        `mapstructure:"CACHE_BACKEND"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	BadgerPath      string        `mapstructure:"BADGER_PATH"`
	CacheConceptTTL time.Duration `mapstructure:"CACHE_CONCEPT_TTL"`
	CacheRelatedTTL time.Duration `mapstructure:"CACHE_RELATED_TTL"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	DefaultUserID  int64  `mapstructure:"DEFAULT_USER_ID"`

	OTelEnabled      bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint     string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure     bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelSamplerRatio float64 `mapstructure:"OTEL_SAMPLER_RATIO"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	BulkBodyLimit  string        `mapstructure:"BULK_BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR", "CORS_ORIGINS",
	"CACHE_BACKEND", "REDIS_URL", "BADGER_PATH", "CACHE_CONCEPT_TTL", "CACHE_RELATED_TTL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "DEFAULT_USER_ID",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SAMPLER_RATIO",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT", "BULK_BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("CACHE_CONCEPT_TTL", "1h")
	v.SetDefault("CACHE_RELATED_TTL", "1h")
	v.SetDefault("DEFAULT_USER_ID", 1)
	v.SetDefault("OTEL_SAMPLER_RATIO", 0.1)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BULK_BODY_LIMIT", "10M")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthConfigured reports whether any token key source is set.
func (c *Config) AuthConfigured() bool {
	return c.AuthSigningKey != "" || c.AuthJWKSURL != ""
}

// Validate checks that the configuration is safe to run.
// Cache TTL bounds. Vocabulary releases are infrequent, so a day is the most
// a stale entry may outlive a reload.
const (
	MinCacheTTL = time.Hour
	MaxCacheTTL = 24 * time.Hour
)

func (c *Config) Validate() error {
	switch c.CacheBackend {
	case "none", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND is \"redis\"")
		}
	case "badger":
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when CACHE_BACKEND is \"badger\"")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be \"none\", \"memory\", \"redis\" or \"badger\", got %q", c.CacheBackend)
	}

	for name, ttl := range map[string]time.Duration{
		"CACHE_CONCEPT_TTL": c.CacheConceptTTL,
		"CACHE_RELATED_TTL": c.CacheRelatedTTL,
	} {
		if ttl < MinCacheTTL || ttl > MaxCacheTTL {
			return fmt.Errorf("%s must be within [%s, %s], got %s", name, MinCacheTTL, MaxCacheTTL, ttl)
		}
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if !c.IsDev() && !c.AuthConfigured() {
		return fmt.Errorf(
			"AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set outside development (current ENV=%q); "+
				"refusing to attribute concept sets to a default user", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production")
	}

	if c.DefaultUserID <= 0 {
		return fmt.Errorf("DEFAULT_USER_ID must be positive, got %d", c.DefaultUserID)
	}

	if c.OTelSamplerRatio < 0 || c.OTelSamplerRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLER_RATIO must be within [0, 1], got %v", c.OTelSamplerRatio)
	}

	return nil
}
