// Package config loads the engine's runtime configuration from
// environment variables and an optional YAML file, the same layering
// viper gives the rest of the stack.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the engine needs at startup.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Database    DatabaseConfig    `mapstructure:"database"`
	MemoCache   MemoCacheConfig   `mapstructure:"memo_cache"`
	Resilience  ResilienceConfig  `mapstructure:"resilience"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MemoCacheConfig configures the optional Redis read-through cache in
// front of the Store. Address left blank disables the cache entirely.
type MemoCacheConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ResilienceConfig configures the circuit breaker guarding Store I/O.
type ResilienceConfig struct {
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RetryConfig configures the engine-wide default retry policy. Individual
// steps may still override it with their own policy.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	Environment  string `mapstructure:"environment"`
}

// Load reads configuration from ./config.yaml (if present) layered under
// environment variables, applying production-sane defaults.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/durablestep")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "durablestep-engine")
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("memo_cache.db", 0)
	viper.SetDefault("memo_cache.ttl", "10m")

	viper.SetDefault("resilience.max_requests", 1)
	viper.SetDefault("resilience.interval", "60s")
	viper.SetDefault("resilience.timeout", "30s")

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_backoff", "1s")

	viper.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
	viper.SetDefault("observability.service_name", "durablestep-engine")
	viper.SetDefault("observability.environment", "development")
}

func bindEnvVars() {
	viper.BindEnv("app.environment", "APP_ENV")

	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	viper.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")
	viper.BindEnv("database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")

	viper.BindEnv("memo_cache.address", "REDIS_ADDR")
	viper.BindEnv("memo_cache.password", "REDIS_PASSWORD")
	viper.BindEnv("memo_cache.db", "REDIS_DB")

	viper.BindEnv("retry.max_attempts", "RETRY_MAX_ATTEMPTS")
	viper.BindEnv("retry.initial_backoff", "RETRY_INITIAL_BACKOFF")

	viper.BindEnv("observability.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.BindEnv("observability.service_name", "OTEL_SERVICE_NAME")
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than 0")
	}
	return nil
}
