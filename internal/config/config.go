package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// GatewayConfig holds the edge gateway configuration.
type GatewayConfig struct {
	App           AppConfig           `yaml:"app" validate:"required"`
	Server        ServerConfig        `yaml:"server" validate:"required"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Tenant        TenantConfig        `yaml:"tenant"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Redis         RedisConfig         `yaml:"redis" validate:"required"`
	ControlPlane  ControlPlaneConfig  `yaml:"control_plane" validate:"required"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
}

// AppConfig identifies the service.
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version" validate:"required"`
	Environment string `yaml:"environment" validate:"required"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `yaml:"host" validate:"required"`
	Port            int    `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds log/trace/metrics settings.
type ObservabilityConfig struct {
	Log     LogConfig     `yaml:"log"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// TraceConfig configures OpenTelemetry tracing.
type TraceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig holds credential validation settings.
type AuthConfig struct {
	// FallbackIssuer is used when a token's issuer has no registered
	// provider. Empty means unknown issuers are rejected outright.
	FallbackIssuer string `yaml:"fallback_issuer" validate:"omitempty,url"`

	// DefaultAudience is the expected audience when a provider does not
	// configure its own.
	DefaultAudience string `yaml:"default_audience"`

	// ClockSkew tolerates clock drift between the gateway and identity
	// providers when checking token timestamps.
	ClockSkew string `yaml:"clock_skew"`

	// PublicPaths lists path prefixes reachable without credentials
	// (GET/HEAD only).
	PublicPaths []string `yaml:"public_paths"`

	// ProviderCacheTTL bounds how long a provider lookup stays cached in Redis.
	ProviderCacheTTL string `yaml:"provider_cache_ttl"`
}

// TenantConfig holds tenant slug resolution settings.
type TenantConfig struct {
	// RequirePrefix rejects requests whose path lacks a tenant slug.
	// Left off during migration so bare paths keep working.
	RequirePrefix bool `yaml:"require_prefix"`

	// PlatformPaths bypass slug extraction entirely (health, metrics, ...).
	PlatformPaths []string `yaml:"platform_paths"`

	// RefreshInterval drives the periodic slug map refresh.
	RefreshInterval string `yaml:"refresh_interval"`
}

// RateLimitConfig holds governor-limit derived rate limiting settings.
type RateLimitConfig struct {
	// DefaultAPICallsPerDay applies to tenants absent from the governor
	// limit cache.
	DefaultAPICallsPerDay int64 `yaml:"default_api_calls_per_day" validate:"omitempty,min=0"`

	// Window is the fixed counting window the daily budget is divided into.
	Window string `yaml:"window"`

	// RefreshInterval drives the periodic governor limit refresh.
	RefreshInterval string `yaml:"refresh_interval"`
}

// RedisConfig holds shared counter store connection parameters.
type RedisConfig struct {
	Addr       string `yaml:"addr" validate:"required"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MasterName string `yaml:"master_name"`
	Timeout    string `yaml:"timeout"`
}

// ControlPlaneConfig holds the control plane endpoint settings.
type ControlPlaneConfig struct {
	BaseURL              string `yaml:"base_url" validate:"required,url"`
	Timeout              string `yaml:"timeout"`
	RouteRefreshInterval string `yaml:"route_refresh_interval"`
}

// KafkaConfig holds configuration change event consumer settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// UpstreamConfig holds backend proxying settings.
type UpstreamConfig struct {
	Timeout string `yaml:"timeout"`
}

// ParseDuration parses a duration string with a fallback default.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load reads the base YAML configuration and optionally merges an
// environment overlay, then validates the result.
func Load(basePath string, envPath ...string) (*GatewayConfig, error) {
	data, err := os.ReadFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(envPath) > 0 && envPath[0] != "" {
		envData, err := os.ReadFile(envPath[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read env config: %w", err)
		}
		if err := yaml.Unmarshal(envData, &cfg); err != nil {
			return nil, fmt.Errorf("failed to merge env config: %w", err)
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
