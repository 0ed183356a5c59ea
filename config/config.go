// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ybcstore/ledger"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for the service.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"environment"`
	LogLevel      string          `yaml:"log_level"`
	DatabaseURL   string          `yaml:"database_url"`
	Auth          AuthConfig      `yaml:"auth"`
	Tiers         []ledger.Tier   `yaml:"tiers"`
	ReferralRates []float64       `yaml:"referral_rates"`
	Retention     RetentionConfig `yaml:"retention"`
	RateLimits    RateLimitConfig `yaml:"rate_limits"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// AuthConfig controls bearer token verification. The signing secret is read
// from the environment variable named by SecretEnv so it stays out of the
// config file.
type AuthConfig struct {
	SecretEnv string   `yaml:"secret_env"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	Leeway    Duration `yaml:"leeway"`
}

// Secret resolves the signing key. Empty means dev token mode.
func (a AuthConfig) Secret() []byte {
	if a.SecretEnv == "" {
		return nil
	}
	if v := os.Getenv(a.SecretEnv); v != "" {
		return []byte(v)
	}
	return nil
}

// RetentionConfig tunes the audit sweep.
type RetentionConfig struct {
	MaxAge   Duration `yaml:"max_age"`
	Interval Duration `yaml:"interval"`
}

// RateLimitRule is one route group budget.
type RateLimitRule struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// RateLimitConfig holds the per-group budgets.
type RateLimitConfig struct {
	Reads  RateLimitRule `yaml:"reads"`
	Writes RateLimitRule `yaml:"writes"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
	Traces   bool              `yaml:"traces"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7095"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = ledger.DefaultTiers()
	}
	if len(cfg.ReferralRates) == 0 {
		cfg.ReferralRates = ledger.DefaultReferralRates()
	}
	if cfg.Auth.Leeway.Duration == 0 {
		cfg.Auth.Leeway.Duration = 30 * time.Second
	}
	if cfg.Retention.MaxAge.Duration == 0 {
		cfg.Retention.MaxAge.Duration = 90 * 24 * time.Hour
	}
	if cfg.Retention.Interval.Duration == 0 {
		cfg.Retention.Interval.Duration = time.Hour
	}
	if cfg.RateLimits.Reads.RequestsPerMinute == 0 {
		cfg.RateLimits.Reads = RateLimitRule{RequestsPerMinute: 600, Burst: 60}
	}
	if cfg.RateLimits.Writes.RequestsPerMinute == 0 {
		cfg.RateLimits.Writes = RateLimitRule{RequestsPerMinute: 120, Burst: 20}
	}
}

func validate(cfg Config) error {
	if err := ledger.ValidateTiers(cfg.Tiers); err != nil {
		return err
	}
	if len(cfg.ReferralRates) > ledger.MaxAncestorDepth {
		return fmt.Errorf("at most %d referral rates may be configured", ledger.MaxAncestorDepth)
	}
	for _, rate := range cfg.ReferralRates {
		if rate <= 0 || rate >= 1 {
			return fmt.Errorf("referral rate %v out of range", rate)
		}
	}
	if cfg.Retention.Interval.Duration < time.Minute {
		return fmt.Errorf("retention interval must be at least one minute")
	}
	return nil
}
