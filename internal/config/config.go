// Package config loads the gateway configuration from YAML (or JSON5) with
// environment expansion, defaults and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/audit"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/lookup"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/providers"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/ratelimit"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/sessions"
)

// Config is the main configuration structure for the gateway.
type Config struct {
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Crypto      CryptoConfig      `yaml:"crypto"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Cache       CacheConfig       `yaml:"cache"`
	Router      RouterConfig      `yaml:"router"`
	Processor   providers.Config  `yaml:"processor"`
	Lookup      LookupConfig      `yaml:"lookup"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Events      audit.Config      `yaml:"events"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenExpiry     time.Duration `yaml:"token_expiry"`
	MaxAuthAttempts int           `yaml:"max_auth_attempts"`
}

type CryptoConfig struct {
	// PrivateKeyPath is the server RSA key used to unwrap RSA envelopes.
	PrivateKeyPath string `yaml:"private_key_path"`

	// PlaintextMode bypasses both encryption ladders. Debug only.
	PlaintextMode bool `yaml:"plaintext_mode"`
}

type SessionsConfig struct {
	sessions.SQLiteConfig `yaml:",inline"`

	MaxHistory int           `yaml:"max_history"`
	MaxAge     time.Duration `yaml:"max_age"`
}

type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

type RouterConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	ProcessorTimeout time.Duration `yaml:"processor_timeout"`
}

type LookupConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Postgres lookup.PostgresConfig `yaml:"postgres"`
}

type RateLimitConfig struct {
	Token   ratelimit.Config `yaml:"token"`
	Request ratelimit.Config `yaml:"request"`
}

type MaintenanceConfig struct {
	// Schedule is a cron expression for cache sweeps and stale session pruning.
	Schedule string `yaml:"schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

// ConfigValidationError lists every invalid field found in one pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads, expands, decodes, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	// The event log is on unless the file configures it.
	if _, ok := raw["events"]; !ok {
		cfg.Events = audit.DefaultConfig()
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a fully defaulted configuration with no file.
func Default() *Config {
	cfg := &Config{Events: audit.DefaultConfig()}
	applyDefaults(cfg)
	return cfg
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = time.Hour
	}
	if cfg.Auth.MaxAuthAttempts == 0 {
		cfg.Auth.MaxAuthAttempts = 3
	}
	if cfg.Crypto.PrivateKeyPath == "" {
		cfg.Crypto.PrivateKeyPath = "private.pem"
	}
	if cfg.Sessions.Path == "" {
		cfg.Sessions.Path = "sessions.db"
	}
	if cfg.Sessions.MaxHistory == 0 {
		cfg.Sessions.MaxHistory = sessions.DefaultMaxHistory
	}
	if cfg.Sessions.MaxAge == 0 {
		cfg.Sessions.MaxAge = 24 * time.Hour
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1000
	}
	if cfg.Router.Concurrency == 0 {
		cfg.Router.Concurrency = 8
	}
	if cfg.Router.ProcessorTimeout == 0 {
		cfg.Router.ProcessorTimeout = 60 * time.Second
	}
	if cfg.Processor.Provider == "" {
		cfg.Processor.Provider = "echo"
	}
	defaults := lookup.DefaultPostgresConfig()
	if cfg.Lookup.Postgres.Table == "" {
		cfg.Lookup.Postgres.Table = defaults.Table
	}
	if cfg.Lookup.Postgres.QueryTimeout == 0 {
		cfg.Lookup.Postgres.QueryTimeout = defaults.QueryTimeout
	}
	if cfg.RateLimit.Token.PerMinute == 0 {
		cfg.RateLimit.Token = ratelimit.TokenConfig()
	}
	if cfg.RateLimit.Request.PerMinute == 0 {
		cfg.RateLimit.Request = ratelimit.RequestConfig()
	}
	eventDefaults := audit.DefaultConfig()
	if cfg.Events.Output == "" {
		cfg.Events.Output = eventDefaults.Output
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = eventDefaults.BufferSize
	}
	if cfg.Events.FlushInterval == 0 {
		cfg.Events.FlushInterval = eventDefaults.FlushInterval
	}
	if cfg.Maintenance.Schedule == "" {
		cfg.Maintenance.Schedule = "@every 10m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	var issues []string
	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, "version: "+err.Error())
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port: %d out of range", cfg.Server.Port))
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		issues = append(issues, "auth.jwt_secret: required")
	}
	if cfg.Auth.TokenExpiry < 0 {
		issues = append(issues, "auth.token_expiry: must be positive")
	}
	if cfg.Auth.MaxAuthAttempts < 0 {
		issues = append(issues, "auth.max_auth_attempts: must be positive")
	}
	if cfg.Sessions.MaxHistory < 0 {
		issues = append(issues, "sessions.max_history: must be positive")
	}
	if cfg.Cache.TTL < 0 {
		issues = append(issues, "cache.ttl: must be positive")
	}
	if cfg.Cache.MaxEntries < 0 {
		issues = append(issues, "cache.max_entries: must be positive")
	}
	if cfg.Router.Concurrency < 0 {
		issues = append(issues, "router.concurrency: must be positive")
	}
	switch strings.ToLower(cfg.Processor.Provider) {
	case "echo":
	case "anthropic", "openai":
		if strings.TrimSpace(cfg.Processor.APIKey) == "" {
			issues = append(issues, "processor.api_key: required for "+cfg.Processor.Provider)
		}
	default:
		issues = append(issues, fmt.Sprintf("processor.provider: unknown provider %q", cfg.Processor.Provider))
	}
	if cfg.Lookup.Enabled && strings.TrimSpace(cfg.Lookup.Postgres.DSN) == "" {
		issues = append(issues, "lookup.postgres.dsn: required when lookup is enabled")
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		issues = append(issues, "tracing.sampling_rate: must be between 0 and 1")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format: unknown format %q", cfg.Logging.Format))
	}
	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
