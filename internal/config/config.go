// ABOUTME: Configuration loading and parsing for the convo-sync binaries
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/convo-sync/internal/convo"
	"github.com/2389/convo-sync/internal/receipts"
)

// Config represents the complete convo-sync configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Client    ClientConfig    `yaml:"client" toml:"client"`
	Sync      SyncConfig      `yaml:"sync" toml:"sync"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" toml:"lifecycle"`
	Receipts  ReceiptsConfig  `yaml:"receipts" toml:"receipts"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the development server's listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// ClientConfig tells a client which server and conversation to sync
type ClientConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Token   string `yaml:"token" toml:"token"`
	ConvoID string `yaml:"convo_id" toml:"convo_id"`
	// UserID is the viewer. When empty it is taken from the token subject.
	UserID string `yaml:"user_id" toml:"user_id"`
}

// SyncConfig holds conversation agent timing
type SyncConfig struct {
	PollInterval time.Duration `yaml:"-" toml:"-"`
	SuspendAfter time.Duration `yaml:"-" toml:"-"`
	FetchTimeout time.Duration `yaml:"-" toml:"-"`
	SendTimeout  time.Duration `yaml:"-" toml:"-"`
	RetryBase    time.Duration `yaml:"-" toml:"-"`
	RetryMax     time.Duration `yaml:"-" toml:"-"`
	TypingTTL    time.Duration `yaml:"-" toml:"-"`
	MaxRetries   int           `yaml:"max_retries" toml:"max_retries"`

	// Raw string values for unmarshaling
	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	SuspendAfterRaw string `yaml:"suspend_after" toml:"suspend_after"`
	FetchTimeoutRaw string `yaml:"fetch_timeout" toml:"fetch_timeout"`
	SendTimeoutRaw  string `yaml:"send_timeout" toml:"send_timeout"`
	RetryBaseRaw    string `yaml:"retry_base" toml:"retry_base"`
	RetryMaxRaw     string `yaml:"retry_max" toml:"retry_max"`
	TypingTTLRaw    string `yaml:"typing_ttl" toml:"typing_ttl"`
}

// LifecycleConfig holds focus/app-state debounce settings
type LifecycleConfig struct {
	Settle    time.Duration `yaml:"-" toml:"-"`
	SettleRaw string        `yaml:"settle" toml:"settle"`
}

// ReceiptsConfig holds read-receipt pacing
type ReceiptsConfig struct {
	RatePerSecond float64       `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int           `yaml:"burst" toml:"burst"`
	DedupeSize    int           `yaml:"dedupe_size" toml:"dedupe_size"`
	Timeout       time.Duration `yaml:"-" toml:"-"`
	DedupeWindow  time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw      string `yaml:"timeout" toml:"timeout"`
	DedupeWindowRaw string `yaml:"dedupe_window" toml:"dedupe_window"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
	// Addr is where the chat client serves its metrics. Empty keeps them
	// in-process only.
	Addr string `yaml:"addr" toml:"addr"`
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8088"
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = "http://" + c.Server.HTTPAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = "./convo-sync.db"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	agent := convo.DefaultConfig()
	setDefault(&c.Sync.PollInterval, agent.PollInterval)
	setDefault(&c.Sync.SuspendAfter, agent.SuspendAfter)
	setDefault(&c.Sync.FetchTimeout, agent.FetchTimeout)
	setDefault(&c.Sync.SendTimeout, agent.SendTimeout)
	setDefault(&c.Sync.RetryBase, agent.RetryBase)
	setDefault(&c.Sync.RetryMax, agent.RetryMax)
	setDefault(&c.Sync.TypingTTL, agent.TypingTTL)
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = agent.MaxRetries
	}

	setDefault(&c.Lifecycle.Settle, 250*time.Millisecond)

	rc := receipts.DefaultConfig()
	if c.Receipts.RatePerSecond == 0 {
		c.Receipts.RatePerSecond = rc.RatePerSecond
	}
	if c.Receipts.Burst == 0 {
		c.Receipts.Burst = rc.Burst
	}
	if c.Receipts.DedupeSize == 0 {
		c.Receipts.DedupeSize = rc.DedupeSize
	}
	setDefault(&c.Receipts.Timeout, rc.Timeout)
	setDefault(&c.Receipts.DedupeWindow, rc.DedupeWindow)
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d == 0 {
		*d = v
	}
}

// Validate checks values that would otherwise fail later in confusing ways.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Sync.RetryMax < c.Sync.RetryBase {
		return fmt.Errorf("sync.retry_max (%s) must not be below sync.retry_base (%s)", c.Sync.RetryMax, c.Sync.RetryBase)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if c.Receipts.RatePerSecond < 0 {
		return fmt.Errorf("receipts.rate_per_second must not be negative")
	}

	return nil
}

// ValidateServer checks the fields the development server needs.
func (c *Config) ValidateServer() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// ValidateClient checks the fields a syncing client needs.
func (c *Config) ValidateClient() error {
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client.base_url is required")
	}
	if c.Client.ConvoID == "" {
		return fmt.Errorf("client.convo_id is required")
	}
	return nil
}

// AgentConfig converts the sync section into conversation agent settings.
func (s SyncConfig) AgentConfig() convo.Config {
	return convo.Config{
		PollInterval: s.PollInterval,
		SuspendAfter: s.SuspendAfter,
		FetchTimeout: s.FetchTimeout,
		SendTimeout:  s.SendTimeout,
		RetryBase:    s.RetryBase,
		RetryMax:     s.RetryMax,
		MaxRetries:   s.MaxRetries,
		TypingTTL:    s.TypingTTL,
	}
}

// CoordinatorConfig converts the receipts section.
func (r ReceiptsConfig) CoordinatorConfig() receipts.Config {
	return receipts.Config{
		RatePerSecond: r.RatePerSecond,
		Burst:         r.Burst,
		Timeout:       r.Timeout,
		DedupeWindow:  r.DedupeWindow,
		DedupeSize:    r.DedupeSize,
	}
}

// SlogLevel returns the configured level, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	level, err := parseLevel(l.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", s)
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sync.poll_interval", cfg.Sync.PollIntervalRaw, &cfg.Sync.PollInterval},
		{"sync.suspend_after", cfg.Sync.SuspendAfterRaw, &cfg.Sync.SuspendAfter},
		{"sync.fetch_timeout", cfg.Sync.FetchTimeoutRaw, &cfg.Sync.FetchTimeout},
		{"sync.send_timeout", cfg.Sync.SendTimeoutRaw, &cfg.Sync.SendTimeout},
		{"sync.retry_base", cfg.Sync.RetryBaseRaw, &cfg.Sync.RetryBase},
		{"sync.retry_max", cfg.Sync.RetryMaxRaw, &cfg.Sync.RetryMax},
		{"sync.typing_ttl", cfg.Sync.TypingTTLRaw, &cfg.Sync.TypingTTL},
		{"lifecycle.settle", cfg.Lifecycle.SettleRaw, &cfg.Lifecycle.Settle},
		{"receipts.timeout", cfg.Receipts.TimeoutRaw, &cfg.Receipts.Timeout},
		{"receipts.dedupe_window", cfg.Receipts.DedupeWindowRaw, &cfg.Receipts.DedupeWindow},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
