// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and duration parsing

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9000"

client:
  base_url: "http://chat.local:9000"
  convo_id: "general"
  user_id: "alice"

sync:
  poll_interval: "3s"
  suspend_after: "2m"
  retry_base: "500ms"
  retry_max: "10s"
  max_retries: 7
  typing_ttl: "4s"

lifecycle:
  settle: "100ms"

receipts:
  rate_per_second: 2
  burst: 3
  timeout: "5s"
  dedupe_window: "1m"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  addr: "127.0.0.1:9101"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9000")
	}
	if cfg.Client.ConvoID != "general" {
		t.Errorf("Client.ConvoID = %q, want %q", cfg.Client.ConvoID, "general")
	}
	if cfg.Sync.PollInterval != 3*time.Second {
		t.Errorf("Sync.PollInterval = %v, want %v", cfg.Sync.PollInterval, 3*time.Second)
	}
	if cfg.Sync.SuspendAfter != 2*time.Minute {
		t.Errorf("Sync.SuspendAfter = %v, want %v", cfg.Sync.SuspendAfter, 2*time.Minute)
	}
	if cfg.Sync.RetryBase != 500*time.Millisecond {
		t.Errorf("Sync.RetryBase = %v, want %v", cfg.Sync.RetryBase, 500*time.Millisecond)
	}
	if cfg.Sync.MaxRetries != 7 {
		t.Errorf("Sync.MaxRetries = %d, want 7", cfg.Sync.MaxRetries)
	}
	if cfg.Lifecycle.Settle != 100*time.Millisecond {
		t.Errorf("Lifecycle.Settle = %v, want %v", cfg.Lifecycle.Settle, 100*time.Millisecond)
	}
	if cfg.Receipts.RatePerSecond != 2 || cfg.Receipts.Burst != 3 {
		t.Errorf("Receipts rate/burst = %v/%d, want 2/3", cfg.Receipts.RatePerSecond, cfg.Receipts.Burst)
	}
	if cfg.Receipts.DedupeWindow != time.Minute {
		t.Errorf("Receipts.DedupeWindow = %v, want %v", cfg.Receipts.DedupeWindow, time.Minute)
	}
	if cfg.Logging.SlogLevel() != slog.LevelDebug {
		t.Errorf("Logging.SlogLevel() = %v, want debug", cfg.Logging.SlogLevel())
	}
	if cfg.Metrics.Addr != "127.0.0.1:9101" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, "127.0.0.1:9101")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:7000"

[client]
convo_id = "ops"

[sync]
poll_interval = "15s"
max_retries = 2

[logging]
format = "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:7000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:7000")
	}
	if cfg.Client.BaseURL != "http://127.0.0.1:7000" {
		t.Errorf("Client.BaseURL = %q, want derived from server address", cfg.Client.BaseURL)
	}
	if cfg.Sync.PollInterval != 15*time.Second {
		t.Errorf("Sync.PollInterval = %v, want %v", cfg.Sync.PollInterval, 15*time.Second)
	}
	if cfg.Sync.MaxRetries != 2 {
		t.Errorf("Sync.MaxRetries = %d, want 2", cfg.Sync.MaxRetries)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CONVO_TEST_SECRET", "s3cret")
	t.Setenv("CONVO_TEST_TOKEN", "tok-123")

	path := writeConfig(t, "config.yaml", `
auth:
  jwt_secret: "${CONVO_TEST_SECRET}"
client:
  token: "${CONVO_TEST_TOKEN}"
  user_id: "${CONVO_TEST_UNSET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "s3cret")
	}
	if cfg.Client.Token != "tok-123" {
		t.Errorf("Client.Token = %q, want %q", cfg.Client.Token, "tok-123")
	}
	if cfg.Client.UserID != "" {
		t.Errorf("Client.UserID = %q, want empty for unset variable", cfg.Client.UserID)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", "{}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sync.PollInterval != 10*time.Second {
		t.Errorf("Sync.PollInterval = %v, want 10s default", cfg.Sync.PollInterval)
	}
	if cfg.Sync.SuspendAfter != 5*time.Minute {
		t.Errorf("Sync.SuspendAfter = %v, want 5m default", cfg.Sync.SuspendAfter)
	}
	if cfg.Lifecycle.Settle != 250*time.Millisecond {
		t.Errorf("Lifecycle.Settle = %v, want 250ms default", cfg.Lifecycle.Settle)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 24h default", cfg.Auth.TokenTTL)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text default", cfg.Logging.Format)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("ValidateServer() error = %v, want nil with defaults", err)
	}
	if err := cfg.ValidateClient(); err == nil {
		t.Error("ValidateClient() error = nil, want missing convo_id")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
sync:
  poll_interval: "soon"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want duration error")
	}
	if !strings.Contains(err.Error(), "sync.poll_interval") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestLoad_NegativeDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
lifecycle:
  settle: "-1s"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want negative duration error")
	}
}

func TestLoad_InvalidLogging(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"format", "logging:\n  format: xml\n"},
		{"level", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.content)
			if _, err := Load(path); err == nil {
				t.Errorf("Load() error = nil, want invalid %s", tt.name)
			}
		})
	}
}

func TestLoad_RetryBounds(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
sync:
  retry_base: "10s"
  retry_max: "1s"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want retry bound error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() error = nil, want read error")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}

func TestAgentConfig(t *testing.T) {
	cfg := Default()
	cfg.Sync.PollInterval = 2 * time.Second
	cfg.Sync.MaxRetries = 9

	ac := cfg.Sync.AgentConfig()
	if ac.PollInterval != 2*time.Second {
		t.Errorf("AgentConfig().PollInterval = %v, want 2s", ac.PollInterval)
	}
	if ac.MaxRetries != 9 {
		t.Errorf("AgentConfig().MaxRetries = %d, want 9", ac.MaxRetries)
	}
	if ac.SuspendAfter != 5*time.Minute {
		t.Errorf("AgentConfig().SuspendAfter = %v, want 5m", ac.SuspendAfter)
	}

	rc := cfg.Receipts.CoordinatorConfig()
	if rc.RatePerSecond != 5 {
		t.Errorf("CoordinatorConfig().RatePerSecond = %v, want 5", rc.RatePerSecond)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CONVO_A", "one")

	got := expandEnvVars("a=${CONVO_A} b=${CONVO_MISSING} c=$CONVO_A")
	want := "a=one b= c=$CONVO_A"
	if got != want {
		t.Errorf("expandEnvVars() = %q, want %q", got, want)
	}
}
