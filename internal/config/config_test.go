package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
storage:
  path: ./anchorwatch.db
  busy_timeout: 5s
dispatch:
  workers: 4
  retry_base: 2s
channels:
  email:
    enabled: true
    endpoint: https://mail.example.test/send
  sms:
    enabled: false
  whatsapp:
    enabled: false
  in_app:
    enabled: true
    endpoint: https://inbox.example.test/push
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("logging.level = %q, want DEBUG", cfg.Logging.Level)
	}
	if cfg.Storage.Path != "./anchorwatch.db" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Dispatch.Workers != 4 {
		t.Fatalf("dispatch.workers = %d, want 4", cfg.Dispatch.Workers)
	}
	if !cfg.Channels.Email.Enabled || cfg.Channels.SMS.Enabled {
		t.Fatalf("channel enablement wrong: %+v", cfg.Channels)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config pointer")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: INFO
  consle: true
storage:
  path: ./db
channels: {email: {enabled: false}, sms: {enabled: false}, whatsapp: {enabled: false}, in_app: {enabled: false}}
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error, got nil")
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging":{"level":"INFO","console":true},"storage":{"path":"./db"},"channels":{"email":{"enabled":false},"sms":{"enabled":false},"whatsapp":{"enabled":false},"in_app":{"enabled":false}}}{"extra":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected trailing-data error, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Storage: StorageConfig{Path: "./db"},
			Channels: ChannelsConfig{
				Email: ChannelConfig{Enabled: true, Endpoint: "https://mail.example.test"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing storage path", mutate: func(c *Config) { c.Storage.Path = " " }, wantErr: "storage.path"},
		{name: "bad duration", mutate: func(c *Config) { c.Dispatch.RetryBase = "5 parsecs" }, wantErr: "dispatch.retry_base"},
		{name: "negative duration", mutate: func(c *Config) { c.Dispatch.PollInterval = "-2s" }, wantErr: "dispatch.poll_interval"},
		{name: "enabled channel without endpoint", mutate: func(c *Config) { c.Channels.SMS = ChannelConfig{Enabled: true} }, wantErr: "channels.sms.endpoint"},
		{name: "negative rate", mutate: func(c *Config) { c.Channels.Email.RatePerSec = -1 }, wantErr: "rate_per_sec"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "scheduler.timezone"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(context.Background(), cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 42)
	if err != nil || d != 42 {
		t.Fatalf("got (%v, %v), want (42, nil)", d, err)
	}
	d, err = ParseDurationOrDefault("x", "3s", 42)
	if err != nil || d.Seconds() != 3 {
		t.Fatalf("got (%v, %v), want (3s, nil)", d, err)
	}
}
