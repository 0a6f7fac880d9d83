package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
realtime:
  url: wss://jarvis.example.com/jarvis-app
  heartbeat_interval: 15s
  max_queued_messages: 0
session:
  provider: static
  token: abc
log:
  level: debug
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Realtime.URL != "wss://jarvis.example.com/jarvis-app" {
		t.Errorf("Realtime.URL = %q", cfg.Realtime.URL)
	}
	if cfg.Realtime.HeartbeatInterval != 15*time.Second {
		t.Errorf("Realtime.HeartbeatInterval = %v, want 15s", cfg.Realtime.HeartbeatInterval)
	}
	if cfg.Realtime.MaxQueuedMessages == nil || *cfg.Realtime.MaxQueuedMessages != 0 {
		t.Errorf("Realtime.MaxQueuedMessages = %v, want explicit 0", cfg.Realtime.MaxQueuedMessages)
	}
	if cfg.Session.Token != "abc" {
		t.Errorf("Session.Token = %q, want %q", cfg.Session.Token, "abc")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_JARVIS_TOKEN", "secret123")

	yaml := `
session:
  provider: static
  token: ${TEST_JARVIS_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.Token != "secret123" {
		t.Errorf("Session.Token = %q, want %q", cfg.Session.Token, "secret123")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("Load error = %v, want read config file error", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load error = %v, want fs.ErrNotExist", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Realtime.URL != DefaultRealtimeURL {
		t.Errorf("Realtime.URL = %q", cfg.Realtime.URL)
	}
	if cfg.Realtime.MaxQueuedMessages == nil || *cfg.Realtime.MaxQueuedMessages != DefaultMaxQueuedMessages {
		t.Errorf("MaxQueuedMessages = %v", cfg.Realtime.MaxQueuedMessages)
	}
	if cfg.Session.Provider != "static" {
		t.Errorf("Session.Provider = %q", cfg.Session.Provider)
	}
	if cfg.Journal.Enabled {
		t.Error("journal should be disabled by default")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
session:
  token: abc
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	r := cfg.Realtime
	if r.URL != DefaultRealtimeURL {
		t.Errorf("Realtime.URL = %q, want default %q", r.URL, DefaultRealtimeURL)
	}
	if r.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("ReconnectBaseDelay = %v, want %v", r.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if r.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("ReconnectMaxDelay = %v, want %v", r.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if r.ReconnectMultiplier != DefaultReconnectMultiplier {
		t.Errorf("ReconnectMultiplier = %v, want %v", r.ReconnectMultiplier, DefaultReconnectMultiplier)
	}
	if r.MaxQueuedMessages == nil || *r.MaxQueuedMessages != DefaultMaxQueuedMessages {
		t.Errorf("MaxQueuedMessages = %v, want %d", r.MaxQueuedMessages, DefaultMaxQueuedMessages)
	}
	if cfg.Session.Provider != DefaultSessionProvider {
		t.Errorf("Session.Provider = %q, want %q", cfg.Session.Provider, DefaultSessionProvider)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Status.Port != DefaultStatusPort {
		t.Errorf("Status.Port = %d, want default %d", cfg.Status.Port, DefaultStatusPort)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "session:\n  provider: supabase\n")

	_, err := LoadAndValidate(path)
	if err == nil || !strings.Contains(err.Error(), "validate config") {
		t.Errorf("LoadAndValidate error = %v, want validation error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{Session: SessionConfig{Token: "t"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid static",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Realtime.URL = "http://localhost:19000" },
			wantErr: `realtime.url must use ws or wss, got "http"`,
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *Config) { c.Realtime.ReconnectMultiplier = 0.5 },
			wantErr: "realtime.reconnect_multiplier must be >= 1, got 0.5",
		},
		{
			name:    "max below base",
			mutate:  func(c *Config) { c.Realtime.ReconnectMaxDelay = time.Millisecond },
			wantErr: "realtime.reconnect_max_delay cannot be less than reconnect_base_delay",
		},
		{
			name:    "missing static token",
			mutate:  func(c *Config) { c.Session.Token = "" },
			wantErr: "session.token is required for the static provider",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Session.Provider = "oauth" },
			wantErr: `session.provider must be static or supabase, got "oauth"`,
		},
		{
			name: "supabase without credentials",
			mutate: func(c *Config) {
				c.Session.Provider = "supabase"
				c.Session.SupabaseURL = "https://x.supabase.co"
				c.Session.AnonKey = "anon"
			},
			wantErr: "session requires email and password or a refresh_token",
		},
		{
			name: "supabase with refresh token",
			mutate: func(c *Config) {
				c.Session.Provider = "supabase"
				c.Session.SupabaseURL = "https://x.supabase.co"
				c.Session.AnonKey = "anon"
				c.Session.RefreshToken = "r"
			},
			wantErr: "",
		},
		{
			name:    "journal needs database",
			mutate:  func(c *Config) { c.Journal.Enabled = true },
			wantErr: "database.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestRealtimeConfig_ManagerConfig(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	cfg.Realtime.URL = "ws://localhost:19000/jarvis-app"
	zero := 0
	cfg.Realtime.MaxQueuedMessages = &zero

	mc := cfg.Realtime.ManagerConfig()
	if mc.URL != "ws://localhost:19000/jarvis-app" {
		t.Errorf("URL = %q", mc.URL)
	}
	if mc.Backoff.Base != time.Second || mc.Backoff.Max != 30*time.Second || mc.Backoff.Multiplier != 1.5 {
		t.Errorf("Backoff = %+v", mc.Backoff)
	}
	if mc.MaxQueuedMessages != 0 {
		t.Errorf("MaxQueuedMessages = %d, want 0 (unbounded)", mc.MaxQueuedMessages)
	}
	if mc.ClientName != DefaultClientName {
		t.Errorf("ClientName = %q", mc.ClientName)
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := (LogConfig{Level: tt.in}).SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("JARVIS_EMAIL", "jarvis@example.com")
	t.Setenv("JARVIS_PASSWORD", "secret")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "jarvisd.example.yaml"))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Session.Provider != "supabase" || cfg.Session.SupabaseURL != "https://project.supabase.co" {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Realtime.ReconnectMultiplier != 1.5 {
		t.Errorf("ReconnectMultiplier = %v", cfg.Realtime.ReconnectMultiplier)
	}
}
