package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/jarvis-app/realtime/internal/connection"
)

// Config is the root configuration for jarvisd.
type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	Session  SessionConfig  `yaml:"session"`
	Journal  JournalConfig  `yaml:"journal"`
	Database DBConfig       `yaml:"database"`
	Status   StatusConfig   `yaml:"status"`
	Log      LogConfig      `yaml:"log"`
}

// RealtimeConfig holds gateway connection settings.
type RealtimeConfig struct {
	URL                 string        `yaml:"url"`
	ClientName          string        `yaml:"client_name"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	AuthTimeout         time.Duration `yaml:"auth_timeout"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	PongTimeout         time.Duration `yaml:"pong_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMultiplier float64       `yaml:"reconnect_multiplier"`
	MaxQueuedMessages   *int          `yaml:"max_queued_messages"` // nil = default, 0 = unbounded
	InboundBufferSize   int           `yaml:"inbound_buffer_size"`
}

// SessionConfig selects where the access token comes from.
type SessionConfig struct {
	Provider      string        `yaml:"provider"` // "static" or "supabase"
	Token         string        `yaml:"token"`    // static provider
	UserID        string        `yaml:"user_id"`  // static provider
	SupabaseURL   string        `yaml:"supabase_url"`
	AnonKey       string        `yaml:"anon_key"`
	Email         string        `yaml:"email"`
	Password      string        `yaml:"password"`
	RefreshToken  string        `yaml:"refresh_token"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RefreshBefore time.Duration `yaml:"refresh_before"` // renew this long before expiry
}

// JournalConfig holds the event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StatusConfig holds the HTTP status endpoint settings.
type StatusConfig struct {
	Port int `yaml:"port"` // -1 disables the endpoint
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ManagerConfig converts the realtime section for the connection manager.
func (r RealtimeConfig) ManagerConfig() connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.URL = r.URL
	cfg.ClientName = r.ClientName
	cfg.ConnectTimeout = r.ConnectTimeout
	cfg.AuthTimeout = r.AuthTimeout
	cfg.HeartbeatInterval = r.HeartbeatInterval
	cfg.PongTimeout = r.PongTimeout
	cfg.WriteTimeout = r.WriteTimeout
	cfg.Backoff = connection.Backoff{
		Base:       r.ReconnectBaseDelay,
		Max:        r.ReconnectMaxDelay,
		Multiplier: r.ReconnectMultiplier,
	}
	if r.MaxQueuedMessages != nil {
		cfg.MaxQueuedMessages = *r.MaxQueuedMessages
	}
	cfg.InboundBufferSize = r.InboundBufferSize
	return cfg
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
