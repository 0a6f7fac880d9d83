package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRealtimeURL         = "ws://192.168.1.10:19000/jarvis-app"
	DefaultClientName          = "jarvis-app"
	DefaultConnectTimeout      = 5 * time.Second
	DefaultAuthTimeout         = 10 * time.Second
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultPongTimeout         = 10 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 30 * time.Second
	DefaultReconnectMultiplier = 1.5
	DefaultMaxQueuedMessages   = 1000
	DefaultInboundBufferSize   = 256
	DefaultSessionProvider     = "static"
	DefaultSessionTimeout      = 10 * time.Second
	DefaultSessionMaxRetries   = 3
	DefaultRefreshBefore       = 2 * time.Minute
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 4
	DefaultMinConns            = 1
	DefaultBatchSize           = 500
	DefaultFlushInterval       = 1 * time.Second
	DefaultJournalBufferSize   = 1024
	DefaultStatusPort          = 8088
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

func (c *Config) applyDefaults() {
	// Realtime defaults
	r := &c.Realtime
	if r.URL == "" {
		r.URL = DefaultRealtimeURL
	}
	if r.ClientName == "" {
		r.ClientName = DefaultClientName
	}
	if r.ConnectTimeout == 0 {
		r.ConnectTimeout = DefaultConnectTimeout
	}
	if r.AuthTimeout == 0 {
		r.AuthTimeout = DefaultAuthTimeout
	}
	if r.HeartbeatInterval == 0 {
		r.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if r.PongTimeout == 0 {
		r.PongTimeout = DefaultPongTimeout
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = DefaultWriteTimeout
	}
	if r.ReconnectBaseDelay == 0 {
		r.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if r.ReconnectMaxDelay == 0 {
		r.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if r.ReconnectMultiplier == 0 {
		r.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if r.MaxQueuedMessages == nil {
		n := DefaultMaxQueuedMessages
		r.MaxQueuedMessages = &n
	}
	if r.InboundBufferSize == 0 {
		r.InboundBufferSize = DefaultInboundBufferSize
	}

	// Session defaults
	if c.Session.Provider == "" {
		c.Session.Provider = DefaultSessionProvider
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = DefaultSessionTimeout
	}
	if c.Session.MaxRetries == 0 {
		c.Session.MaxRetries = DefaultSessionMaxRetries
	}
	if c.Session.RefreshBefore == 0 {
		c.Session.RefreshBefore = DefaultRefreshBefore
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	applyDBDefaults(&c.Database)

	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
