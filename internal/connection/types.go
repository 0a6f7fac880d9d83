package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrShutdown        = errors.New("connection manager shut down")
	ErrDisconnected    = errors.New("disconnected by caller")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ConnectionState is a point-in-time snapshot of the manager.
// Authenticated implies Connected.
type ConnectionState struct {
	Connected         bool
	Authenticated     bool
	ReconnectAttempts int
	QueuedMessages    int
	LastMessageTime   time.Time     // Last inbound frame; zero until the first one
	ReconnectDelay    time.Duration // Delay of the scheduled reconnect, zero when none is pending
	LastError         string        // Last connection failure, cleared on successful auth
	AuthRejected      bool          // The token was rejected; nothing happens until Connect is called with a fresh one
}

// Ready reports whether frames are transmitted immediately.
func (s ConnectionState) Ready() bool {
	return s.Connected && s.Authenticated
}

// OutboundMessage is a frame created by Send.
type OutboundMessage struct {
	ID         string
	Type       MessageType
	Payload    json.RawMessage
	EnqueuedAt time.Time
}

// InboundMessage is a decoded frame handed to handlers. It is not retained by the manager.
type InboundMessage struct {
	ID         string
	Type       MessageType
	Payload    json.RawMessage
	Timestamp  int64     // Sender timestamp (unix ms), 0 if absent
	ReceivedAt time.Time // Local receive time
}

// Decode unmarshals the payload into v.
func (m InboundMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(m.Payload, v)
}

// Handler receives inbound messages of one type.
type Handler func(msg InboundMessage)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://192.168.1.10:19000/jarvis-app)
	UserAgent        string        // Sent on the upgrade request when set
	HandshakeTimeout time.Duration // Upgrade handshake limit (ctx still bounds the dial)
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound message channel buffer size
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
		ReadLimit:        1 << 20,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL               string        // Gateway WebSocket URL
	ClientName        string        // Sent in the auth frame
	ConnectTimeout    time.Duration // Max time to open the socket
	AuthTimeout       time.Duration // Max time between auth frame and ack
	HeartbeatInterval time.Duration // Ping period while authenticated
	PongTimeout       time.Duration // Max wait for a pong before the link is considered dead
	WriteTimeout      time.Duration // Write deadline for sends
	Backoff           Backoff       // Reconnect delay policy
	MaxQueuedMessages int           // Outbound queue bound, 0 = unbounded (oldest dropped on overflow)
	InboundBufferSize int           // Per-socket inbound channel size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		URL:               "ws://192.168.1.10:19000/jarvis-app",
		ClientName:        "jarvis-app",
		ConnectTimeout:    5 * time.Second,
		AuthTimeout:       10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PongTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		Backoff:           DefaultBackoff(),
		MaxQueuedMessages: 1000,
		InboundBufferSize: 256,
	}
}

func (c ManagerConfig) clientConfig() ClientConfig {
	cc := DefaultClientConfig()
	cc.URL = c.URL
	cc.UserAgent = c.ClientName
	if c.ConnectTimeout > 0 {
		cc.HandshakeTimeout = c.ConnectTimeout
	}
	if c.WriteTimeout > 0 {
		cc.WriteTimeout = c.WriteTimeout
	}
	if c.InboundBufferSize > 0 {
		cc.BufferSize = c.InboundBufferSize
	}
	return cc
}
