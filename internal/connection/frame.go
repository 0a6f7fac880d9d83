package connection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType is the "type" field of a frame.
type MessageType string

// Application message kinds.
const (
	TypeTask     MessageType = "task"
	TypeResponse MessageType = "response"
	TypeStatus   MessageType = "status"
	TypeError    MessageType = "error"

	// TypeDefault handlers receive every inbound frame whose type is not a known kind.
	TypeDefault MessageType = "default"
)

// Reserved kinds consumed by the manager itself.
const (
	TypeAuth MessageType = "auth"
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Known reports whether t is one of the application kinds.
func (t MessageType) Known() bool {
	switch t {
	case TypeTask, TypeResponse, TypeStatus, TypeError:
		return true
	}
	return false
}

// Reserved reports whether t is handled internally and never dispatched.
func (t MessageType) Reserved() bool {
	switch t {
	case TypeAuth, TypePing, TypePong:
		return true
	}
	return false
}

// Frame is one JSON message on the wire.
type Frame struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // Unix milliseconds
}

// AuthRequest is the payload of the outbound auth frame.
type AuthRequest struct {
	Token  string `json:"token"`
	Client string `json:"client"`
}

// AuthAck is the payload of the inbound auth frame.
type AuthAck struct {
	Authenticated bool   `json:"authenticated"`
	Error         string `json:"error,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

// NewMessageID returns a unique client-generated frame id.
func NewMessageID() string {
	return "msg-" + uuid.NewString()
}

func newPingID() string {
	return "ping-" + uuid.NewString()
}

// encodePayload marshals v unless it already is raw JSON.
func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// encodeFrame serializes a frame, stamping it if needed.
func encodeFrame(f Frame) ([]byte, error) {
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().UnixMilli()
	}
	return json.Marshal(f)
}

// decodeFrame parses wire bytes into a frame.
func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

func (m OutboundMessage) frame() Frame {
	return Frame{
		Type:      m.Type,
		ID:        m.ID,
		Payload:   m.Payload,
		Timestamp: m.EnqueuedAt.UnixMilli(),
	}
}
