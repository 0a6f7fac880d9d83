package connection

import "fmt"

// ConnectionError means the socket could not be opened or dropped before
// authentication completed. The manager retries these on its own.
type ConnectionError struct {
	Op  string // "dial", "auth", "read", "write", "heartbeat"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthenticationError means the gateway rejected the token. It is never retried
// with the same token; the caller must supply a fresh one.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return "authentication rejected"
	}
	return "authentication rejected: " + e.Reason
}

// TransmitError means a frame written on an authenticated session failed.
// The frame is lost; it is not re-queued.
type TransmitError struct {
	MessageID string
	Type      MessageType
	Err       error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("transmit %s %s: %v", e.Type, e.MessageID, e.Err)
}

func (e *TransmitError) Unwrap() error {
	return e.Err
}
