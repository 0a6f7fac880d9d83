package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jarvis-app/realtime/internal/connection"
)

// Application event names.
const (
	EventTask     = "jarvis:task"
	EventResponse = "jarvis:response"
	EventStatus   = "jarvis:status"
)

// bridged maps gateway message types to the events they become.
var bridged = map[connection.MessageType]string{
	connection.TypeTask:     EventTask,
	connection.TypeResponse: EventResponse,
	connection.TypeStatus:   EventStatus,
}

// EventName returns the application event for a message type, or "" if the
// type is not bridged.
func EventName(t connection.MessageType) string {
	return bridged[t]
}

// Registrar is the part of the connection manager the bridge needs.
type Registrar interface {
	RegisterMessageHandler(msgType connection.MessageType, h connection.Handler) (unsubscribe func())
}

// Bridge forwards task, response and status messages onto a Bus.
type Bridge struct {
	bus    *Bus
	logger *slog.Logger

	mu     sync.Mutex
	unsubs []func()

	published atomic.Int64
}

// NewBridge creates a bridge publishing on bus.
func NewBridge(bus *Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		bus:    bus,
		logger: logger,
	}
}

// Attach registers the bridge's handlers. Attaching twice is a no-op.
func (b *Bridge) Attach(r Registrar) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.unsubs) > 0 {
		return
	}
	for msgType, name := range bridged {
		b.unsubs = append(b.unsubs, r.RegisterMessageHandler(msgType, b.forward(name)))
	}
	b.logger.Info("event bridge attached", "events", len(bridged))
}

// Detach removes the handlers registered by Attach.
func (b *Bridge) Detach() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// Published returns the number of events handed to the bus.
func (b *Bridge) Published() int64 {
	return b.published.Load()
}

func (b *Bridge) forward(name string) connection.Handler {
	return func(msg connection.InboundMessage) {
		n := b.bus.Publish(Event{
			Name:       name,
			Type:       msg.Type,
			ID:         msg.ID,
			Payload:    msg.Payload,
			Timestamp:  msg.Timestamp,
			ReceivedAt: msg.ReceivedAt,
		})
		b.published.Add(1)
		b.logger.Debug("event published", "event", name, "id", msg.ID, "subscribers", n)
	}
}
