package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jarvis-app/realtime/internal/connection"
)

// Event is a gateway message republished under an application event name.
type Event struct {
	Name       string
	Type       connection.MessageType
	ID         string
	Payload    json.RawMessage
	Timestamp  int64 // sender timestamp, unix ms
	ReceivedAt time.Time
}

// Bus fans events out to subscribers. Publish never blocks.
type Bus struct {
	logger     *slog.Logger
	initialCap int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
}

// NewBus creates a bus whose subscriber queues start at initialCapacity.
func NewBus(initialCapacity int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if initialCapacity < 1 {
		initialCapacity = 64
	}
	return &Bus{
		logger:     logger,
		initialCap: initialCapacity,
		subs:       make(map[uint64]*Subscription),
	}
}

// Subscribe returns a subscription for the named events, or all events when
// no name is given.
func (b *Bus) Subscribe(names ...string) *Subscription {
	s := &Subscription{
		bus:   b,
		queue: NewQueue[Event](b.initialCap),
	}
	if len(names) > 0 {
		s.names = make(map[string]struct{}, len(names))
		for _, n := range names {
			s.names[n] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.queue.Close()
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish delivers ev to every matching subscriber and returns how many
// received it.
func (b *Bus) Publish(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, s := range b.subs {
		if s.matches(ev.Name) && s.queue.Push(ev) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Queued events remain readable.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.queue.Close()
	}
	b.logger.Debug("event bus closed", "subscribers", len(subs))
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	id    uint64
	bus   *Bus
	names map[string]struct{} // nil = everything
	queue *Queue[Event]
	once  sync.Once
}

// Next blocks for the next event. It returns false after Unsubscribe (or
// bus Close) once the backlog is drained, or when ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	return s.queue.Pop(ctx)
}

// Batch removes up to max pending events without blocking.
func (s *Subscription) Batch(max int) []Event {
	return s.queue.PopBatch(max)
}

// Pending returns the number of undelivered events.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

// Stats returns the subscription's queue statistics.
func (s *Subscription) Stats() QueueStats {
	return s.queue.Stats()
}

// Unsubscribe detaches from the bus. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		s.queue.Close()
	})
}

func (s *Subscription) matches(name string) bool {
	if s.names == nil {
		return true
	}
	_, ok := s.names[name]
	return ok
}
