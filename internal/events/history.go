package events

import (
	"context"
	"sync"
)

// DefaultHistorySize matches the debug console of the web client.
const DefaultHistorySize = 100

// History keeps the most recent events for inspection, newest first.
type History struct {
	size int

	mu     sync.Mutex
	events []Event
}

// NewHistory creates a history holding at most size events.
func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add records ev.
func (h *History) Add(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, ev)
	if len(h.events) > h.size {
		h.events = append(h.events[:0:0], h.events[len(h.events)-h.size:]...)
	}
}

// Recent returns up to n events, newest first. n <= 0 returns all of them.
func (h *History) Recent(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.events) {
		n = len(h.events)
	}
	out := make([]Event, 0, n)
	for i := len(h.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.events[i])
	}
	return out
}

// Clear drops all recorded events.
func (h *History) Clear() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

// Run records events from sub until it ends or ctx is done.
func (h *History) Run(ctx context.Context, sub *Subscription) {
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		h.Add(ev)
	}
}
