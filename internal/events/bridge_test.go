package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jarvis-app/realtime/internal/connection"
)

// fakeRegistrar records handlers the way the connection manager does.
type fakeRegistrar struct {
	mu       sync.Mutex
	handlers map[connection.MessageType][]*connection.Handler
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{handlers: make(map[connection.MessageType][]*connection.Handler)}
}

func (r *fakeRegistrar) RegisterMessageHandler(t connection.MessageType, h connection.Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	hp := &h
	r.handlers[t] = append(r.handlers[t], hp)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.handlers[t]
		for i, p := range list {
			if p == hp {
				r.handlers[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (r *fakeRegistrar) deliver(msg connection.InboundMessage) {
	r.mu.Lock()
	list := append([]*connection.Handler(nil), r.handlers[msg.Type]...)
	r.mu.Unlock()

	for _, h := range list {
		(*h)(msg)
	}
}

func (r *fakeRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.handlers {
		n += len(l)
	}
	return n
}

func TestEventName(t *testing.T) {
	tests := []struct {
		in   connection.MessageType
		want string
	}{
		{connection.TypeTask, EventTask},
		{connection.TypeResponse, EventResponse},
		{connection.TypeStatus, EventStatus},
		{connection.TypeError, ""},
		{"notification", ""},
	}
	for _, tt := range tests {
		if got := EventName(tt.in); got != tt.want {
			t.Errorf("EventName(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBridge_Forwards(t *testing.T) {
	bus := NewBus(4, quietLogger())
	sub := bus.Subscribe()
	reg := newFakeRegistrar()

	b := NewBridge(bus, quietLogger())
	b.Attach(reg)
	b.Attach(reg)

	if reg.count() != 3 {
		t.Fatalf("registered %d handlers, want 3", reg.count())
	}

	now := time.Now()
	reg.deliver(connection.InboundMessage{ID: "t1", Type: connection.TypeTask, Payload: json.RawMessage(`{"x":1}`), ReceivedAt: now})
	reg.deliver(connection.InboundMessage{ID: "r1", Type: connection.TypeResponse})
	reg.deliver(connection.InboundMessage{ID: "e1", Type: connection.TypeError})
	reg.deliver(connection.InboundMessage{ID: "s1", Type: connection.TypeStatus})

	want := []struct{ name, id string }{
		{EventTask, "t1"},
		{EventResponse, "r1"},
		{EventStatus, "s1"},
	}
	for _, w := range want {
		ev, ok := sub.Next(context.Background())
		if !ok {
			t.Fatalf("missing event %s", w.name)
		}
		if ev.Name != w.name || ev.ID != w.id {
			t.Errorf("event = %s/%s, want %s/%s", ev.Name, ev.ID, w.name, w.id)
		}
	}
	if b.Published() != 3 {
		t.Errorf("Published() = %d, want 3", b.Published())
	}

	b.Detach()
	if reg.count() != 0 {
		t.Errorf("%d handlers left after Detach", reg.count())
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		h.Add(Event{ID: id})
	}

	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Recent(0) returned %d, want 3", len(got))
	}
	if got[0].ID != "d" || got[2].ID != "b" {
		t.Errorf("Recent(0) = %v, want newest first d..b", []string{got[0].ID, got[1].ID, got[2].ID})
	}
	if got := h.Recent(1); len(got) != 1 || got[0].ID != "d" {
		t.Errorf("Recent(1) = %+v", got)
	}

	h.Clear()
	if len(h.Recent(0)) != 0 {
		t.Error("Clear did not empty the history")
	}
}

func TestHistory_Run(t *testing.T) {
	bus := NewBus(4, quietLogger())
	h := NewHistory(10)
	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		h.Run(context.Background(), sub)
		close(done)
	}()

	bus.Publish(Event{Name: EventTask, ID: "1"})
	bus.Publish(Event{Name: EventStatus, ID: "2"})
	sub.Unsubscribe()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Unsubscribe")
	}
	if n := len(h.Recent(0)); n != 2 {
		t.Errorf("recorded %d events, want 2", n)
	}
}
