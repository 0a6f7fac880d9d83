package connection

import (
	"fmt"
	"log/slog"
	"sync"
)

// listenerSet holds callbacks in registration order.
type listenerSet[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id uint64
	fn func(T)
}

// add registers fn and returns a function that removes exactly this
// registration. Calling it more than once is a no-op.
func (s *listenerSet[T]) add(fn func(T)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, listenerEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *listenerSet[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.id == id {
			kept := make([]listenerEntry[T], 0, len(s.entries)-1)
			kept = append(kept, s.entries[:i]...)
			kept = append(kept, s.entries[i+1:]...)
			s.entries = kept
			return
		}
	}
}

func (s *listenerSet[T]) snapshot() []func(T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fns := make([]func(T), len(s.entries))
	for i, e := range s.entries {
		fns[i] = e.fn
	}
	return fns
}

func (s *listenerSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// emit calls every listener with v. A panicking listener is logged and
// does not stop delivery to the rest.
func (s *listenerSet[T]) emit(v T, logger *slog.Logger, kind string) {
	for _, fn := range s.snapshot() {
		safeCall(fn, v, logger, kind)
	}
}

func safeCall[T any](fn func(T), v T, logger *slog.Logger, kind string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener panicked",
				"listener", kind,
				"error", fmt.Sprint(r),
			)
		}
	}()
	fn(v)
}

// handlerRegistry maps message types to handler sets.
type handlerRegistry struct {
	mu   sync.RWMutex
	sets map[MessageType]*listenerSet[InboundMessage]
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		sets: make(map[MessageType]*listenerSet[InboundMessage]),
	}
}

func (r *handlerRegistry) add(t MessageType, h Handler) func() {
	r.mu.Lock()
	set, ok := r.sets[t]
	if !ok {
		set = &listenerSet[InboundMessage]{}
		r.sets[t] = set
	}
	r.mu.Unlock()

	return set.add(h)
}

func (r *handlerRegistry) get(t MessageType) *listenerSet[InboundMessage] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[t]
}

// count returns the number of handlers registered for t.
func (r *handlerRegistry) count(t MessageType) int {
	set := r.get(t)
	if set == nil {
		return 0
	}
	return set.len()
}
