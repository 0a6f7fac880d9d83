package connection

import (
	"sync"
	"time"
)

// link is one socket generation. A reconnect always creates a new link, so
// events from a dead socket are recognised and ignored.
type link struct {
	id     uint64
	client Client

	stop     chan struct{}
	stopOnce sync.Once

	authTimer *time.Timer // guarded by Manager.mu

	pingMu sync.Mutex
	pings  map[string]*pendingPing
}

type pendingPing struct {
	sentAt time.Time
	done   chan time.Duration
}

func newLink(id uint64, c Client) *link {
	return &link{
		id:     id,
		client: c,
		stop:   make(chan struct{}),
		pings:  make(map[string]*pendingPing),
	}
}

// close stops the link's goroutines and the socket. Safe to call repeatedly.
func (l *link) close() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.client.Close()
	})
}

func (l *link) startPing(id string, now time.Time) *pendingPing {
	p := &pendingPing{
		sentAt: now,
		done:   make(chan time.Duration, 1),
	}
	l.pingMu.Lock()
	l.pings[id] = p
	l.pingMu.Unlock()
	return p
}

func (l *link) cancelPing(id string) {
	l.pingMu.Lock()
	delete(l.pings, id)
	l.pingMu.Unlock()
}

// completePing matches a pong to its ping and returns the round-trip time.
func (l *link) completePing(id string, at time.Time) (time.Duration, bool) {
	l.pingMu.Lock()
	p, ok := l.pings[id]
	if ok {
		delete(l.pings, id)
	}
	l.pingMu.Unlock()

	if !ok {
		return 0, false
	}

	rtt := at.Sub(p.sentAt)
	if rtt < 0 {
		rtt = 0
	}
	p.done <- rtt
	return rtt, true
}

func (l *link) awaiting(id string) bool {
	l.pingMu.Lock()
	defer l.pingMu.Unlock()
	_, ok := l.pings[id]
	return ok
}
