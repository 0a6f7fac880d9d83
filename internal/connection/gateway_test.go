package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeGateway is a scripted Jarvis gateway for tests.
type fakeGateway struct {
	server *httptest.Server

	validToken  string
	ackDelay    time.Duration
	answerPings bool

	mu        sync.Mutex
	conns     []*gatewayConn
	frames    []receivedFrame // application frames, all sockets
	authCount int
	tokens    []string
}

type gatewayConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	acked   bool
}

type receivedFrame struct {
	Frame
	afterAck bool // whether this socket had been acked when the frame arrived
}

func newFakeGateway(t *testing.T, validToken string) *fakeGateway {
	t.Helper()

	g := &fakeGateway{
		validToken:  validToken,
		answerPings: true,
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		gc := &gatewayConn{conn: conn}
		g.mu.Lock()
		g.conns = append(g.conns, gc)
		g.mu.Unlock()

		g.serve(gc)
	}))
	t.Cleanup(g.server.Close)

	return g
}

func (g *fakeGateway) serve(gc *gatewayConn) {
	for {
		_, data, err := gc.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case TypeAuth:
			var req AuthRequest
			json.Unmarshal(f.Payload, &req)

			g.mu.Lock()
			g.authCount++
			g.tokens = append(g.tokens, req.Token)
			delay := g.ackDelay
			valid := req.Token == g.validToken
			g.mu.Unlock()

			ack := AuthAck{Authenticated: valid}
			if !ack.Authenticated {
				ack.Error = "invalid token"
			}
			payload, _ := json.Marshal(ack)

			// Ack off the read goroutine so frames sent early are still observed before it.
			go func(id string) {
				if delay > 0 {
					time.Sleep(delay)
				}
				g.mu.Lock()
				gc.acked = ack.Authenticated
				g.mu.Unlock()
				gc.write(Frame{Type: TypeAuth, ID: id, Payload: payload})
			}(f.ID)

		case TypePing:
			g.mu.Lock()
			answer := g.answerPings
			g.mu.Unlock()
			if answer {
				gc.write(Frame{Type: TypePong, ID: f.ID})
			}

		default:
			g.mu.Lock()
			g.frames = append(g.frames, receivedFrame{Frame: f, afterAck: gc.acked})
			g.mu.Unlock()
		}
	}
}

func (gc *gatewayConn) write(f Frame) error {
	data, _ := json.Marshal(f)
	gc.writeMu.Lock()
	defer gc.writeMu.Unlock()
	return gc.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

// push writes a frame on the most recent socket.
func (g *fakeGateway) push(t *testing.T, f Frame) {
	t.Helper()
	g.mu.Lock()
	if len(g.conns) == 0 {
		g.mu.Unlock()
		t.Fatal("push: no gateway connection")
	}
	gc := g.conns[len(g.conns)-1]
	g.mu.Unlock()

	if err := gc.write(f); err != nil {
		t.Fatalf("push: %v", err)
	}
}

// dropAll closes every socket without a close handshake.
func (g *fakeGateway) dropAll() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()

	for _, gc := range conns {
		gc.conn.Close()
	}
}

// setValidToken changes the token later auth frames must carry.
func (g *fakeGateway) setValidToken(token string) {
	g.mu.Lock()
	g.validToken = token
	g.mu.Unlock()
}

func (g *fakeGateway) setAckDelay(d time.Duration) {
	g.mu.Lock()
	g.ackDelay = d
	g.mu.Unlock()
}

func (g *fakeGateway) setAnswerPings(v bool) {
	g.mu.Lock()
	g.answerPings = v
	g.mu.Unlock()
}

func (g *fakeGateway) received() []receivedFrame {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]receivedFrame, len(g.frames))
	copy(out, g.frames)
	return out
}

func (g *fakeGateway) auths() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authCount
}

// testConfig returns a config with short timings against url.
func testConfig(url string) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = url
	cfg.ConnectTimeout = time.Second
	cfg.AuthTimeout = time.Second
	cfg.HeartbeatInterval = time.Hour
	cfg.PongTimeout = time.Second
	cfg.Backoff = Backoff{Base: 10 * time.Millisecond, Max: 80 * time.Millisecond, Multiplier: 2}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	m := NewManager(cfg, quietLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// scriptedClient is an in-memory transport. It acks every auth frame and,
// once broken, fails every other write.
type scriptedClient struct {
	msgs chan TimestampedMessage
	errs chan error

	mu     sync.Mutex
	broken bool
	closed bool
	sent   []Frame
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		msgs: make(chan TimestampedMessage, 16),
		errs: make(chan error, 1),
	}
}

func (c *scriptedClient) Connect(ctx context.Context) error { return nil }

func (c *scriptedClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *scriptedClient) Send(data []byte) error {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	if f.Type == TypeAuth {
		payload, _ := json.Marshal(AuthAck{Authenticated: true, UserID: "user-1"})
		ack, _ := json.Marshal(Frame{Type: TypeAuth, ID: f.ID, Payload: payload})
		c.msgs <- TimestampedMessage{Data: ack, ReceivedAt: time.Now()}
		return nil
	}
	if c.broken {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *scriptedClient) Messages() <-chan TimestampedMessage { return c.msgs }
func (c *scriptedClient) Errors() <-chan error                { return c.errs }

func (c *scriptedClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *scriptedClient) breakWrites() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

func (c *scriptedClient) frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.sent...)
}

// scriptedFactory hands out scriptedClients and remembers them.
type scriptedFactory struct {
	mu      sync.Mutex
	clients []*scriptedClient
}

func (f *scriptedFactory) build(cfg ClientConfig, logger *slog.Logger) Client {
	c := newScriptedClient()
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c
}

func (f *scriptedFactory) client(i int) *scriptedClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.clients) {
		return nil
	}
	return f.clients[i]
}

func (f *scriptedFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}
