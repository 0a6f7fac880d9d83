package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// ClientFactory builds the transport for one socket.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClientFactory replaces the websocket transport.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *Manager) {
		m.newClient = f
	}
}

// Manager owns the single logical connection to the gateway.
//
// All connection state is guarded by mu and only the manager mutates it.
// Callbacks (handlers and listeners) always run without mu held, so they may
// call back into the manager.
type Manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	newClient ClientFactory

	handlers         *handlerRegistry
	stateListeners   listenerSet[ConnectionState]
	latencyListeners listenerSet[time.Duration]

	wg sync.WaitGroup

	notifyMu      sync.Mutex
	notifying     bool // a goroutine is delivering state
	notifyPending bool // state changed since the last delivery began

	mu                sync.Mutex
	link              *link // current socket, nil while disconnected
	linkSeq           uint64
	dialing           bool
	token             string
	connected         bool
	authenticated     bool
	reconnectAttempts int
	reconnectDelay    time.Duration
	reconnectTimer    *time.Timer
	queue             []OutboundMessage
	lastMessageTime   time.Time
	lastError         string
	latency           time.Duration
	waiters           []chan error // Connect calls waiting for the current attempt
	stopped           bool         // Disconnect was called
	authRejected      bool         // the current token was rejected
	shutdown          bool
}

// NewManager creates a Connection Manager. Nothing is dialed until Connect.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "realtime"),
		newClient: NewClient,
		handlers:  newHandlerRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.ClientName == "" {
		c.ClientName = d.ClientName
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = d.Backoff
	}
	if c.MaxQueuedMessages < 0 {
		c.MaxQueuedMessages = 0
	}
	if c.InboundBufferSize <= 0 {
		c.InboundBufferSize = d.InboundBufferSize
	}
	return c
}

// Connect opens the socket if needed, authenticates with token and returns
// once the gateway acknowledges. It is a no-op when already authenticated.
//
// On failure the automatic reconnect policy takes over, except after an
// AuthenticationError, which waits for a Connect with a fresh token.
// Cancelling ctx only stops waiting; the attempt itself carries on.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}

	m.token = token
	m.stopped = false
	m.authRejected = false

	if m.connected && m.authenticated {
		m.mu.Unlock()
		m.logger.Debug("already connected")
		return nil
	}

	wait := make(chan error, 1)
	m.waiters = append(m.waiters, wait)

	if !m.dialing && m.link == nil {
		m.cancelReconnectLocked()
		m.dialing = true
		m.wg.Add(1)
		go m.open()
	}
	m.mu.Unlock()

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send transmits a frame immediately when authenticated, otherwise queues it
// for the next successful authentication. Queued sends never fail.
//
// A non-nil error is either a payload encoding error or a *TransmitError
// for a write that failed on an authenticated session; such frames are not
// re-queued.
func (m *Manager) Send(msgType MessageType, payload any) (string, error) {
	return m.SendWithID(NewMessageID(), msgType, payload)
}

// SendWithID is Send with a caller-chosen frame id.
func (m *Manager) SendWithID(id string, msgType MessageType, payload any) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = NewMessageID()
	}

	msg := OutboundMessage{
		ID:         id,
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	}

	m.mu.Lock()
	if m.authenticated && m.link != nil {
		l := m.link
		err := m.writeLocked(l, msg)
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("send failed", "type", msgType, "id", id, "error", err)
			m.drop(l, &ConnectionError{Op: "write", Err: err})
			return id, &TransmitError{MessageID: id, Type: msgType, Err: err}
		}
		m.logger.Debug("sent", "type", msgType, "id", id)
		return id, nil
	}

	dropped := m.enqueueLocked(msg)
	queued := len(m.queue)
	m.mu.Unlock()

	for _, d := range dropped {
		m.logger.Warn("outbound queue full, dropped oldest message",
			"type", d.Type,
			"id", d.ID,
			"limit", m.cfg.MaxQueuedMessages,
		)
	}
	m.logger.Debug("queued message (not connected)", "type", msgType, "id", id, "queued", queued)
	m.notifyState()

	return id, nil
}

// SendTask sends a task frame.
func (m *Manager) SendTask(task any) (string, error) {
	return m.Send(TypeTask, task)
}

// SendResponse answers a task; the response frame reuses the task id.
func (m *Manager) SendResponse(taskID string, result any) (string, error) {
	return m.SendWithID(taskID, TypeResponse, result)
}

// RegisterMessageHandler adds h for msgType. Handlers for the same type run
// in registration order on the goroutine that read the frame. The returned
// function removes exactly this registration and may be called repeatedly.
func (m *Manager) RegisterMessageHandler(msgType MessageType, h Handler) (unsubscribe func()) {
	return m.handlers.add(msgType, h)
}

// OnConnectionStateChange registers fn for state transitions. Listeners are
// called one delivery at a time, never concurrently, and always with a state
// at least as new as the previous one; changes that happen while a delivery
// is running are folded into the next snapshot.
func (m *Manager) OnConnectionStateChange(fn func(ConnectionState)) (unsubscribe func()) {
	return m.stateListeners.add(fn)
}

// OnLatencyChange registers fn for every completed heartbeat round-trip.
func (m *Manager) OnLatencyChange(fn func(time.Duration)) (unsubscribe func()) {
	return m.latencyListeners.add(fn)
}

// State returns a snapshot of the connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Latency returns the most recent round-trip sample, zero before the first one.
func (m *Manager) Latency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency
}

// Ping sends an on-demand ping and waits for its pong.
func (m *Manager) Ping(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	l := m.link
	ready := m.authenticated
	m.mu.Unlock()

	if l == nil || !ready {
		return 0, ErrNotConnected
	}

	id := newPingID()
	p := l.startPing(id, time.Now())
	if err := m.sendControl(l, Frame{Type: TypePing, ID: id}); err != nil {
		l.cancelPing(id)
		return 0, err
	}

	select {
	case rtt := <-p.done:
		return rtt, nil
	case <-ctx.Done():
		l.cancelPing(id)
		return 0, ctx.Err()
	case <-l.stop:
		return 0, ErrNotConnected
	}
}

// Disconnect closes the connection on the caller's behalf. No reconnect is
// scheduled; queued messages are kept for the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.cancelReconnectLocked()
	l := m.link
	m.link = nil
	m.connected = false
	m.authenticated = false
	waiters := m.takeWaitersLocked()
	m.mu.Unlock()

	if l != nil {
		l.close()
		m.logger.Info("disconnected by caller")
	}
	resolveWaiters(waiters, ErrDisconnected)
	m.notifyState()
}

// Shutdown disconnects and waits for background goroutines. The manager
// cannot be reused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	m.Disconnect()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}
}

// open dials, sends the auth frame and starts the read loop.
func (m *Manager) open() {
	defer m.wg.Done()

	m.mu.Lock()
	attempt := m.reconnectAttempts
	m.mu.Unlock()

	m.logger.Info("connecting", "url", m.cfg.URL, "attempt", attempt+1)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	c := m.newClient(m.cfg.clientConfig(), m.logger)
	if err := c.Connect(ctx); err != nil {
		m.openFailed(&ConnectionError{Op: "dial", Err: err})
		return
	}

	m.mu.Lock()
	if m.stopped || m.shutdown {
		m.dialing = false
		waiters := m.takeWaitersLocked()
		m.mu.Unlock()

		c.Close()
		resolveWaiters(waiters, ErrDisconnected)
		return
	}

	m.linkSeq++
	l := newLink(m.linkSeq, c)
	m.link = l
	m.dialing = false
	m.connected = true
	token := m.token
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(l)
	m.notifyState()

	m.logger.Info("connected, authenticating")

	auth, _ := encodePayload(AuthRequest{Token: token, Client: m.cfg.ClientName})
	if err := m.sendControl(l, Frame{Type: TypeAuth, ID: NewMessageID(), Payload: auth}); err != nil {
		m.drop(l, &ConnectionError{Op: "auth", Err: err})
		return
	}

	m.mu.Lock()
	if m.link == l && !m.authenticated {
		l.authTimer = time.AfterFunc(m.cfg.AuthTimeout, func() { m.authTimedOut(l) })
	}
	m.mu.Unlock()
}

// openFailed handles a dial that never produced a socket.
func (m *Manager) openFailed(err error) {
	m.mu.Lock()
	m.dialing = false
	m.lastError = err.Error()
	waiters := m.takeWaitersLocked()
	if m.shouldReconnectLocked() {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	m.logger.Warn("connection attempt failed", "error", err)
	resolveWaiters(waiters, err)
	m.notifyState()
}

// drop tears down l after an unexpected closure and schedules a reconnect.
func (m *Manager) drop(l *link, err error) {
	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.connected = false
	m.authenticated = false
	m.lastError = err.Error()
	waiters := m.takeWaitersLocked()
	if m.shouldReconnectLocked() {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	l.close()
	m.logger.Warn("connection lost", "error", err)
	resolveWaiters(waiters, err)
	m.notifyState()
}

func (m *Manager) authTimedOut(l *link) {
	m.mu.Lock()
	pending := m.link == l && !m.authenticated
	m.mu.Unlock()

	if pending {
		m.drop(l, &ConnectionError{Op: "auth", Err: ErrTimeout})
	}
}

func (m *Manager) shouldReconnectLocked() bool {
	return !m.stopped && !m.shutdown && !m.authRejected
}

// scheduleReconnectLocked arms the reconnect timer. Each call is one attempt.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}

	delay := m.cfg.Backoff.Delay(m.reconnectAttempts)
	m.reconnectAttempts++
	m.reconnectDelay = delay

	m.logger.Info("reconnecting",
		"delay", delay,
		"attempt", m.reconnectAttempts,
	)

	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectDelay = 0
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.reconnectTimer = nil
	m.reconnectDelay = 0
	if !m.shouldReconnectLocked() || m.link != nil || m.dialing {
		m.mu.Unlock()
		return
	}
	m.dialing = true
	m.wg.Add(1)
	m.mu.Unlock()

	m.open()
}

// readLoop consumes frames from one socket in wire order.
func (m *Manager) readLoop(l *link) {
	defer m.wg.Done()

	for {
		select {
		case <-l.stop:
			return

		case err := <-l.client.Errors():
			// The transport stops reading before it reports, so anything
			// still buffered precedes the failure.
			m.drainBuffered(l)
			m.drop(l, &ConnectionError{Op: "read", Err: err})
			return

		case msg := <-l.client.Messages():
			m.handleFrame(l, msg)
		}
	}
}

func (m *Manager) drainBuffered(l *link) {
	for {
		select {
		case msg := <-l.client.Messages():
			m.handleFrame(l, msg)
		default:
			return
		}
	}
}

// handleFrame decodes one inbound frame and routes it.
func (m *Manager) handleFrame(l *link, msg TimestampedMessage) {
	f, err := decodeFrame(msg.Data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.lastMessageTime = msg.ReceivedAt
	m.mu.Unlock()

	switch f.Type {
	case TypeAuth:
		m.handleAuth(l, f)
	case TypePong:
		m.handlePong(l, f, msg.ReceivedAt)
	case TypePing:
		if err := m.sendControl(l, Frame{Type: TypePong, ID: f.ID}); err != nil {
			m.logger.Debug("failed to answer ping", "error", err)
		}
	default:
		m.dispatch(InboundMessage{
			ID:         f.ID,
			Type:       f.Type,
			Payload:    f.Payload,
			Timestamp:  f.Timestamp,
			ReceivedAt: msg.ReceivedAt,
		})
	}
}

// handleAuth processes the gateway's auth ack or rejection. On success the
// queue is flushed in FIFO order before authenticated becomes true, so any
// Send racing with the ack is written after the backlog.
func (m *Manager) handleAuth(l *link, f Frame) {
	var ack AuthAck
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &ack); err != nil {
			ack = AuthAck{Error: "malformed auth ack"}
		}
	}

	m.mu.Lock()
	if m.link != l || m.authenticated {
		m.mu.Unlock()
		return
	}
	if l.authTimer != nil {
		l.authTimer.Stop()
	}

	if !ack.Authenticated {
		authErr := &AuthenticationError{Reason: ack.Error}
		m.authRejected = true
		m.link = nil
		m.connected = false
		m.lastError = authErr.Error()
		waiters := m.takeWaitersLocked()
		m.mu.Unlock()

		l.close()
		m.logger.Warn("authentication failed", "reason", ack.Error)
		resolveWaiters(waiters, authErr)
		m.notifyState()
		return
	}

	flushed := 0
	var flushErr error
	for len(m.queue) > 0 {
		if err := m.writeLocked(l, m.queue[0]); err != nil {
			flushErr = err
			break
		}
		m.queue[0] = OutboundMessage{}
		m.queue = m.queue[1:]
		flushed++
	}
	if flushErr != nil {
		// Unsent messages stay queued for the next session.
		m.mu.Unlock()
		m.drop(l, &ConnectionError{Op: "write", Err: flushErr})
		return
	}

	m.authenticated = true
	m.reconnectAttempts = 0
	m.reconnectDelay = 0
	m.lastError = ""
	waiters := m.takeWaitersLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	go m.heartbeatLoop(l)

	m.logger.Info("authenticated", "flushed", flushed, "user_id", ack.UserID)
	resolveWaiters(waiters, nil)
	m.notifyState()
}

func (m *Manager) handlePong(l *link, f Frame, at time.Time) {
	rtt, ok := l.completePing(f.ID, at)
	if !ok {
		m.logger.Debug("unsolicited pong", "id", f.ID)
		return
	}

	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.latency = rtt
	m.mu.Unlock()

	m.logger.Debug("latency", "rtt", rtt)
	m.latencyListeners.emit(rtt, m.logger, "latency")
}

// dispatch delivers msg to every handler for its type. Frames of unknown
// types also reach the default handlers.
func (m *Manager) dispatch(msg InboundMessage) {
	switch msg.Type {
	case TypeTask:
		m.logger.Debug("task received", "id", msg.ID)
	case TypeResponse:
		m.logger.Debug("response received", "id", msg.ID)
	case TypeStatus:
		m.logger.Debug("status update", "id", msg.ID)
	case TypeError:
		m.logger.Warn("gateway error frame", "id", msg.ID, "payload", string(msg.Payload))
	default:
		m.logger.Debug("message received", "type", msg.Type, "id", msg.ID)
	}

	kind := "handler:" + string(msg.Type)
	if set := m.handlers.get(msg.Type); set != nil {
		set.emit(msg, m.logger, kind)
	}
	if !msg.Type.Known() && msg.Type != TypeDefault {
		if set := m.handlers.get(TypeDefault); set != nil {
			set.emit(msg, m.logger, kind)
		}
	}
}

// heartbeatLoop pings every HeartbeatInterval. A pong missing after
// PongTimeout drops the link the same way an unexpected closure does.
func (m *Manager) heartbeatLoop(l *link) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var (
		pingID   string
		deadline <-chan time.Time
	)

	for {
		select {
		case <-l.stop:
			return

		case <-ticker.C:
			if pingID != "" && l.awaiting(pingID) {
				continue
			}
			pingID = newPingID()
			l.startPing(pingID, time.Now())
			if err := m.sendControl(l, Frame{Type: TypePing, ID: pingID}); err != nil {
				m.drop(l, &ConnectionError{Op: "heartbeat", Err: err})
				return
			}
			deadline = time.After(m.cfg.PongTimeout)

		case <-deadline:
			deadline = nil
			if l.awaiting(pingID) {
				m.logger.Warn("no pong received, connection stale", "timeout", m.cfg.PongTimeout)
				m.drop(l, &ConnectionError{Op: "heartbeat", Err: ErrStaleConnection})
				return
			}
		}
	}
}

// writeLocked writes msg on l. Callers hold mu, which keeps app frames in order.
func (m *Manager) writeLocked(l *link, msg OutboundMessage) error {
	data, err := encodeFrame(msg.frame())
	if err != nil {
		return err
	}
	return l.client.Send(data)
}

// sendControl writes a reserved frame, bypassing the queue.
func (m *Manager) sendControl(l *link, f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return l.client.Send(data)
}

// enqueueLocked appends msg and returns whatever overflow pushed out.
func (m *Manager) enqueueLocked(msg OutboundMessage) []OutboundMessage {
	m.queue = append(m.queue, msg)

	limit := m.cfg.MaxQueuedMessages
	if limit <= 0 || len(m.queue) <= limit {
		return nil
	}

	n := len(m.queue) - limit
	dropped := make([]OutboundMessage, n)
	copy(dropped, m.queue[:n])
	m.queue = append([]OutboundMessage(nil), m.queue[n:]...)
	return dropped
}

func (m *Manager) stateLocked() ConnectionState {
	return ConnectionState{
		Connected:         m.connected,
		Authenticated:     m.authenticated,
		ReconnectAttempts: m.reconnectAttempts,
		QueuedMessages:    len(m.queue),
		LastMessageTime:   m.lastMessageTime,
		ReconnectDelay:    m.reconnectDelay,
		LastError:         m.lastError,
		AuthRejected:      m.authRejected,
	}
}

func (m *Manager) takeWaitersLocked() []chan error {
	w := m.waiters
	m.waiters = nil
	return w
}

// notifyState delivers the current state to the state listeners. Deliveries
// never overlap: a change made while listeners run, including by a listener,
// is left to the goroutine already delivering, which then sends the newest
// snapshot. Listeners therefore never see an older state after a newer one.
func (m *Manager) notifyState() {
	m.notifyMu.Lock()
	m.notifyPending = true
	if m.notifying {
		m.notifyMu.Unlock()
		return
	}
	m.notifying = true
	for m.notifyPending {
		m.notifyPending = false
		m.notifyMu.Unlock()

		m.mu.Lock()
		st := m.stateLocked()
		m.mu.Unlock()
		m.stateListeners.emit(st, m.logger, "state")

		m.notifyMu.Lock()
	}
	m.notifying = false
	m.notifyMu.Unlock()
}

func resolveWaiters(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}
