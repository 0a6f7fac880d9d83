package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jarvis-app/realtime/internal/connection"
)

// Connector is the part of the connection manager the keeper drives.
type Connector interface {
	Connect(ctx context.Context, token string) error
	OnConnectionStateChange(fn func(connection.ConnectionState)) (unsubscribe func())
}

// KeeperConfig holds keeper configuration.
type KeeperConfig struct {
	RefreshBefore  time.Duration // Renew the token this long before it expires (default: 2m)
	RetryDelay     time.Duration // Wait after a failed session fetch or repeated rejection (default: 10s)
	ConnectTimeout time.Duration // Max wait for one Connect call (default: 30s)
}

// DefaultKeeperConfig returns sensible defaults.
func DefaultKeeperConfig() KeeperConfig {
	return KeeperConfig{
		RefreshBefore:  2 * time.Minute,
		RetryDelay:     10 * time.Second,
		ConnectTimeout: 30 * time.Second,
	}
}

// minRefreshWait keeps a nearly expired token from causing a refresh loop.
const minRefreshWait = time.Second

// Keeper keeps the connection manager supplied with a valid token.
type Keeper struct {
	cfg      KeeperConfig
	provider Provider
	conn     Connector
	logger   *slog.Logger
	now      func() time.Time

	rejected chan struct{}
	unsub    func()

	mu           sync.Mutex
	current      Session
	lastErr      error
	rejects      int  // consecutive rejections of our own Connect calls
	sawRejected  bool // AuthRejected in the last state seen
	rejectEdges  int  // times AuthRejected went from false to true
	handledEdges int  // edges already answered with a new token

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKeeper creates a Keeper.
func NewKeeper(cfg KeeperConfig, provider Provider, conn Connector, logger *slog.Logger) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultKeeperConfig()
	if cfg.RefreshBefore <= 0 {
		cfg.RefreshBefore = d.RefreshBefore
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = d.RetryDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	return &Keeper{
		cfg:      cfg,
		provider: provider,
		conn:     conn,
		logger:   logger.With("component", "session"),
		now:      time.Now,
		rejected: make(chan struct{}, 1),
	}
}

// Start connects in the background and keeps the token fresh.
func (k *Keeper) Start(ctx context.Context) error {
	k.ctx, k.cancel = context.WithCancel(ctx)

	k.unsub = k.conn.OnConnectionStateChange(k.observe)

	k.wg.Add(1)
	go k.run()

	k.logger.Info("session keeper started", "refresh_before", k.cfg.RefreshBefore)
	return nil
}

// Stop shuts the keeper down. The connection itself is left alone.
func (k *Keeper) Stop(ctx context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}
	if k.unsub != nil {
		k.unsub()
	}

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		k.logger.Info("session keeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns the session most recently handed to the connection.
func (k *Keeper) Session() Session {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// LastError returns the last session or connect failure, nil after a success.
func (k *Keeper) LastError() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastErr
}

// observe records rejections. Only the transition into AuthRejected counts:
// the flag stays set until the next Connect, so every later state change
// (a queued Send, for one) repeats it.
func (k *Keeper) observe(st connection.ConnectionState) {
	k.mu.Lock()
	edge := st.AuthRejected && !k.sawRejected
	k.sawRejected = st.AuthRejected
	if edge {
		k.rejectEdges++
	}
	k.mu.Unlock()

	if edge {
		select {
		case k.rejected <- struct{}{}:
		default:
		}
	}
}

// takeRejection reports whether a rejection is waiting to be answered.
func (k *Keeper) takeRejection() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.rejectEdges <= k.handledEdges {
		return false
	}
	k.handledEdges = k.rejectEdges
	return true
}

func (k *Keeper) run() {
	defer k.wg.Done()

	refresh := false
	for {
		wait, scheduled := k.cycle(refresh)
		refresh = true

		if !k.wait(wait, scheduled) {
			return
		}
	}
}

// wait blocks until the next refresh is due or an unanswered rejection
// arrives. It returns false when the keeper is stopping.
func (k *Keeper) wait(d time.Duration, scheduled bool) bool {
	var fire <-chan time.Time
	if scheduled {
		timer := time.NewTimer(d)
		defer timer.Stop()
		fire = timer.C
	}

	for {
		select {
		case <-k.ctx.Done():
			return false
		case <-fire:
			return true
		case <-k.rejected:
			if k.takeRejection() {
				k.logger.Warn("gateway rejected the token, refreshing")
				return true
			}
		}
	}
}

// cycle obtains a session and connects with it. It returns when the next
// refresh is due; scheduled is false when only a rejection can trigger one.
func (k *Keeper) cycle(refresh bool) (wait time.Duration, scheduled bool) {
	var (
		sess Session
		err  error
	)
	if refresh {
		sess, err = k.provider.Refresh(k.ctx)
	} else {
		sess, err = k.provider.Session(k.ctx)
	}
	if err != nil {
		if k.ctx.Err() != nil {
			return 0, false
		}
		k.setErr(err)
		if errors.Is(err, ErrRefreshUnsupported) {
			k.mu.Lock()
			rejected := k.rejects > 0 || k.sawRejected
			k.mu.Unlock()
			if rejected {
				k.logger.Error("token rejected and the session provider cannot refresh it")
			} else {
				k.logger.Warn("token is about to expire and the session provider cannot refresh it",
					"expires_at", k.Session().ExpiresAt)
			}
			return 0, false
		}
		k.logger.Warn("failed to obtain session", "error", err, "retry_in", k.cfg.RetryDelay)
		return k.cfg.RetryDelay, true
	}

	k.mu.Lock()
	k.current = sess
	k.mu.Unlock()

	ctx, cancel := context.WithTimeout(k.ctx, k.cfg.ConnectTimeout)
	err = k.conn.Connect(ctx, sess.AccessToken)
	cancel()

	var authErr *connection.AuthenticationError
	switch {
	case errors.As(err, &authErr):
		k.setErr(err)
		k.mu.Lock()
		k.rejects++
		rejects := k.rejects
		// Answered here. The manager stays rejected until the next Connect,
		// so its own report of this rejection is not a new transition.
		k.sawRejected = true
		k.handledEdges = k.rejectEdges
		k.mu.Unlock()

		k.logger.Warn("gateway rejected token", "reason", authErr.Reason, "consecutive", rejects)
		if rejects > 1 {
			return k.cfg.RetryDelay, true
		}
		return 0, true

	case err != nil:
		if k.ctx.Err() != nil {
			return 0, false
		}
		// The manager keeps reconnecting with this token on its own.
		k.setErr(err)
		k.markHandled()
		k.logger.Warn("connect did not complete", "error", err)

	default:
		k.mu.Lock()
		k.rejects = 0
		k.lastErr = nil
		k.sawRejected = false
		k.handledEdges = k.rejectEdges
		k.mu.Unlock()
		k.logger.Info("gateway session ready", "user_id", sess.UserID, "expires_at", sess.ExpiresAt)
	}

	return k.untilRefresh(sess)
}

func (k *Keeper) untilRefresh(s Session) (time.Duration, bool) {
	if s.ExpiresAt.IsZero() {
		return 0, false
	}
	d := s.ExpiresAt.Sub(k.now()) - k.cfg.RefreshBefore
	if d < minRefreshWait {
		d = minRefreshWait
	}
	return d, true
}

// markHandled answers every rejection seen so far; the token just handed to
// the manager supersedes them.
func (k *Keeper) markHandled() {
	k.mu.Lock()
	k.handledEdges = k.rejectEdges
	k.mu.Unlock()
}

func (k *Keeper) setErr(err error) {
	k.mu.Lock()
	k.lastErr = err
	k.mu.Unlock()
}
