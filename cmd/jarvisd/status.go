package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jarvis-app/realtime/internal/connection"
	"github.com/jarvis-app/realtime/internal/events"
	"github.com/jarvis-app/realtime/internal/journal"
	"github.com/jarvis-app/realtime/internal/session"
	"github.com/jarvis-app/realtime/internal/version"
)

type gatewayStatus interface {
	State() connection.ConnectionState
	Latency() time.Duration
}

type sessionStatus interface {
	Session() session.Session
	LastError() error
}

type journalStatus interface {
	Stats() journal.Metrics
}

type pinger interface {
	Ping(ctx context.Context) error
}

// statusDeps are the components reported by the status server. journal and
// db are nil when the journal is disabled.
type statusDeps struct {
	gateway gatewayStatus
	session sessionStatus
	history *events.History
	journal journalStatus
	db      pinger
}

type stateView struct {
	Connected         bool      `json:"connected"`
	Authenticated     bool      `json:"authenticated"`
	AuthRejected      bool      `json:"auth_rejected"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	ReconnectDelayMS  int64     `json:"reconnect_delay_ms"`
	QueuedMessages    int       `json:"queued_messages"`
	LastMessageTime   time.Time `json:"last_message_time,omitzero"`
	LastError         string    `json:"last_error,omitempty"`
	LatencyMS         float64   `json:"latency_ms"`
	UserID            string    `json:"user_id,omitempty"`
	SessionExpiresAt  time.Time `json:"session_expires_at,omitzero"`
	SessionError      string    `json:"session_error,omitempty"`
	Version           string    `json:"version"`
}

type eventView struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// newStatusHandler creates the HTTP handler for health checks and debugging.
func newStatusHandler(d statusDeps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		st := d.gateway.State()
		switch {
		case st.AuthRejected:
			health.Status = "unhealthy"
			health.Components["gateway"] = map[string]string{
				"status": "auth_rejected",
				"error":  st.LastError,
			}
		case st.Ready():
			health.Components["gateway"] = "authenticated"
		default:
			health.Status = "degraded"
			health.Components["gateway"] = map[string]any{
				"status":             "reconnecting",
				"reconnect_attempts": st.ReconnectAttempts,
				"queued_messages":    st.QueuedMessages,
			}
		}

		if d.db != nil {
			if err := d.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		if d.journal != nil {
			m := d.journal.Stats()
			health.Components["journal"] = map[string]int64{
				"inserts":   m.Inserts,
				"conflicts": m.Conflicts,
				"errors":    m.Errors,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("write health response", "error", err)
		}
	})

	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		st := d.gateway.State()
		view := stateView{
			Connected:         st.Connected,
			Authenticated:     st.Authenticated,
			AuthRejected:      st.AuthRejected,
			ReconnectAttempts: st.ReconnectAttempts,
			ReconnectDelayMS:  st.ReconnectDelay.Milliseconds(),
			QueuedMessages:    st.QueuedMessages,
			LastMessageTime:   st.LastMessageTime,
			LastError:         st.LastError,
			LatencyMS:         float64(d.gateway.Latency()) / float64(time.Millisecond),
			Version:           version.String(),
		}
		if d.session != nil {
			s := d.session.Session()
			view.UserID = s.UserID
			view.SessionExpiresAt = s.ExpiresAt
			if err := d.session.LastError(); err != nil {
				view.SessionError = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(view)
	})

	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		recent := d.history.Recent(limit)
		out := make([]eventView, 0, len(recent))
		for _, ev := range recent {
			out = append(out, eventView{
				Name:       ev.Name,
				Type:       string(ev.Type),
				ID:         ev.ID,
				Payload:    ev.Payload,
				ReceivedAt: ev.ReceivedAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":    len(out),
			"messages": out,
		})
	})

	return mux
}
