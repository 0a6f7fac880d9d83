package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Realtime.validate(); err != nil {
		return err
	}

	if err := c.Session.validate(); err != nil {
		return err
	}

	if c.Journal.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Status.Port < -1 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be between 1 and 65535 (or -1 to disable), got %d", c.Status.Port)
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (r *RealtimeConfig) validate() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("realtime.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("realtime.url must use ws or wss, got %q", u.Scheme)
	}
	if r.ReconnectMultiplier < 1 {
		return fmt.Errorf("realtime.reconnect_multiplier must be >= 1, got %v", r.ReconnectMultiplier)
	}
	if r.ReconnectMaxDelay < r.ReconnectBaseDelay {
		return errors.New("realtime.reconnect_max_delay cannot be less than reconnect_base_delay")
	}
	if r.MaxQueuedMessages != nil && *r.MaxQueuedMessages < 0 {
		return errors.New("realtime.max_queued_messages must be >= 0")
	}
	return nil
}

func (s *SessionConfig) validate() error {
	switch s.Provider {
	case "static":
		if s.Token == "" {
			return errors.New("session.token is required for the static provider")
		}
	case "supabase":
		if s.SupabaseURL == "" {
			return errors.New("session.supabase_url is required")
		}
		if s.AnonKey == "" {
			return errors.New("session.anon_key is required")
		}
		if s.RefreshToken == "" && (s.Email == "" || s.Password == "") {
			return errors.New("session requires email and password or a refresh_token")
		}
	default:
		return fmt.Errorf("session.provider must be static or supabase, got %q", s.Provider)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
