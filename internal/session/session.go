package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRefreshUnsupported is returned by providers that cannot mint a new token.
	ErrRefreshUnsupported = errors.New("session refresh not supported")

	// ErrNoCredentials means the provider has neither a refresh token nor a password.
	ErrNoCredentials = errors.New("no credentials to obtain a session")
)

// Session is an authenticated user session.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Email        string
	ExpiresAt    time.Time // zero when the token carries no expiry
}

// ExpiresWithin reports whether the token expires within d of now.
func (s Session) ExpiresWithin(d time.Duration, now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// Provider returns the current session.
type Provider interface {
	// Session returns a usable session, obtaining one if needed.
	Session(ctx context.Context) (Session, error)

	// Refresh discards the current token and obtains a new one.
	Refresh(ctx context.Context) (Session, error)
}

// StaticProvider always returns the same token.
type StaticProvider struct {
	session Session
}

// NewStaticProvider wraps token. When token is a JWT its subject, email and
// expiry are filled in from the claims; userID overrides the subject.
func NewStaticProvider(token, userID string) *StaticProvider {
	s := Session{AccessToken: token}
	if claims, err := ParseClaims(token); err == nil {
		s.UserID = claims.Subject
		s.Email = claims.Email
		s.ExpiresAt = claims.Expiry()
	}
	if userID != "" {
		s.UserID = userID
	}
	return &StaticProvider{session: s}
}

// Session returns the configured token.
func (p *StaticProvider) Session(ctx context.Context) (Session, error) {
	if p.session.AccessToken == "" {
		return Session{}, ErrNoCredentials
	}
	return p.session, nil
}

// Refresh always fails: a static token cannot be renewed.
func (p *StaticProvider) Refresh(ctx context.Context) (Session, error) {
	return Session{}, ErrRefreshUnsupported
}
