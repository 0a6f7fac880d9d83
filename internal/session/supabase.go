package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Credentials used to obtain a Supabase session.
type Credentials struct {
	Email        string
	Password     string
	RefreshToken string
}

// SupabaseProvider obtains sessions from Supabase GoTrue.
type SupabaseProvider struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
	expirySkew   time.Duration
	now          func() time.Time

	mu      sync.Mutex
	creds   Credentials
	current Session
}

// SupabaseOption configures a SupabaseProvider.
type SupabaseOption func(*SupabaseProvider)

// NewSupabaseProvider creates a provider for the project at baseURL
// (e.g. https://xyz.supabase.co).
func NewSupabaseProvider(baseURL, anonKey string, creds Credentials, opts ...SupabaseOption) *SupabaseProvider {
	p := &SupabaseProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
		expirySkew:   30 * time.Second,
		now:          time.Now,
		creds:        creds,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) SupabaseOption {
	return func(p *SupabaseProvider) {
		p.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) SupabaseOption {
	return func(p *SupabaseProvider) {
		p.maxRetries = max
		p.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SupabaseOption {
	return func(p *SupabaseProvider) {
		p.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) SupabaseOption {
	return func(p *SupabaseProvider) {
		p.httpClient = hc
	}
}

// WithExpirySkew treats tokens as expired this long before their exp claim.
func WithExpirySkew(d time.Duration) SupabaseOption {
	return func(p *SupabaseProvider) {
		p.expirySkew = d
	}
}

// tokenResponse is the GoTrue /token response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// Session returns the cached session unless it is about to expire.
func (p *SupabaseProvider) Session(ctx context.Context) (Session, error) {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()

	if cur.AccessToken != "" && !cur.ExpiresWithin(p.expirySkew, p.now()) {
		return cur, nil
	}
	return p.Refresh(ctx)
}

// Refresh obtains a new session. The refresh-token grant is tried first; a
// rejected refresh token falls back to the password grant when one is configured.
func (p *SupabaseProvider) Refresh(ctx context.Context) (Session, error) {
	p.mu.Lock()
	creds := p.creds
	if p.current.RefreshToken != "" {
		creds.RefreshToken = p.current.RefreshToken
	}
	p.mu.Unlock()

	var (
		resp *tokenResponse
		err  error
	)

	switch {
	case creds.RefreshToken != "":
		resp, err = p.refreshGrant(ctx, creds.RefreshToken)
		var apiErr *APIError
		if err != nil && errors.As(err, &apiErr) && !apiErr.IsRetryable() && creds.Email != "" && creds.Password != "" {
			p.logger.Warn("refresh token rejected, signing in again", "status", apiErr.StatusCode)
			resp, err = p.passwordGrant(ctx, creds.Email, creds.Password)
		}
	case creds.Email != "" && creds.Password != "":
		resp, err = p.passwordGrant(ctx, creds.Email, creds.Password)
	default:
		return Session{}, ErrNoCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("supabase token: %w", err)
	}

	s := p.toSession(resp)

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	p.logger.Info("session obtained", "user_id", s.UserID, "expires_at", s.ExpiresAt)
	return s, nil
}

func (p *SupabaseProvider) passwordGrant(ctx context.Context, email, password string) (*tokenResponse, error) {
	var resp tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := p.post(ctx, "/auth/v1/token?grant_type=password", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *SupabaseProvider) refreshGrant(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	var resp tokenResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := p.post(ctx, "/auth/v1/token?grant_type=refresh_token", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *SupabaseProvider) toSession(r *tokenResponse) Session {
	s := Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		UserID:       r.User.ID,
		Email:        r.User.Email,
	}

	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		s.ExpiresAt = p.now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	if claims, err := ParseClaims(r.AccessToken); err == nil {
		if s.UserID == "" {
			s.UserID = claims.Subject
		}
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = claims.Expiry()
		}
	}
	return s
}
