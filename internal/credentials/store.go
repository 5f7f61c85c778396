// Package credentials owns the OAuth token pair of each platform that needs
// one and performs the refresh-token exchange.
//
// A Store is created once per platform and injected into the adapter and the
// authorization routes. Tokens are rotated in place; no history is kept.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/metrics"
)

// ErrNoRefreshToken is returned by Refresh when there is nothing to exchange
var ErrNoRefreshToken = errors.New("no refresh token")

// Credentials is the token pair and derived identity of one platform
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Identity     string // Bot login, when the platform has one
}

// Store holds the current credentials of one platform
type Store struct {
	platform   message.Platform
	oauth      *oauth2.Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *slog.Logger

	mu    sync.RWMutex
	creds Credentials
}

// Option configures a Store
type Option func(*Store)

// WithHTTPClient sets the client used for token exchanges
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

// New creates a store seeded with initial credentials
func New(platform message.Platform, oauthCfg *oauth2.Config, initial Credentials, opts ...Option) *Store {
	s := &Store{
		platform: platform,
		oauth:    oauthCfg,
		creds:    initial,
		log:      slog.Default().With("platform", string(platform)),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(platform) + "-token-refresh",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("token refresh breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return s
}

// Platform returns the platform this store belongs to
func (s *Store) Platform() message.Platform {
	return s.platform
}

// Snapshot returns a copy of the current credentials
func (s *Store) Snapshot() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// HasToken reports whether an access token is held
func (s *Store) HasToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken != ""
}

// Install replaces the credentials wholesale; used after authorization
func (s *Store) Install(c Credentials) {
	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
}

// SetIdentity records the identity derived from the current token
func (s *Store) SetIdentity(identity string) {
	s.mu.Lock()
	s.creds.Identity = identity
	s.mu.Unlock()
}

// Refresh exchanges the stored refresh token for a new token pair. On
// success both tokens are replaced; on any failure the stored pair is left
// untouched. A result obtained for a refresh token that Install has since
// replaced is discarded. After five consecutive failures the exchange is
// skipped for a minute and Refresh fails with gobreaker.ErrOpenState.
func (s *Store) Refresh(ctx context.Context) error {
	current := s.Snapshot()
	if current.RefreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues(string(s.platform), "skipped").Inc()
		return ErrNoRefreshToken
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		seed := &oauth2.Token{RefreshToken: current.RefreshToken}
		return s.oauth.TokenSource(s.clientContext(ctx), seed).Token()
	})
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(string(s.platform), "failed").Inc()
		s.log.Error("token refresh failed", "error", err)
		return fmt.Errorf("refresh %s token: %w", s.platform, err)
	}

	tok := result.(*oauth2.Token)
	if tok.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues(string(s.platform), "failed").Inc()
		return fmt.Errorf("refresh %s token: empty access token", s.platform)
	}

	s.mu.Lock()
	if s.creds.RefreshToken != current.RefreshToken {
		// Install ran during the round trip; its pair is newer
		s.mu.Unlock()
		metrics.TokenRefreshes.WithLabelValues(string(s.platform), "stale").Inc()
		s.log.Info("discarding refresh result, credentials were replaced meanwhile")
		return nil
	}
	s.creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.creds.RefreshToken = tok.RefreshToken
	}
	s.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues(string(s.platform), "ok").Inc()
	s.log.Info("token refreshed successfully")
	return nil
}

// AuthCodeURL returns the platform's authorization page URL
func (s *Store) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return s.oauth.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a token pair. It does not
// install the result; the caller decides once the identity is known.
func (s *Store) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (Credentials, error) {
	tok, err := s.oauth.Exchange(s.clientContext(ctx), code, opts...)
	if err != nil {
		return Credentials{}, fmt.Errorf("exchange %s code: %w", s.platform, err)
	}
	return Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

func (s *Store) clientContext(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}
