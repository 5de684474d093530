// Package session guards access to the backend behind stored credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/verte-zerg/panier/internal/api"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/store"
)

// ErrNotAuthenticated is returned when no valid session exists.
var ErrNotAuthenticated = errors.New("not authenticated")

// CredentialStore persists the token pair.
type CredentialStore interface {
	SaveCredentials(ctx context.Context, creds model.Credentials) error
	LoadCredentials(ctx context.Context) (model.Credentials, error)
	ClearCredentials(ctx context.Context) error
}

// Authenticator issues and checks tokens against the backend.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (api.Tokens, error)
	Refresh(ctx context.Context, refresh string) (string, error)
	Ping(ctx context.Context, token string) error
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// Gate is the single entry point for session checks.
type Gate struct {
	store  CredentialStore
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time
}

// NewGate returns a Gate backed by credentials and auth.
func NewGate(credentials CredentialStore, auth Authenticator, opts ...Option) *Gate {
	g := &Gate{
		store:  credentials,
		auth:   auth,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Login obtains a token pair and replaces any stored credentials with it.
func (g *Gate) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	tokens, err := g.auth.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	if err := g.store.ClearCredentials(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	creds := model.Credentials{
		Username:     username,
		AccessToken:  tokens.Access,
		RefreshToken: tokens.Refresh,
		SavedAt:      g.now(),
	}
	if err := g.store.SaveCredentials(ctx, creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	g.logger.Info("logged in", "user", username)
	return nil
}

// IsAuthenticated reports whether a valid session exists.
func (g *Gate) IsAuthenticated(ctx context.Context) bool {
	_, err := g.RequireAuth(ctx)
	return err == nil
}

// RequireAuth returns the access token of a valid session. A missing, expired
// or rejected token yields an error wrapping ErrNotAuthenticated; other
// failures of the backend check are returned as they are.
func (g *Gate) RequireAuth(ctx context.Context) (string, error) {
	creds, err := g.store.LoadCredentials(ctx)
	if errors.Is(err, store.ErrNoCredentials) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return "", ErrNotAuthenticated
	}
	if exp, ok := tokenExpiry(creds.AccessToken); ok && !g.now().Before(exp) {
		g.logger.Debug("access token expired", "expired_at", exp)
		return "", fmt.Errorf("%w: access token expired at %s", ErrNotAuthenticated, exp.Format(time.RFC3339))
	}
	if err := g.auth.Ping(ctx, creds.AccessToken); err != nil {
		if api.IsUnauthorized(err) {
			return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
		return "", fmt.Errorf("failed to check session: %w", err)
	}
	return creds.AccessToken, nil
}

// Username returns the stored username, or "" when logged out.
func (g *Gate) Username(ctx context.Context) string {
	creds, err := g.store.LoadCredentials(ctx)
	if err != nil {
		return ""
	}
	return creds.Username
}

// Logout posts the refresh token, then clears stored credentials. A failed
// refresh call is logged and does not prevent the credentials from being cleared.
func (g *Gate) Logout(ctx context.Context) error {
	creds, err := g.store.LoadCredentials(ctx)
	switch {
	case errors.Is(err, store.ErrNoCredentials):
	case err != nil:
		g.logger.Warn("failed to load credentials on logout", "error", err)
	case creds.RefreshToken != "":
		if _, rerr := g.auth.Refresh(ctx, creds.RefreshToken); rerr != nil {
			g.logger.Warn("logout refresh failed", "error", rerr)
		}
	}
	if err := g.store.ClearCredentials(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	g.logger.Info("logged out", "user", creds.Username)
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
