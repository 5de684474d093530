package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/panier/internal/api"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/store"
)

type memStore struct {
	creds   *model.Credentials
	cleared int
}

func (m *memStore) SaveCredentials(_ context.Context, creds model.Credentials) error {
	m.creds = &creds
	return nil
}

func (m *memStore) LoadCredentials(context.Context) (model.Credentials, error) {
	if m.creds == nil {
		return model.Credentials{}, store.ErrNoCredentials
	}
	return *m.creds, nil
}

func (m *memStore) ClearCredentials(context.Context) error {
	m.creds = nil
	m.cleared++
	return nil
}

type fakeAuth struct {
	tokens     api.Tokens
	loginErr   error
	pingErr    error
	refreshErr error
	refreshed  []string
	pinged     []string
}

func (f *fakeAuth) Login(context.Context, string, string) (api.Tokens, error) {
	return f.tokens, f.loginErr
}

func (f *fakeAuth) Refresh(_ context.Context, refresh string) (string, error) {
	f.refreshed = append(f.refreshed, refresh)
	return "new", f.refreshErr
}

func (f *fakeAuth) Ping(_ context.Context, token string) error {
	f.pinged = append(f.pinged, token)
	return f.pingErr
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	s, err := token.SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

func newGate(s *memStore, a *fakeAuth) *Gate {
	return NewGate(s, a, WithLogger(quietLogger()), WithClock(func() time.Time { return now }))
}

func TestLoginStoresTokens(t *testing.T) {
	s := &memStore{creds: &model.Credentials{AccessToken: "stale"}}
	a := &fakeAuth{tokens: api.Tokens{Access: "acc", Refresh: "ref"}}
	g := newGate(s, a)

	require.NoError(t, g.Login(context.Background(), " alice ", "pw"))
	require.NotNil(t, s.creds)
	assert.Equal(t, "alice", s.creds.Username)
	assert.Equal(t, "acc", s.creds.AccessToken)
	assert.Equal(t, "ref", s.creds.RefreshToken)
	assert.Equal(t, 1, s.cleared)
	assert.Equal(t, "alice", g.Username(context.Background()))
}

func TestLoginFailureKeepsStore(t *testing.T) {
	s := &memStore{}
	a := &fakeAuth{loginErr: errors.New("bad credentials")}
	err := newGate(s, a).Login(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.Nil(t, s.creds)

	assert.Error(t, newGate(s, a).Login(context.Background(), "", "pw"))
}

func TestRequireAuthWithoutCredentials(t *testing.T) {
	g := newGate(&memStore{}, &fakeAuth{})
	_, err := g.RequireAuth(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, g.IsAuthenticated(context.Background()))
}

func TestRequireAuthChecksExpiryBeforePing(t *testing.T) {
	a := &fakeAuth{}
	s := &memStore{creds: &model.Credentials{AccessToken: signed(t, now.Add(-time.Minute))}}
	_, err := newGate(s, a).RequireAuth(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, a.pinged)
}

func TestRequireAuthValidToken(t *testing.T) {
	token := signed(t, now.Add(time.Hour))
	a := &fakeAuth{}
	g := newGate(&memStore{creds: &model.Credentials{AccessToken: token}}, a)
	got, err := g.RequireAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, got)
	assert.Equal(t, []string{token}, a.pinged)
}

func TestRequireAuthOpaqueTokenReliesOnPing(t *testing.T) {
	a := &fakeAuth{pingErr: &api.StatusError{Code: http.StatusUnauthorized, Status: "401 Unauthorized"}}
	g := newGate(&memStore{creds: &model.Credentials{AccessToken: "opaque"}}, a)
	_, err := g.RequireAuth(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	a.pingErr = nil
	assert.True(t, g.IsAuthenticated(context.Background()))
}

func TestRequireAuthSurfacesNetworkErrors(t *testing.T) {
	a := &fakeAuth{pingErr: errors.New("connection refused")}
	g := newGate(&memStore{creds: &model.Credentials{AccessToken: "opaque"}}, a)
	_, err := g.RequireAuth(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthenticated)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLogoutClearsEvenWhenRefreshFails(t *testing.T) {
	s := &memStore{creds: &model.Credentials{AccessToken: "acc", RefreshToken: "ref"}}
	a := &fakeAuth{refreshErr: errors.New("offline")}
	require.NoError(t, newGate(s, a).Logout(context.Background()))
	assert.Nil(t, s.creds)
	assert.Equal(t, []string{"ref"}, a.refreshed)
}

func TestLogoutWithoutCredentials(t *testing.T) {
	s := &memStore{}
	a := &fakeAuth{}
	require.NoError(t, newGate(s, a).Logout(context.Background()))
	assert.Empty(t, a.refreshed)
	assert.Equal(t, 1, s.cleared)
}
