package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubRoles map[string]Role

func (s stubRoles) RoleOf(ctx context.Context, userID string) (Role, error) {
	role, ok := s[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	return role, nil
}

type failingSessions struct{}

func (failingSessions) Lookup(ctx context.Context, token string) (string, error) {
	return "", errors.New("redis: connection refused")
}

func capturePrincipal(got **Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareAuthenticate(t *testing.T) {
	ctx := context.Background()
	sessions, _ := newTestSessions(t, time.Hour)
	adminToken, err := sessions.Issue(ctx, "u-admin")
	require.NoError(t, err)
	ghostToken, err := sessions.Issue(ctx, "u-ghost")
	require.NoError(t, err)

	mw := Middleware{
		Sessions:   sessions,
		Roles:      stubRoles{"u-admin": RoleAdmin},
		CookieName: "contadesk_session",
	}

	cases := []struct {
		name     string
		decorate func(*http.Request)
		want     *Principal
	}{
		{"no credentials", func(*http.Request) {}, nil},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+adminToken) }, &Principal{UserID: "u-admin", Role: RoleAdmin}},
		{"cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "contadesk_session", Value: adminToken})
		}, &Principal{UserID: "u-admin", Role: RoleAdmin}},
		{"unknown token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, nil},
		{"inactive user", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+ghostToken) }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got *Principal
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.decorate(req)
			rec := httptest.NewRecorder()
			mw.Authenticate(capturePrincipal(&got)).ServeHTTP(rec, req)
			require.Equal(t, http.StatusNoContent, rec.Code)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMiddlewareSessionBackendFailure(t *testing.T) {
	mw := Middleware{Sessions: failingSessions{}, Roles: stubRoles{}}
	var got *Principal
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	mw.Authenticate(capturePrincipal(&got)).ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Nil(t, got)
}

func TestPrincipalHasAnyRole(t *testing.T) {
	p := &Principal{UserID: "u-1", Role: RoleContador}
	require.True(t, p.HasAnyRole(RoleAdmin, RoleContador))
	require.False(t, p.HasAnyRole(RoleAdmin))
	var nilPrincipal *Principal
	require.False(t, nilPrincipal.HasAnyRole(RoleAdmin))
	require.Nil(t, PrincipalFromContext(context.Background()))
}
