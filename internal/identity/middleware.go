package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// SessionLookup resolves session tokens to user IDs.
type SessionLookup interface {
	Lookup(ctx context.Context, token string) (string, error)
}

// RoleLookup resolves a user's role.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID string) (Role, error)
}

// Middleware attaches the request principal when the caller presents a valid
// session. Requests without one pass through anonymous; handlers decide.
type Middleware struct {
	Sessions   SessionLookup
	Roles      RoleLookup
	CookieName string
	Logger     *slog.Logger
}

// Authenticate resolves the principal for each request.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.token(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := m.Sessions.Lookup(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				m.logError("identity session lookup", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		role, err := m.Roles.RoleOf(r.Context(), userID)
		if err != nil {
			if !errors.Is(err, ErrUnknownUser) {
				m.logError("identity role lookup", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := ContextWithPrincipal(r.Context(), &Principal{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) token(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[len("bearer "):])
		}
	}
	if m.CookieName == "" {
		return ""
	}
	if c, err := r.Cookie(m.CookieName); err == nil {
		return c.Value
	}
	return ""
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}
