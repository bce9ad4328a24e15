package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-auth-session/internal/application/session"
	"github.com/go-auth-session/internal/domain"
)

// Cookie names carrying the session tokens.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type contextKey string

const accountKey contextKey = "account"

// Authenticate resolves the access token (cookie first, then Bearer header)
// through the session guard and injects the caller's profile into context.
func Authenticate(guard session.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, err := guard.Resolve(r.Context(), AccessToken(r))
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrNotFound):
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			default:
				slog.Error("session lookup failed", "err", err)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			ctx := context.WithValue(r.Context(), accountKey, a)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessToken returns the access token presented with r, or "".
func AccessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// AccountFromContext returns the profile injected by Authenticate.
func AccountFromContext(ctx context.Context) (*domain.Account, bool) {
	a, ok := ctx.Value(accountKey).(*domain.Account)
	return a, ok && a != nil
}

// WithAccount returns ctx carrying a, as Authenticate would.
func WithAccount(ctx context.Context, a *domain.Account) context.Context {
	return context.WithValue(ctx, accountKey, a)
}
