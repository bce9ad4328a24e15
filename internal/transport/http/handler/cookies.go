package handler

import (
	"net/http"
	"time"

	"github.com/go-auth-session/internal/transport/http/middleware"
)

// CookieConfig controls the session cookies. Secure is set in production.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (c CookieConfig) setAccess(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, token, int(c.AccessTTL.Seconds())))
}

func (c CookieConfig) setSession(w http.ResponseWriter, access, refresh string) {
	c.setAccess(w, access)
	http.SetCookie(w, c.cookie(middleware.RefreshTokenCookie, refresh, int(c.RefreshTTL.Seconds())))
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, "", -1))
	http.SetCookie(w, c.cookie(middleware.RefreshTokenCookie, "", -1))
}
