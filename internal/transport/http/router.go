package http

import (
	"net/http"

	"github.com/go-auth-session/internal/config"
	"github.com/go-auth-session/internal/domain"
	"github.com/go-auth-session/internal/transport/http/handler"
	appmiddleware "github.com/go-auth-session/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds the application router. The returned stop func releases
// the background resources of the router's middleware.
func NewRouter(cfg *config.Config, deps *Deps) (http.Handler, func()) {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Coarse per-IP throttle in front of the per-(ip, email) budgets of the flows.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.IPThrottleRPS), cfg.IPThrottleBurst)

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(deps.Auth, handler.CookieConfig{
		Secure:     cfg.IsProduction(),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	adminH := handler.NewAdminHandler(deps.Auth)

	r.Route("/api/v1", func(r chi.Router) {
		// ── Public routes ────────────────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/register", authH.Register)
		r.With(sensitiveRL.Limit).Post("/verify/{token}", authH.VerifyEmail)
		r.With(sensitiveRL.Limit).Post("/login", authH.Login)
		r.With(sensitiveRL.Limit).Post("/verify", authH.VerifyOtp)
		r.Post("/refresh", authH.Refresh)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Authenticate(deps.Guard))

			r.Get("/me", authH.Me)
			r.Post("/logout", authH.Logout)

			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/admin/accounts/{id}/revoke", adminH.RevokeSessions)
			})
		})
	})

	return r, sensitiveRL.Stop
}
