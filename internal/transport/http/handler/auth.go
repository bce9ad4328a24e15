package handler

import (
	"net/http"

	"github.com/go-auth-session/internal/application/auth"
	"github.com/go-auth-session/internal/domain"
	"github.com/go-auth-session/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

const (
	registeredMessage = "check your email to verify your account"
	otpSentMessage    = "a login code has been sent to your email"
)

// AuthHandler exposes the registration, login and session endpoints.
type AuthHandler struct {
	svc     auth.Service
	cookies CookieConfig
}

func NewAuthHandler(svc auth.Service, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{svc: svc, cookies: cookies}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Register(r.Context(), middleware.ClientIP(r), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: registeredMessage})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProfileEnvelope{User: a, Message: "account created"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Login(r.Context(), middleware.ClientIP(r), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: otpSentMessage})
}

func (h *AuthHandler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.VerifyOtp(r.Context(), middleware.ClientIP(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.cookies.setSession(w, res.AccessToken, res.RefreshToken)
	writeJSON(w, http.StatusOK, SessionEnvelope{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         res.Account,
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	a, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, ProfileEnvelope{User: a})
}

// Refresh reads the refresh token from its cookie, falling back to a JSON
// body {"refresh_token": "..."} for clients that cannot hold cookies.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refresh := ""
	if c, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
		refresh = c.Value
	}
	if refresh == "" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := decodeJSON(w, r, &body); err != nil && !isEmptyBody(err) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		refresh = body.RefreshToken
	}

	access, err := h.svc.RefreshAccessToken(r.Context(), refresh)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.cookies.setAccess(w, access)
	writeJSON(w, http.StatusOK, AccessEnvelope{AccessToken: access})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	a, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Logout(r.Context(), a.AccountID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.cookies.clear(w)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}
