package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-auth-session/internal/application/auth"
	"github.com/go-auth-session/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	svc auth.Service
}

func NewAdminHandler(svc auth.Service) *AdminHandler { return &AdminHandler{svc: svc} }

// RevokeSessions invalidates the refresh token and cached profile of an account.
func (h *AdminHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if err := h.svc.Revoke(r.Context(), accountID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if admin, ok := middleware.AccountFromContext(r.Context()); ok {
		slog.Info("admin revoked sessions", "admin_id", admin.AccountID, "account_id", accountID)
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "sessions revoked"})
}
