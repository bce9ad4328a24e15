package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-auth-session/internal/domain"
)

// errorMapping pairs a sentinel with its status code and the generic message
// shown to clients. Order matters only for errors wrapping several sentinels.
var errorMapping = []struct {
	target  error
	status  int
	message string
}{
	{domain.ErrConflict, http.StatusBadRequest, "an account with this email already exists"},
	{domain.ErrExpired, http.StatusBadRequest, "the link or code has expired"},
	{domain.ErrInvalidCredentials, http.StatusBadRequest, "invalid email or password"},
	{domain.ErrInvalidCode, http.StatusBadRequest, "invalid code"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "too many attempts, try again later"},
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrNotFound, http.StatusNotFound, "not found"},
	{domain.ErrDeliveryFailed, http.StatusServiceUnavailable, "could not send email, try again later"},
}

// statusFor maps a service error to its HTTP status and client-facing message.
func statusFor(err error) (int, string) {
	if errors.Is(err, domain.ErrValidation) {
		return http.StatusBadRequest, domain.ErrValidation.Error()
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

// writeServiceError converts err into a response. Field-level detail is only
// exposed for validation failures; everything else gets a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, ValidationEnvelope{Error: domain.ErrValidation.Error(), Fields: ve.Fields})
		return
	}
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, msg)
}
