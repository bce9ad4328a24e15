package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-auth-session/internal/domain"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ValidationEnvelope lists the rejected fields of a request.
type ValidationEnvelope struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields"`
}

// SessionEnvelope is returned when a login completes.
type SessionEnvelope struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	User         *domain.Account `json:"user"`
}

// AccessEnvelope is returned by refresh.
type AccessEnvelope struct {
	AccessToken string `json:"access_token"`
}

// ProfileEnvelope wraps a single profile.
type ProfileEnvelope struct {
	User    *domain.Account `json:"user"`
	Message string          `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// decodeJSON reads a bounded JSON body into v. An empty body is reported as io.EOF.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func isEmptyBody(err error) bool {
	return errors.Is(err, io.EOF)
}
