package http

import (
	"github.com/go-auth-session/internal/application/auth"
	"github.com/go-auth-session/internal/application/session"
)

// Deps holds the application services the router exposes.
type Deps struct {
	Auth  auth.Service
	Guard session.Guard
}
