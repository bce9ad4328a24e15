package domain

// Role names carried on accounts and checked by RequireRole.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
