package auth

import (
	"context"
	"time"
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the resolved caller of a lifecycle operation.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) IsAdmin() bool     { return i.Role == RoleAdmin }
func (i Identity) IsRequester() bool { return i.Role == RoleRequester }
func (i Identity) IsProvider() bool  { return i.Role == RoleProvider }

type identityKey struct{}

// WithIdentity stores the caller on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
