// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the caller's role claim as issued by the auth layer.
type Role string

const (
	RoleStudent       Role = "student"
	RoleAdmin         Role = "admin"
	RoleAdminReadonly Role = "admin_readonly"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAdmin, RoleAdminReadonly:
		return true
	}
	return false
}

// IsAdmin reports whether r may observe every user's state.
func (r Role) IsAdmin() bool { return r == RoleAdmin || r == RoleAdminReadonly }

// CanMutate reports whether r may run privileged mutating operations.
func (r Role) CanMutate() bool { return r == RoleAdmin }

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID          uuid.UUID // PK
	Username    string    // unique
	DisplayName string
	Role        Role
	PwdHash     []byte // Argon2id(password, SaltAuth)
	SaltAuth    []byte // per-user auth salt
	CreatedAt   time.Time
}
