// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/slotkeeper/internal/model"
)

// UserRepository provides access to accounts.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// ListByRole returns users with the given role ordered by username.
	ListByRole(ctx context.Context, role model.Role) ([]model.User, error)
}

// SettingsRepository stores process-wide flags.
type SettingsRepository interface {
	// LoginLocked reads the global gate.
	LoginLocked(ctx context.Context) (bool, error)
	// SetLoginLocked writes the global gate.
	SetLoginLocked(ctx context.Context, locked bool) error
}
