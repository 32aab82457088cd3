package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/repository"
)

// UserRepo keeps accounts in memory.
type UserRepo struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]model.User
	byName map[string]uuid.UUID
}

var _ repository.UserRepository = (*UserRepo)(nil)

// NewUserRepo constructs an empty user store.
func NewUserRepo() *UserRepo {
	return &UserRepo{byID: map[uuid.UUID]model.User{}, byName: map[string]uuid.UUID{}}
}

// Create inserts a user; usernames are unique.
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	c := *u
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.byID[c.ID] = c
	r.byName[c.Username] = c.ID
	return nil
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// GetByUsername loads a user by username.
func (r *UserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	u := r.byID[id]
	return &u, nil
}

// ListByRole returns users with role ordered by username.
func (r *UserRepo) ListByRole(_ context.Context, role model.Role) ([]model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.User
	for _, u := range r.byID {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// SettingsRepo keeps the global gate in memory.
type SettingsRepo struct {
	mu     sync.RWMutex
	locked bool
}

var _ repository.SettingsRepository = (*SettingsRepo)(nil)

// NewSettingsRepo constructs an unlocked gate.
func NewSettingsRepo() *SettingsRepo { return &SettingsRepo{} }

// LoginLocked reads the gate.
func (r *SettingsRepo) LoginLocked(context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locked, nil
}

// SetLoginLocked writes the gate.
func (r *SettingsRepo) SetLoginLocked(_ context.Context, locked bool) error {
	r.mu.Lock()
	r.locked = locked
	r.mu.Unlock()
	return nil
}
