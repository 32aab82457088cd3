package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/slotkeeper/internal/blobstore"
	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/presence"
	"github.com/and161185/slotkeeper/internal/repository"
	"github.com/and161185/slotkeeper/internal/slotlock"
)

// AdminService holds the privileged overrides. Every mutating method requires
// model.RoleAdmin; admin_readonly callers get errs.ErrForbidden.
type AdminService interface {
	// Reset zeroes a slot, reopens it and purges its artifacts.
	Reset(ctx context.Context, p model.Principal, slotID uuid.UUID) (model.Slot, error)
	// ForceLock locks a slot without touching counters or history.
	ForceLock(ctx context.Context, p model.Principal, slotID uuid.UUID) (model.Slot, error)
	// ForceUnlock reopens a slot below its cap without resetting it.
	ForceUnlock(ctx context.Context, p model.Principal, slotID uuid.UUID) (model.Slot, error)
	// ForceClear drops a slot's artifacts, keeping attempts and the lock.
	ForceClear(ctx context.Context, p model.Principal, slotID uuid.UUID) (model.Slot, error)
	// Presence lists users currently generating.
	Presence(ctx context.Context, p model.Principal) ([]PresenceEntry, error)
	// Students lists student accounts.
	Students(ctx context.Context, p model.Principal) ([]model.User, error)
}

// PresenceEntry is one user flagged as generating.
type PresenceEntry struct {
	UserID   uuid.UUID
	Username string
	Since    time.Time
}

type AdminServiceImpl struct {
	slots    repository.SlotRepository
	users    repository.UserRepository
	blobs    blobstore.Store
	locks    *slotlock.Locker
	presence *presence.Tracker
	log      *zap.Logger
}

// NewAdminService constructs AdminService. locks must be the instance the
// slot service uses so admin writers contend with the student path.
func NewAdminService(slots repository.SlotRepository, users repository.UserRepository, blobs blobstore.Store,
	locks *slotlock.Locker, pres *presence.Tracker, log *zap.Logger) *AdminServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminServiceImpl{slots: slots, users: users, blobs: blobs, locks: locks, presence: pres, log: log}
}

// withSlot runs fn under the slot's writer lock.
func (a *AdminServiceImpl) withSlot(ctx context.Context, p model.Principal, slotID uuid.UUID, op string,
	fn func(cur model.Slot) (model.Slot, error)) (model.Slot, error) {
	if !p.Role.CanMutate() {
		return model.Slot{}, errs.ErrForbidden
	}
	if slotID == uuid.Nil {
		return model.Slot{}, errors.New("validation: empty slot id")
	}
	unlock, err := a.locks.Lock(ctx, slotID)
	if err != nil {
		return model.Slot{}, err
	}
	defer unlock()

	cur, err := a.slots.Get(ctx, slotID)
	if err != nil {
		return model.Slot{}, err
	}
	out, err := fn(cur)
	if err != nil {
		logLedgerErr(a.log, op, slotID, err)
		return model.Slot{}, err
	}
	a.log.Info("admin override",
		zap.String("op", op),
		zap.String("slot", slotID.String()),
		zap.String("by", p.UserID.String()),
		zap.String("state", string(out.State())),
	)
	return out, nil
}

// Reset implements AdminService.
func (a *AdminServiceImpl) Reset(ctx context.Context, p model.Principal, slotID uuid.UUID) (model.Slot, error) {
	return a.withSlot(ctx, p, slotID, "reset", func(cur model.Slot) (model.Slot, error) {
		out, err := a.slots.AdminReset(ctx, slotID)
		if err != nil {
			return model.Slot{}, err
		}
		// ledger first: a crash here leaks blobs rather than leaving dangling refs
		purgeBlobs(context.WithoutCancel(ctx), a.blobs, a.log, slotID, cur.History)
		return out, nil
	})
}

// ForceLock implements AdminService.
func (a *AdminServiceImpl) ForceLock(ctx context.Context, p model.Principal, slotID uuid.UUID) (model.Slot, error) {
	return a.withSlot(ctx, p, slotID, "force_lock", func(model.Slot) (model.Slot, error) {
		return a.slots.AdminForceLock(ctx, slotID)
	})
}

// ForceUnlock implements AdminService.
func (a *AdminServiceImpl) ForceUnlock(ctx context.Context, p model.Principal, slotID uuid.UUID) (model.Slot, error) {
	return a.withSlot(ctx, p, slotID, "force_unlock", func(model.Slot) (model.Slot, error) {
		return a.slots.AdminForceUnlockNoReset(ctx, slotID)
	})
}

// ForceClear implements AdminService.
func (a *AdminServiceImpl) ForceClear(ctx context.Context, p model.Principal, slotID uuid.UUID) (model.Slot, error) {
	return a.withSlot(ctx, p, slotID, "force_clear", func(cur model.Slot) (model.Slot, error) {
		out, err := a.slots.ClearArtifactsKeepLock(ctx, slotID)
		if err != nil {
			return model.Slot{}, err
		}
		// ledger first: a crash here leaks blobs rather than leaving dangling refs
		purgeBlobs(context.WithoutCancel(ctx), a.blobs, a.log, slotID, cur.History)
		return out, nil
	})
}

// Presence implements AdminService. Readonly admins may call it.
func (a *AdminServiceImpl) Presence(ctx context.Context, p model.Principal) ([]PresenceEntry, error) {
	if !p.Role.IsAdmin() {
		return nil, errs.ErrForbidden
	}
	snap := a.presence.Snapshot()
	out := make([]PresenceEntry, 0, len(snap))
	for id, since := range snap {
		e := PresenceEntry{UserID: id, Since: since}
		if u, err := a.users.GetByID(ctx, id); err == nil {
			e.Username = u.Username
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out, nil
}

// Students implements AdminService.
func (a *AdminServiceImpl) Students(ctx context.Context, p model.Principal) ([]model.User, error) {
	if !p.Role.IsAdmin() {
		return nil, errs.ErrForbidden
	}
	return a.users.ListByRole(ctx, model.RoleStudent)
}
