// Package memory contains in-process repository implementations for
// development (-store=memory) and service tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/policy"
	"github.com/and161185/slotkeeper/internal/repository"
)

type slotKey struct {
	owner uuid.UUID
	index int
}

// SlotRepo is a mutex-guarded ledger. Returned slots are deep copies.
type SlotRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*model.Slot
	byOwner map[slotKey]uuid.UUID
}

var _ repository.SlotRepository = (*SlotRepo)(nil)

// NewSlotRepo constructs an empty ledger.
func NewSlotRepo() *SlotRepo {
	return &SlotRepo{byID: map[uuid.UUID]*model.Slot{}, byOwner: map[slotKey]uuid.UUID{}}
}

func (r *SlotRepo) loadLocked(ownerID uuid.UUID, slotIndex int) (*model.Slot, error) {
	k := slotKey{ownerID, slotIndex}
	if id, ok := r.byOwner[k]; ok {
		return r.byID[id], nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	s := &model.Slot{ID: id, OwnerID: ownerID, SlotIndex: slotIndex, Phase: model.PhaseActive, UpdatedAt: time.Now()}
	r.byID[id] = s
	r.byOwner[k] = id
	return s, nil
}

// Load returns or creates the slot.
func (r *SlotRepo) Load(_ context.Context, ownerID uuid.UUID, slotIndex int) (model.Slot, error) {
	if slotIndex < 0 {
		return model.Slot{}, errors.New("validation: negative slot index")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.loadLocked(ownerID, slotIndex)
	if err != nil {
		return model.Slot{}, err
	}
	return s.Clone(), nil
}

// LoadAll initializes and returns slots 0..count-1.
func (r *SlotRepo) LoadAll(_ context.Context, ownerID uuid.UUID, count int) ([]model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Slot, 0, count)
	for i := 0; i < count; i++ {
		s, err := r.loadLocked(ownerID, i)
		if err != nil {
			return nil, err
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out, nil
}

// Get returns a slot by ID.
func (r *SlotRepo) Get(_ context.Context, slotID uuid.UUID) (model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[slotID]
	if !ok {
		return model.Slot{}, errs.ErrNotFound
	}
	return s.Clone(), nil
}

// RecordAttempt appends one generation.
func (r *SlotRepo) RecordAttempt(_ context.Context, slotID uuid.UUID, artifactRef, prompt string) (model.Slot, error) {
	return r.mutate(slotID, func(s *model.Slot) error {
		return repository.ApplyAttempt(s, policy.MaxAttempts(s.SlotIndex), artifactRef, prompt)
	})
}

// ClearArtifactsKeepLock drops artifact refs.
func (r *SlotRepo) ClearArtifactsKeepLock(_ context.Context, slotID uuid.UUID) (model.Slot, error) {
	return r.mutate(slotID, repository.ApplyClear)
}

// Archive swaps history for degraded copies.
func (r *SlotRepo) Archive(_ context.Context, slotID uuid.UUID, compressedRefs []string) (model.Slot, error) {
	return r.mutate(slotID, func(s *model.Slot) error { return repository.ApplyArchive(s, compressedRefs) })
}

// AdminReset zeroes the slot.
func (r *SlotRepo) AdminReset(_ context.Context, slotID uuid.UUID) (model.Slot, error) {
	return r.mutate(slotID, repository.ApplyReset)
}

// AdminForceLock locks the slot.
func (r *SlotRepo) AdminForceLock(_ context.Context, slotID uuid.UUID) (model.Slot, error) {
	return r.mutate(slotID, repository.ApplyForceLock)
}

// AdminForceUnlockNoReset unlocks the slot below its cap.
func (r *SlotRepo) AdminForceUnlockNoReset(_ context.Context, slotID uuid.UUID) (model.Slot, error) {
	return r.mutate(slotID, func(s *model.Slot) error {
		return repository.ApplyForceUnlock(s, policy.MaxAttempts(s.SlotIndex))
	})
}

// mutate applies fn to a copy and stores it only if the invariants hold.
func (r *SlotRepo) mutate(slotID uuid.UUID, fn func(*model.Slot) error) (model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[slotID]
	if !ok {
		return model.Slot{}, errs.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return model.Slot{}, err
	}
	if err := next.Validate(policy.MaxAttempts(next.SlotIndex)); err != nil {
		return model.Slot{}, err
	}
	next.Version++
	next.UpdatedAt = time.Now()
	*cur = next
	return next.Clone(), nil
}

// Put stores s as-is, bypassing the ledger rules. Test seeding only.
func (r *SlotRepo) Put(s model.Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := s.Clone()
	r.byID[s.ID] = &c
	r.byOwner[slotKey{s.OwnerID, s.SlotIndex}] = s.ID
}
