package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/slotkeeper/internal/model"
)

// SlotRepository is the quota ledger. Every mutation validates the slot
// invariants before it is committed and returns the new state.
type SlotRepository interface {
	// Load returns the slot for (owner, index), creating a zeroed row if absent.
	// Concurrent first loads yield a single row.
	Load(ctx context.Context, ownerID uuid.UUID, slotIndex int) (model.Slot, error)

	// LoadAll initializes slots 0..count-1 for owner and returns them ordered by index.
	LoadAll(ctx context.Context, ownerID uuid.UUID, count int) ([]model.Slot, error)

	// Get returns a slot by ID.
	Get(ctx context.Context, slotID uuid.UUID) (model.Slot, error)

	// RecordAttempt appends artifact and prompt, increments attempts and recomputes the lock.
	RecordAttempt(ctx context.Context, slotID uuid.UUID, artifactRef, prompt string) (model.Slot, error)

	// ClearArtifactsKeepLock drops artifact refs but keeps attempts, prompts and the lock.
	ClearArtifactsKeepLock(ctx context.Context, slotID uuid.UUID) (model.Slot, error)

	// Archive replaces history refs with degraded copies and forces the lock.
	Archive(ctx context.Context, slotID uuid.UUID, compressedRefs []string) (model.Slot, error)

	// AdminReset zeroes the slot and unlocks it.
	AdminReset(ctx context.Context, slotID uuid.UUID) (model.Slot, error)

	// AdminForceLock sets locked=true without touching counters or history.
	AdminForceLock(ctx context.Context, slotID uuid.UUID) (model.Slot, error)

	// AdminForceUnlockNoReset sets locked=false without touching counters or history.
	AdminForceUnlockNoReset(ctx context.Context, slotID uuid.UUID) (model.Slot, error)
}
