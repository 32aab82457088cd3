package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/policy"
	"github.com/and161185/slotkeeper/internal/repository"
)

// SlotRepo implements SlotRepository using PostgreSQL.
type SlotRepo struct{ db *DB }

// NewSlotRepo constructs a slot ledger.
func NewSlotRepo(db *DB) *SlotRepo { return &SlotRepo{db: db} }

const slotCols = `id, owner_id, slot_index, attempts_used, locked, phase, current_artifact, history, prompt_history, ver, updated_at`

func scanSlot(row pgx.Row) (model.Slot, error) {
	var (
		s     model.Slot
		phase string
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.SlotIndex, &s.AttemptsUsed, &s.Locked, &phase,
		&s.CurrentArtifact, &s.History, &s.PromptHistory, &s.Version, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Slot{}, errs.ErrNotFound
		}
		return model.Slot{}, err
	}
	s.Phase = model.Phase(phase)
	return s, nil
}

// Load returns the slot for (owner, index), creating it on first access.
// The insert is a no-op on conflict, so racing callers converge on one row.
func (r *SlotRepo) Load(ctx context.Context, ownerID uuid.UUID, slotIndex int) (model.Slot, error) {
	if slotIndex < 0 {
		return model.Slot{}, errors.New("validation: negative slot index")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Slot{}, err
	}
	const ins = `INSERT INTO slots (id, owner_id, slot_index) VALUES ($1,$2,$3) ON CONFLICT (owner_id, slot_index) DO NOTHING`
	if _, err := r.db.Pool.Exec(ctx, ins, id, ownerID, slotIndex); err != nil {
		return model.Slot{}, err
	}
	const sel = `SELECT ` + slotCols + ` FROM slots WHERE owner_id=$1 AND slot_index=$2`
	return scanSlot(r.db.Pool.QueryRow(ctx, sel, ownerID, slotIndex))
}

// LoadAll initializes slots 0..count-1 and returns them ordered by index.
func (r *SlotRepo) LoadAll(ctx context.Context, ownerID uuid.UUID, count int) ([]model.Slot, error) {
	if count <= 0 {
		return []model.Slot{}, nil
	}
	const ins = `
INSERT INTO slots (id, owner_id, slot_index)
SELECT gen_random_uuid(), $1, g FROM generate_series(0, $2 - 1) AS g
ON CONFLICT (owner_id, slot_index) DO NOTHING`
	if _, err := r.db.Pool.Exec(ctx, ins, ownerID, count); err != nil {
		return nil, err
	}
	const sel = `SELECT ` + slotCols + ` FROM slots WHERE owner_id=$1 AND slot_index<$2 ORDER BY slot_index ASC`
	rows, err := r.db.Pool.Query(ctx, sel, ownerID, count)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Slot, 0, count)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get returns a slot by ID.
func (r *SlotRepo) Get(ctx context.Context, slotID uuid.UUID) (model.Slot, error) {
	const q = `SELECT ` + slotCols + ` FROM slots WHERE id=$1`
	return scanSlot(r.db.Pool.QueryRow(ctx, q, slotID))
}

// RecordAttempt appends one generation under a row lock.
func (r *SlotRepo) RecordAttempt(ctx context.Context, slotID uuid.UUID, artifactRef, prompt string) (model.Slot, error) {
	return r.mutate(ctx, slotID, func(s *model.Slot) error {
		return repository.ApplyAttempt(s, policy.MaxAttempts(s.SlotIndex), artifactRef, prompt)
	})
}

// ClearArtifactsKeepLock drops artifact refs and keeps the lock.
func (r *SlotRepo) ClearArtifactsKeepLock(ctx context.Context, slotID uuid.UUID) (model.Slot, error) {
	return r.mutate(ctx, slotID, repository.ApplyClear)
}

// Archive swaps history for degraded copies.
func (r *SlotRepo) Archive(ctx context.Context, slotID uuid.UUID, compressedRefs []string) (model.Slot, error) {
	return r.mutate(ctx, slotID, func(s *model.Slot) error {
		return repository.ApplyArchive(s, compressedRefs)
	})
}

// AdminReset zeroes the slot.
func (r *SlotRepo) AdminReset(ctx context.Context, slotID uuid.UUID) (model.Slot, error) {
	return r.mutate(ctx, slotID, repository.ApplyReset)
}

// AdminForceLock locks the slot.
func (r *SlotRepo) AdminForceLock(ctx context.Context, slotID uuid.UUID) (model.Slot, error) {
	return r.mutate(ctx, slotID, repository.ApplyForceLock)
}

// AdminForceUnlockNoReset unlocks the slot below its cap.
func (r *SlotRepo) AdminForceUnlockNoReset(ctx context.Context, slotID uuid.UUID) (model.Slot, error) {
	return r.mutate(ctx, slotID, func(s *model.Slot) error {
		return repository.ApplyForceUnlock(s, policy.MaxAttempts(s.SlotIndex))
	})
}

// mutate runs fn against the row locked FOR UPDATE, validates the result
// and writes it back in the same transaction.
func (r *SlotRepo) mutate(ctx context.Context, slotID uuid.UUID, fn func(*model.Slot) error) (out model.Slot, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Slot{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT ` + slotCols + ` FROM slots WHERE id=$1 FOR UPDATE`
	s, err := scanSlot(tx.QueryRow(ctx, sel, slotID))
	if err != nil {
		return model.Slot{}, err
	}
	if err = fn(&s); err != nil {
		return model.Slot{}, err
	}
	if err = s.Validate(policy.MaxAttempts(s.SlotIndex)); err != nil {
		return model.Slot{}, err
	}
	s.Version++

	const upd = `
UPDATE slots
SET attempts_used=$2, locked=$3, phase=$4, current_artifact=$5, history=$6, prompt_history=$7, ver=$8, updated_at=now()
WHERE id=$1
RETURNING updated_at`
	hist, prompts := nonNil(s.History), nonNil(s.PromptHistory)
	if err = tx.QueryRow(ctx, upd, s.ID, s.AttemptsUsed, s.Locked, string(s.Phase), s.CurrentArtifact,
		hist, prompts, s.Version).Scan(&s.UpdatedAt); err != nil {
		return model.Slot{}, fmt.Errorf("update slot %s: %w", s.ID, err)
	}
	return s, nil
}

// nonNil keeps NOT NULL text[] columns from receiving NULL.
func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
