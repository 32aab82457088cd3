package repository

import (
	"fmt"

	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
)

// Ledger transitions shared by the postgres and in-memory backends. Each one
// mutates s in place; callers validate invariants afterwards and discard s
// on any error.

// ApplyAttempt records one successful generation.
func ApplyAttempt(s *model.Slot, maxAttempts int, artifactRef, prompt string) error {
	if !s.CanGenerate(maxAttempts) {
		return errs.ErrQuotaExhausted
	}
	s.History = append(s.History, artifactRef)
	s.PromptHistory = append(s.PromptHistory, prompt)
	s.CurrentArtifact = artifactRef
	s.AttemptsUsed++
	if s.AttemptsUsed >= maxAttempts {
		s.Locked = true
	}
	return nil
}

// ApplyClear empties artifact refs, keeping attempts, prompts and the lock.
func ApplyClear(s *model.Slot) error {
	s.History = nil
	s.CurrentArtifact = ""
	s.Locked = true
	s.Phase = model.PhaseCleared
	return nil
}

// ApplyArchive swaps history for degraded copies, one for one.
func ApplyArchive(s *model.Slot, compressedRefs []string) error {
	if s.Phase != model.PhaseActive || !s.Locked {
		return fmt.Errorf("archive from state %s: %w", s.State(), errs.ErrFailedPrecondition)
	}
	if len(compressedRefs) != len(s.History) {
		return fmt.Errorf("archive would change history length %d -> %d: %w",
			len(s.History), len(compressedRefs), errs.ErrInvariantViolation)
	}
	s.History = append([]string(nil), compressedRefs...)
	s.CurrentArtifact = ""
	if n := len(s.History); n > 0 {
		s.CurrentArtifact = s.History[n-1]
	}
	s.Locked = true
	s.Phase = model.PhaseArchived
	return nil
}

// ApplyReset returns the slot to a zeroed, open state.
func ApplyReset(s *model.Slot) error {
	s.AttemptsUsed = 0
	s.History = nil
	s.PromptHistory = nil
	s.CurrentArtifact = ""
	s.Locked = false
	s.Phase = model.PhaseActive
	return nil
}

// ApplyForceLock locks without touching counters or history.
func ApplyForceLock(s *model.Slot) error {
	s.Locked = true
	return nil
}

// ApplyForceUnlock unlocks without touching counters or history. A slot at
// its cap or past an exit can only be reopened by a reset.
func ApplyForceUnlock(s *model.Slot, maxAttempts int) error {
	if s.Phase != model.PhaseActive {
		return fmt.Errorf("unlock from state %s: %w", s.State(), errs.ErrFailedPrecondition)
	}
	if s.AttemptsUsed >= maxAttempts {
		return fmt.Errorf("unlock at cap (%d/%d), reset instead: %w", s.AttemptsUsed, maxAttempts, errs.ErrFailedPrecondition)
	}
	s.Locked = false
	return nil
}
