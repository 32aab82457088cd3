package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/slotkeeper/internal/errs"
)

// Phase records whether a slot left the normal path through an exit.
type Phase string

const (
	PhaseActive   Phase = "active"
	PhaseArchived Phase = "archived"
	PhaseCleared  Phase = "cleared"
)

// SlotState is the externally visible lifecycle state.
type SlotState string

const (
	StateOpen     SlotState = "OPEN"
	StateLocked   SlotState = "LOCKED"
	StateArchived SlotState = "ARCHIVED"
	StateCleared  SlotState = "CLEARED"
)

// Slot is a quota-bounded unit of creative work owned by one user.
type Slot struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	SlotIndex       int
	AttemptsUsed    int
	Locked          bool
	Phase           Phase
	CurrentArtifact string   // blob key, "" if none
	History         []string // blob keys in generation order
	PromptHistory   []string // index-aligned with History
	Version         int64
	UpdatedAt       time.Time
}

// State derives the lifecycle state from phase and lock flag.
func (s *Slot) State() SlotState {
	switch {
	case s.Phase == PhaseArchived:
		return StateArchived
	case s.Phase == PhaseCleared:
		return StateCleared
	case s.Locked:
		return StateLocked
	default:
		return StateOpen
	}
}

// CanGenerate reports whether a normal-path submission may proceed.
func (s *Slot) CanGenerate(maxAttempts int) bool {
	return s.Phase == PhaseActive && !s.Locked && s.AttemptsUsed < maxAttempts
}

// Clone returns a deep copy so callers never share history slices.
func (s Slot) Clone() Slot {
	s.History = append([]string(nil), s.History...)
	s.PromptHistory = append([]string(nil), s.PromptHistory...)
	return s
}

// Validate checks the ledger invariants for the given cap.
func (s *Slot) Validate(maxAttempts int) error {
	if s.AttemptsUsed < 0 || s.AttemptsUsed > maxAttempts {
		return fmt.Errorf("slot %s: attempts %d outside [0,%d]: %w", s.ID, s.AttemptsUsed, maxAttempts, errs.ErrInvariantViolation)
	}
	if s.AttemptsUsed == maxAttempts && !s.Locked {
		return fmt.Errorf("slot %s: at cap but unlocked: %w", s.ID, errs.ErrInvariantViolation)
	}
	switch s.Phase {
	case PhaseActive:
		if len(s.History) != len(s.PromptHistory) || len(s.History) != s.AttemptsUsed {
			return fmt.Errorf("slot %s: history %d, prompts %d, attempts %d: %w",
				s.ID, len(s.History), len(s.PromptHistory), s.AttemptsUsed, errs.ErrInvariantViolation)
		}
	case PhaseArchived:
		if len(s.History) != len(s.PromptHistory) {
			return fmt.Errorf("slot %s: archived history %d, prompts %d: %w",
				s.ID, len(s.History), len(s.PromptHistory), errs.ErrInvariantViolation)
		}
		if !s.Locked {
			return fmt.Errorf("slot %s: archived but unlocked: %w", s.ID, errs.ErrInvariantViolation)
		}
	case PhaseCleared:
		if len(s.History) != 0 || s.CurrentArtifact != "" || !s.Locked {
			return fmt.Errorf("slot %s: cleared slot still holds artifacts: %w", s.ID, errs.ErrInvariantViolation)
		}
	default:
		return fmt.Errorf("slot %s: unknown phase %q: %w", s.ID, s.Phase, errs.ErrInvariantViolation)
	}
	if len(s.History) > 0 && s.CurrentArtifact != s.History[len(s.History)-1] {
		return fmt.Errorf("slot %s: current artifact is not the last history entry: %w", s.ID, errs.ErrInvariantViolation)
	}
	return nil
}

// ExitMode selects what happens to artifacts when a student leaves a completed slot.
type ExitMode string

const (
	ExitDiscard ExitMode = "discard"
	ExitArchive ExitMode = "archive"
)

// GenerationParams carries optional generation inputs.
type GenerationParams struct {
	AspectRatio         string
	ReferenceImage      []byte   // raw image bytes supplied by the caller
	ReferenceMIME       string   // sniffed when empty
	CharacterReferences []string // blob keys of the caller's own artifacts
}

// ReferenceImage is an input image passed to the generator.
type ReferenceImage struct {
	Data     []byte
	MIMEType string
}

// Artifact is a generated image as returned by the backend.
type Artifact struct {
	Data     []byte
	MIMEType string
}
