// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication (bad or missing credentials).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller's role lacks the capability for the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrLoginLocked indicates the global gate refuses non-administrative activity.
	ErrLoginLocked = errors.New("login locked")

	// ErrQuotaExhausted indicates the slot is locked or at its attempt cap.
	// Not retryable without an administrative action.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrModerationUnavailable indicates the classifier failed or returned
	// something unusable; the request was refused. Safe to retry.
	ErrModerationUnavailable = errors.New("moderation unavailable")

	// ErrGenerationFailed indicates the image backend failed, timed out or
	// returned no artifact. No attempt was consumed. Safe to retry.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrStorage indicates a blob write, read or archival step failed.
	ErrStorage = errors.New("storage failure")

	// ErrFailedPrecondition indicates the slot is not in a state that allows the operation.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrInvariantViolation indicates a ledger invariant would be broken. Treated as a bug.
	ErrInvariantViolation = errors.New("invariant violation")
)
