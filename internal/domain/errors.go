package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Award validation errors
	ErrInvalidUserID    = errors.New("user id is required")
	ErrInvalidEventType = errors.New("event type must be a non-empty snake_case name")
	ErrNegativeAmount   = errors.New("negative xp is only allowed for xp_correction events")
	ErrInvalidAmount    = errors.New("invalid xp amount")

	ErrReservedIdempotencyKey = errors.New("idempotency key uses a reserved prefix")

	// Configuration errors
	ErrInvalidLevelCurve = errors.New("invalid level curve config")

	// Badge catalog errors
	ErrInvalidBadge  = errors.New("invalid badge definition")
	ErrBadgeNotFound = errors.New("badge not found")
	ErrBadgeNotOwned = errors.New("badge not owned by user")

	// Profile errors
	ErrProfileNotFound = errors.New("gamification profile not found")

	// Concurrency errors
	ErrLockTimeout = errors.New("timed out waiting for user lock")
)

// IsValidation reports whether err is caused by bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidEventType) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrReservedIdempotencyKey) ||
		errors.Is(err, ErrInvalidLevelCurve) ||
		errors.Is(err, ErrInvalidBadge)
}

// IsNotFound reports whether err means a requested entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBadgeNotFound) ||
		errors.Is(err, ErrBadgeNotOwned) ||
		errors.Is(err, ErrProfileNotFound)
}
