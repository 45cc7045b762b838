package store

import "errors"

var (
	// ErrConflict reports that a reservation overlaps an active booking.
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
	// ErrIdempotencyConflict reports that an idempotency key was reused with
	// a different user or interval.
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	// ErrIdempotentReplay accompanies the existing booking when a reservation
	// raced an earlier insert with the same idempotency key.
	ErrIdempotentReplay = errors.New("idempotent replay")
	// ErrInvalidTransition reports a status change outside the booking state
	// machine (pending -> confirmed|failed, confirmed -> cancelled).
	ErrInvalidTransition = errors.New("invalid status transition")
)
