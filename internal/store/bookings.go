package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clientdesk/backend/internal/domain"
)

type BookingRepository interface {
	// Reserve atomically inserts b as PENDING unless an active booking for
	// the same user overlaps [SlotStart, SlotEnd). Overlap returns
	// ErrConflict. A replayed idempotency key returns the existing booking
	// together with ErrIdempotentReplay, or ErrIdempotencyConflict when the
	// key was reused for a different interval.
	Reserve(ctx context.Context, b domain.Booking) (domain.Booking, error)

	Confirm(ctx context.Context, bookingID uuid.UUID, externalEventID, joinLink string) (domain.Booking, error)
	Fail(ctx context.Context, bookingID uuid.UUID, reason string) (domain.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)

	Get(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Booking, error)

	// ListActive returns PENDING and CONFIRMED bookings for the user that
	// overlap [windowStart, windowEnd), ordered by slot start.
	ListActive(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
}
