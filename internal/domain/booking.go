package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusFailed    BookingStatus = "failed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Active reports whether the booking still occupies its slot.
func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

type Attendee struct {
	Name  string
	Email string
}

// Booking is a reservation held locally and mirrored as an event on the
// user's external calendar. Bookings are never hard-deleted; terminal
// outcomes are status changes.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID              uuid.UUID     `bun:"id,pk,type:uuid"`
	UserID          string        `bun:"user_id,notnull"`
	Provider        Provider      `bun:"provider,notnull"`
	SlotStart       time.Time     `bun:"slot_start,notnull"`
	SlotEnd         time.Time     `bun:"slot_end,notnull"`
	AttendeeName    string        `bun:"attendee_name,notnull"`
	AttendeeEmail   string        `bun:"attendee_email,notnull"`
	Status          BookingStatus `bun:"status,notnull"`
	ExternalEventID string        `bun:"external_event_id,notnull,default:''"`
	JoinLink        string        `bun:"join_link,notnull,default:''"`
	FailureReason   string        `bun:"failure_reason,notnull,default:''"`
	IdempotencyKey  string        `bun:"idempotency_key,notnull"`
	CreatedAt       time.Time     `bun:"created_at,notnull"`
	UpdatedAt       time.Time     `bun:"updated_at,notnull"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b Booking) Attendee() Attendee {
	return Attendee{Name: b.AttendeeName, Email: b.AttendeeEmail}
}

// BusyInterval returns the slot occupied by the booking.
func (b Booking) BusyInterval() BusyInterval {
	return BusyInterval{Start: b.SlotStart, End: b.SlotEnd, Source: "booking"}
}
