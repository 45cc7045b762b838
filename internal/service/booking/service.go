// Package booking orchestrates slot reservation: local reserve, provider
// event creation, then confirmation or rollback. A reservation is never left
// PENDING; every return path resolves it to CONFIRMED or FAILED.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/provider"
	"clientdesk/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type TokenSource interface {
	EnsureValid(ctx context.Context, userID string, p domain.Provider) (domain.Credential, error)
}

// SlotValidator is the availability engine's revalidation surface.
type SlotValidator interface {
	ValidateSlot(start, end time.Time) error
}

// Notifier receives booking lifecycle callbacks. Failures are logged and
// never affect the booking outcome.
type Notifier interface {
	BookingConfirmed(ctx context.Context, userID string, b domain.Booking) error
	BookingCancelled(ctx context.Context, userID string, b domain.Booking) error
}

type Config struct {
	// Provider is the calendar connection that backs the booking flow.
	Provider domain.Provider
	// EventSummary labels the mirrored calendar event.
	EventSummary   string
	RetryAttempts  int
	RetryBase      time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.EventSummary == "" {
		c.EventSummary = "Client meeting"
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

type Coordinator struct {
	bookings  store.BookingRepository
	tokens    TokenSource
	adapters  *provider.Registry
	validator SlotValidator
	notifier  Notifier
	cfg       Config
	log       *slog.Logger
}

func NewCoordinator(
	bookings store.BookingRepository,
	tokens TokenSource,
	adapters *provider.Registry,
	validator SlotValidator,
	notifier Notifier,
	cfg Config,
	log *slog.Logger,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		bookings:  bookings,
		tokens:    tokens,
		adapters:  adapters,
		validator: validator,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		log:       log.With(slog.String("component", "booking.coordinator")),
	}
}

type ReserveInput struct {
	UserID         string
	SlotStart      time.Time
	SlotEnd        time.Time
	Attendee       domain.Attendee
	IdempotencyKey string
}

// ReserveSlot reserves [SlotStart, SlotEnd) exactly once per idempotency key.
// Overlap with another active booking surfaces store.ErrConflict without
// touching the provider. Provider failures resolve the local reservation to
// FAILED and return the failed booking alongside the provider error.
func (c *Coordinator) ReserveSlot(ctx context.Context, in ReserveInput) (domain.Booking, error) {
	if in.UserID == "" {
		return domain.Booking{}, validationError("user_id is required")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		return domain.Booking{}, validationError("idempotency_key is required")
	}
	if len(key) > 256 {
		return domain.Booking{}, validationError("idempotency_key too long")
	}
	if strings.TrimSpace(in.Attendee.Email) == "" {
		return domain.Booking{}, validationError("attendee email is required")
	}

	// Replays return the prior outcome unchanged, whatever it was.
	if existing, err := c.bookings.FindByIdempotencyKey(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Booking{}, err
	}

	if err := c.validator.ValidateSlot(in.SlotStart, in.SlotEnd); err != nil {
		return domain.Booking{}, err
	}

	reserved, err := c.bookings.Reserve(ctx, domain.Booking{
		ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte("clientdesk:booking:"+in.UserID+":"+key)),
		UserID:         in.UserID,
		Provider:       c.cfg.Provider,
		SlotStart:      in.SlotStart.UTC(),
		SlotEnd:        in.SlotEnd.UTC(),
		AttendeeName:   in.Attendee.Name,
		AttendeeEmail:  in.Attendee.Email,
		IdempotencyKey: key,
	})
	if err != nil {
		if errors.Is(err, store.ErrIdempotentReplay) {
			return reserved, nil
		}
		if errors.Is(err, store.ErrConflict) {
			c.log.Info("slot conflict",
				slog.String("user_id", in.UserID),
				slog.Time("slot_start", in.SlotStart),
				slog.Time("slot_end", in.SlotEnd),
			)
		}
		return domain.Booking{}, err
	}

	cred, err := c.tokens.EnsureValid(ctx, in.UserID, c.cfg.Provider)
	if err != nil {
		return c.fail(ctx, reserved, fmt.Errorf("credential: %w", err))
	}

	adapter, err := c.adapters.Get(c.cfg.Provider)
	if err != nil {
		return c.fail(ctx, reserved, err)
	}

	var event provider.ExternalEvent
	err = provider.Retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBase, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		ev, err := adapter.CreateEvent(callCtx, cred, provider.EventRequest{
			Slot:           domain.Slot{Start: reserved.SlotStart, End: reserved.SlotEnd},
			Attendee:       reserved.Attendee(),
			Summary:        c.cfg.EventSummary + " with " + reserved.AttendeeName,
			IdempotencyKey: key,
		})
		if err != nil {
			return err
		}
		event = ev
		return nil
	})
	if err != nil {
		return c.fail(ctx, reserved, fmt.Errorf("create event: %w", err))
	}

	confirmed, err := c.bookings.Confirm(ctx, reserved.ID, event.ID, event.JoinLink)
	if err != nil {
		// The booking resolves to FAILED, so try to take the provider
		// event back down rather than leave a phantom on the calendar.
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
		if cancelErr := adapter.CancelEvent(cancelCtx, cred, event.ID); cancelErr != nil && !provider.IsNotFound(cancelErr) {
			c.log.Warn("orphaned provider event after confirm failure",
				slog.Any("err", cancelErr),
				slog.String("external_event_id", event.ID),
			)
		}
		cancel()
		return c.fail(ctx, reserved, fmt.Errorf("confirm: %w", err))
	}

	c.log.Info("booking confirmed",
		slog.String("booking_id", confirmed.ID.String()),
		slog.String("user_id", confirmed.UserID),
		slog.Time("slot_start", confirmed.SlotStart),
		slog.String("external_event_id", confirmed.ExternalEventID),
	)

	if c.notifier != nil {
		if err := c.notifier.BookingConfirmed(ctx, confirmed.UserID, confirmed); err != nil {
			c.log.Warn("confirmation notification failed", slog.Any("err", err), slog.String("booking_id", confirmed.ID.String()))
		}
	}
	return confirmed, nil
}

// fail resolves the pending reservation before surfacing cause. The store
// write runs detached from ctx so a client disconnect mid-flight cannot
// strand the row in PENDING.
func (c *Coordinator) fail(ctx context.Context, reserved domain.Booking, cause error) (domain.Booking, error) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	failed, err := c.bookings.Fail(failCtx, reserved.ID, cause.Error())
	if err != nil {
		c.log.Error("failed to resolve pending reservation",
			slog.Any("err", err),
			slog.String("booking_id", reserved.ID.String()),
		)
		return domain.Booking{}, errors.Join(cause, err)
	}
	return failed, cause
}

// CancelBooking cancels a CONFIRMED booking: provider event first, then the
// local row. A provider-side NotFound counts as success, the event is
// already gone.
func (c *Coordinator) CancelBooking(ctx context.Context, bookingID uuid.UUID) error {
	if bookingID == uuid.Nil {
		return validationError("booking_id is required")
	}

	b, err := c.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != domain.BookingStatusConfirmed {
		return fmt.Errorf("%w: cannot cancel %s booking", store.ErrInvalidTransition, b.Status)
	}

	adapter, err := c.adapters.Get(b.Provider)
	if err != nil {
		return err
	}
	cred, err := c.tokens.EnsureValid(ctx, b.UserID, b.Provider)
	if err != nil {
		return err
	}

	err = provider.Retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBase, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		return adapter.CancelEvent(callCtx, cred, b.ExternalEventID)
	})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}

	cancelled, err := c.bookings.Cancel(ctx, bookingID)
	if err != nil {
		return err
	}

	c.log.Info("booking cancelled",
		slog.String("booking_id", cancelled.ID.String()),
		slog.String("user_id", cancelled.UserID),
	)

	if c.notifier != nil {
		if err := c.notifier.BookingCancelled(ctx, cancelled.UserID, cancelled); err != nil {
			c.log.Warn("cancellation notification failed", slog.Any("err", err), slog.String("booking_id", cancelled.ID.String()))
		}
	}
	return nil
}
