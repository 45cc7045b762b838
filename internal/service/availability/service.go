// Package availability computes the truthful merged bookable window for a
// user: provider busy time, internal active bookings, and declared
// unavailability rules all subtract from the configured business hours.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/provider"
	"clientdesk/backend/internal/store"
)

// ErrInvalidSlot reports a date or interval outside business hours, outside
// the booking horizon, or in the past.
var ErrInvalidSlot = errors.New("invalid slot")

type TokenSource interface {
	EnsureValid(ctx context.Context, userID string, p domain.Provider) (domain.Credential, error)
}

type Config struct {
	// HorizonDays bounds how far ahead slots may be requested.
	HorizonDays int
	// SlotMinutes is the default slot duration when the caller passes none.
	SlotMinutes int
	// WindowStartMinute/WindowEndMinute delimit the business window as
	// minutes from local midnight.
	WindowStartMinute int
	WindowEndMinute   int
	// Location is the business timezone the window is anchored in.
	Location *time.Location
	// ExcludedWeekdays uses ISO numbering (Monday=1 .. Sunday=7).
	ExcludedWeekdays []int16
	// RequestTimeout bounds each provider call.
	RequestTimeout time.Duration
	// RetryAttempts and RetryBase drive retries of transient provider
	// failures when collecting busy intervals.
	RetryAttempts int
	RetryBase     time.Duration
}

func (c Config) withDefaults() Config {
	if c.HorizonDays <= 0 {
		c.HorizonDays = 30
	}
	if c.SlotMinutes <= 0 {
		c.SlotMinutes = 30
	}
	if c.WindowEndMinute <= 0 {
		c.WindowStartMinute = 9 * 60
		c.WindowEndMinute = 14 * 60
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.ExcludedWeekdays == nil {
		c.ExcludedWeekdays = []int16{6, 7}
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	return c
}

type Engine struct {
	tokens   TokenSource
	adapters *provider.Registry
	creds    store.CredentialRepository
	bookings store.BookingRepository
	rules    store.UnavailabilityRuleRepository
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

func NewEngine(
	tokens TokenSource,
	adapters *provider.Registry,
	creds store.CredentialRepository,
	bookings store.BookingRepository,
	rules store.UnavailabilityRuleRepository,
	cfg Config,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		tokens:   tokens,
		adapters: adapters,
		creds:    creds,
		bookings: bookings,
		rules:    rules,
		cfg:      cfg.withDefaults(),
		log:      log.With(slog.String("component", "availability.engine")),
		now:      time.Now,
	}
}

// GetSlots returns the bookable slots of durationMinutes on the given date,
// oldest first. An empty list means no availability and is not an error; only
// invalid dates error.
func (e *Engine) GetSlots(ctx context.Context, userID string, date time.Time, durationMinutes int) ([]domain.Slot, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidSlot)
	}
	if durationMinutes <= 0 {
		durationMinutes = e.cfg.SlotMinutes
	}

	now := e.now().In(e.cfg.Location)
	day := e.localMidnight(date)
	today := e.localMidnight(now)

	if day.Before(today) {
		return nil, fmt.Errorf("%w: date is in the past", ErrInvalidSlot)
	}
	if day.After(today.AddDate(0, 0, e.cfg.HorizonDays)) {
		return nil, fmt.Errorf("%w: date is beyond the %d-day booking horizon", ErrInvalidSlot, e.cfg.HorizonDays)
	}
	if e.weekdayExcluded(day) {
		return []domain.Slot{}, nil
	}

	dayEnd := day.AddDate(0, 0, 1)
	busy, err := e.collectBusy(ctx, userID, day, dayEnd)
	if err != nil {
		return nil, err
	}
	merged := domain.MergeBusyIntervals(busy)

	step := time.Duration(durationMinutes) * time.Minute
	windowStart := day.Add(time.Duration(e.cfg.WindowStartMinute) * time.Minute)
	windowEnd := day.Add(time.Duration(e.cfg.WindowEndMinute) * time.Minute)

	slots := []domain.Slot{}
	for start := windowStart; !start.Add(step).After(windowEnd); start = start.Add(step) {
		slot := domain.Slot{Start: start, End: start.Add(step)}
		if !slot.Start.After(e.now()) {
			continue
		}
		if overlapsAny(slot, merged) {
			continue
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// ValidateSlot checks that [start, end) is a reservable interval: in the
// future, within the horizon, on a working day, and inside the business
// window. The booking coordinator calls this before reserving.
func (e *Engine) ValidateSlot(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidSlot)
	}

	startLocal := start.In(e.cfg.Location)
	endLocal := end.In(e.cfg.Location)
	day := e.localMidnight(startLocal)

	if !startLocal.After(e.now()) {
		return fmt.Errorf("%w: slot start is in the past", ErrInvalidSlot)
	}
	if day.After(e.localMidnight(e.now().In(e.cfg.Location)).AddDate(0, 0, e.cfg.HorizonDays)) {
		return fmt.Errorf("%w: slot is beyond the %d-day booking horizon", ErrInvalidSlot, e.cfg.HorizonDays)
	}
	if e.weekdayExcluded(day) {
		return fmt.Errorf("%w: not a working day", ErrInvalidSlot)
	}

	windowStart := day.Add(time.Duration(e.cfg.WindowStartMinute) * time.Minute)
	windowEnd := day.Add(time.Duration(e.cfg.WindowEndMinute) * time.Minute)
	if startLocal.Before(windowStart) || endLocal.After(windowEnd) {
		return fmt.Errorf("%w: outside business hours", ErrInvalidSlot)
	}
	return nil
}

func (e *Engine) collectBusy(ctx context.Context, userID string, dayStart, dayEnd time.Time) ([]domain.BusyInterval, error) {
	var busy []domain.BusyInterval

	creds, err := e.creds.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, cred := range creds {
		valid, err := e.tokens.EnsureValid(ctx, userID, cred.Provider)
		if err != nil {
			return nil, err
		}
		adapter, err := e.adapters.Get(cred.Provider)
		if err != nil {
			return nil, err
		}

		var intervals []domain.BusyInterval
		err = provider.Retry(ctx, e.cfg.RetryAttempts, e.cfg.RetryBase, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
			defer cancel()
			ivs, err := adapter.BusyIntervals(callCtx, valid, dayStart.UTC(), dayEnd.UTC())
			if err != nil {
				return err
			}
			intervals = ivs
			return nil
		})
		if err != nil {
			return nil, err
		}
		busy = append(busy, intervals...)
	}

	bookings, err := e.bookings.ListActive(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		busy = append(busy, b.BusyInterval())
	}

	rules, err := e.rules.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if iv, ok := r.BusyOn(dayStart, e.cfg.Location); ok {
			busy = append(busy, iv)
		}
	}
	return busy, nil
}

func (e *Engine) localMidnight(t time.Time) time.Time {
	local := t.In(e.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.cfg.Location)
}

func (e *Engine) weekdayExcluded(day time.Time) bool {
	wd := domain.ISOWeekday(day)
	for _, excluded := range e.cfg.ExcludedWeekdays {
		if wd == excluded {
			return true
		}
	}
	return false
}

func overlapsAny(slot domain.Slot, busy []domain.BusyInterval) bool {
	for _, iv := range busy {
		if slot.Overlaps(iv) {
			return true
		}
	}
	return false
}
