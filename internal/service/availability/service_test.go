package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"clientdesk/backend/internal/domain"
	"clientdesk/backend/internal/provider"
)

type fakeTokens struct {
	ensureFn func(ctx context.Context, userID string, p domain.Provider) (domain.Credential, error)
}

func (f *fakeTokens) EnsureValid(ctx context.Context, userID string, p domain.Provider) (domain.Credential, error) {
	if f.ensureFn == nil {
		return domain.Credential{UserID: userID, Provider: p, AccessToken: "tok"}, nil
	}
	return f.ensureFn(ctx, userID, p)
}

type fakeCreds struct {
	listFn func(ctx context.Context, userID string) ([]domain.Credential, error)
}

func (f *fakeCreds) Get(ctx context.Context, userID string, p domain.Provider) (domain.Credential, error) {
	panic("Get not configured")
}

func (f *fakeCreds) ListForUser(ctx context.Context, userID string) ([]domain.Credential, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, userID)
}

func (f *fakeCreds) Upsert(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	panic("Upsert not configured")
}

func (f *fakeCreds) Delete(ctx context.Context, userID string, p domain.Provider) error {
	panic("Delete not configured")
}

type fakeBookings struct {
	listActiveFn func(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
}

func (f *fakeBookings) Reserve(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	panic("Reserve not configured")
}

func (f *fakeBookings) Confirm(ctx context.Context, id uuid.UUID, externalEventID, joinLink string) (domain.Booking, error) {
	panic("Confirm not configured")
}

func (f *fakeBookings) Fail(ctx context.Context, id uuid.UUID, reason string) (domain.Booking, error) {
	panic("Fail not configured")
}

func (f *fakeBookings) Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	panic("Cancel not configured")
}

func (f *fakeBookings) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	panic("Get not configured")
}

func (f *fakeBookings) FindByIdempotencyKey(ctx context.Context, key string) (domain.Booking, error) {
	panic("FindByIdempotencyKey not configured")
}

func (f *fakeBookings) ListActive(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	if f.listActiveFn == nil {
		return nil, nil
	}
	return f.listActiveFn(ctx, userID, windowStart, windowEnd)
}

type fakeRules struct {
	listFn func(ctx context.Context, userID string) ([]domain.UnavailabilityRule, error)
}

func (f *fakeRules) ListForUser(ctx context.Context, userID string) ([]domain.UnavailabilityRule, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, userID)
}

type fakeAdapter struct {
	p      domain.Provider
	busyFn func(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error)
}

func (f *fakeAdapter) Provider() domain.Provider { return f.p }
func (f *fakeAdapter) AuthCodeURL(string) string { return "" }

func (f *fakeAdapter) Exchange(ctx context.Context, authCode string) (domain.Credential, error) {
	panic("Exchange not configured")
}

func (f *fakeAdapter) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	panic("Refresh not configured")
}

func (f *fakeAdapter) BusyIntervals(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
	if f.busyFn == nil {
		return nil, nil
	}
	return f.busyFn(ctx, cred, rangeStart, rangeEnd)
}

func (f *fakeAdapter) CreateEvent(ctx context.Context, cred domain.Credential, req provider.EventRequest) (provider.ExternalEvent, error) {
	panic("CreateEvent not configured")
}

func (f *fakeAdapter) CancelEvent(ctx context.Context, cred domain.Credential, externalEventID string) error {
	panic("CancelEvent not configured")
}

// testNow is a Tuesday morning; bookingDay the Wednesday after.
var (
	testNow    = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	bookingDay = time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
)

type engineOpts struct {
	creds    *fakeCreds
	bookings *fakeBookings
	rules    *fakeRules
	adapter  *fakeAdapter
	cfg      Config
}

func newTestEngine(opts engineOpts) *Engine {
	if opts.creds == nil {
		opts.creds = &fakeCreds{}
	}
	if opts.bookings == nil {
		opts.bookings = &fakeBookings{}
	}
	if opts.rules == nil {
		opts.rules = &fakeRules{}
	}
	if opts.adapter == nil {
		opts.adapter = &fakeAdapter{p: domain.ProviderGoogle}
	}
	e := NewEngine(
		&fakeTokens{},
		provider.NewRegistry(opts.adapter),
		opts.creds,
		opts.bookings,
		opts.rules,
		opts.cfg,
		nil,
	)
	e.now = func() time.Time { return testNow }
	return e
}

func googleCred() domain.Credential {
	return domain.Credential{
		UserID:      "u1",
		Provider:    domain.ProviderGoogle,
		AccessToken: "tok",
		ExpiresAt:   testNow.Add(time.Hour),
	}
}

func TestGetSlots_EmptyDayYieldsFullWindow(t *testing.T) {
	e := newTestEngine(engineOpts{})

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 30)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	// 09:00 to 14:00 in 30-minute steps: ten slots, the last 13:30-14:00.
	if len(slots) != 10 {
		t.Fatalf("got %d slots, want 10: %v", len(slots), slots)
	}
	if !slots[0].Start.Equal(bookingDay.Add(9 * time.Hour)) {
		t.Fatalf("first slot starts %v, want 09:00", slots[0].Start)
	}
	last := slots[len(slots)-1]
	if !last.Start.Equal(bookingDay.Add(13*time.Hour + 30*time.Minute)) {
		t.Fatalf("last slot starts %v, want 13:30", last.Start)
	}
	if !last.End.Equal(bookingDay.Add(14 * time.Hour)) {
		t.Fatalf("last slot ends %v, want 14:00", last.End)
	}
}

func TestGetSlots_ProviderBusyExcludesOverlappingSlots(t *testing.T) {
	e := newTestEngine(engineOpts{
		creds: &fakeCreds{listFn: func(ctx context.Context, userID string) ([]domain.Credential, error) {
			return []domain.Credential{googleCred()}, nil
		}},
		adapter: &fakeAdapter{p: domain.ProviderGoogle, busyFn: func(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
			return []domain.BusyInterval{
				{Start: bookingDay.Add(11 * time.Hour), End: bookingDay.Add(12 * time.Hour)},
			}, nil
		}},
	})

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 30)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("got %d slots, want 8: %v", len(slots), slots)
	}
	for _, s := range slots {
		if s.Start.Equal(bookingDay.Add(11*time.Hour)) || s.Start.Equal(bookingDay.Add(11*time.Hour+30*time.Minute)) {
			t.Fatalf("busy slot %v survived", s.Start)
		}
	}
}

func TestGetSlots_TransientProviderFailureRetried(t *testing.T) {
	calls := 0
	e := newTestEngine(engineOpts{
		creds: &fakeCreds{listFn: func(ctx context.Context, userID string) ([]domain.Credential, error) {
			return []domain.Credential{googleCred()}, nil
		}},
		adapter: &fakeAdapter{p: domain.ProviderGoogle, busyFn: func(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
			calls++
			if calls == 1 {
				return nil, provider.NewError(domain.ProviderGoogle, provider.KindUnavailable, "busy_intervals", errors.New("503"))
			}
			return []domain.BusyInterval{
				{Start: bookingDay.Add(11 * time.Hour), End: bookingDay.Add(12 * time.Hour)},
			}, nil
		}},
		cfg: Config{RetryBase: time.Millisecond},
	})

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 30)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("busy calls = %d, want 2", calls)
	}
	if len(slots) != 8 {
		t.Fatalf("got %d slots, want 8: %v", len(slots), slots)
	}
}

func TestGetSlots_AuthFailureNotRetried(t *testing.T) {
	calls := 0
	e := newTestEngine(engineOpts{
		creds: &fakeCreds{listFn: func(ctx context.Context, userID string) ([]domain.Credential, error) {
			return []domain.Credential{googleCred()}, nil
		}},
		adapter: &fakeAdapter{p: domain.ProviderGoogle, busyFn: func(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
			calls++
			return nil, provider.NewError(domain.ProviderGoogle, provider.KindAuthExpired, "busy_intervals", errors.New("401"))
		}},
		cfg: Config{RetryBase: time.Millisecond},
	})

	if _, err := e.GetSlots(context.Background(), "u1", bookingDay, 30); !provider.IsAuthExpired(err) {
		t.Fatalf("err = %v, want auth expired", err)
	}
	if calls != 1 {
		t.Fatalf("busy calls = %d, want 1", calls)
	}
}

func TestGetSlots_PartialOverlapExcludesSlot(t *testing.T) {
	e := newTestEngine(engineOpts{
		creds: &fakeCreds{listFn: func(ctx context.Context, userID string) ([]domain.Credential, error) {
			return []domain.Credential{googleCred()}, nil
		}},
		adapter: &fakeAdapter{p: domain.ProviderGoogle, busyFn: func(ctx context.Context, cred domain.Credential, rangeStart, rangeEnd time.Time) ([]domain.BusyInterval, error) {
			// Busy 10:15-10:45 touches both the 10:00 and 10:30 slots.
			return []domain.BusyInterval{
				{Start: bookingDay.Add(10*time.Hour + 15*time.Minute), End: bookingDay.Add(10*time.Hour + 45*time.Minute)},
			}, nil
		}},
	})

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 30)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	for _, s := range slots {
		if s.Start.Equal(bookingDay.Add(10*time.Hour)) || s.Start.Equal(bookingDay.Add(10*time.Hour+30*time.Minute)) {
			t.Fatalf("partially busy slot %v survived", s.Start)
		}
	}
	if len(slots) != 8 {
		t.Fatalf("got %d slots, want 8", len(slots))
	}
}

func TestGetSlots_ActiveBookingsCountAsBusy(t *testing.T) {
	e := newTestEngine(engineOpts{
		bookings: &fakeBookings{listActiveFn: func(ctx context.Context, userID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
			return []domain.Booking{{
				UserID:    userID,
				SlotStart: bookingDay.Add(9 * time.Hour),
				SlotEnd:   bookingDay.Add(9*time.Hour + 30*time.Minute),
				Status:    domain.BookingStatusPending,
			}}, nil
		}},
	})

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 30)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	if len(slots) != 9 {
		t.Fatalf("got %d slots, want 9", len(slots))
	}
	if slots[0].Start.Equal(bookingDay.Add(9 * time.Hour)) {
		t.Fatalf("booked 09:00 slot survived")
	}
}

func TestGetSlots_UnavailabilityRulesApply(t *testing.T) {
	e := newTestEngine(engineOpts{
		rules: &fakeRules{listFn: func(ctx context.Context, userID string) ([]domain.UnavailabilityRule, error) {
			return []domain.UnavailabilityRule{{
				UserID:     userID,
				StartTime:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
				EndTime:    time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
				DaysOfWeek: []int16{3}, // Wednesdays
			}}, nil
		}},
	})

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 30)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	// The 12:00-14:00 block removes four of the ten slots.
	if len(slots) != 6 {
		t.Fatalf("got %d slots, want 6: %v", len(slots), slots)
	}
	last := slots[len(slots)-1]
	if !last.End.Equal(bookingDay.Add(12 * time.Hour)) {
		t.Fatalf("last slot ends %v, want 12:00", last.End)
	}
}

func TestGetSlots_WeekendIsEmptyNotError(t *testing.T) {
	e := newTestEngine(engineOpts{})

	saturday := time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC)
	slots, err := e.GetSlots(context.Background(), "u1", saturday, 30)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Fatalf("slots = %v, want empty non-nil", slots)
	}
}

func TestGetSlots_PastDateRejected(t *testing.T) {
	e := newTestEngine(engineOpts{})

	_, err := e.GetSlots(context.Background(), "u1", testNow.AddDate(0, 0, -1), 30)
	if !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("err = %v, want ErrInvalidSlot", err)
	}
}

func TestGetSlots_BeyondHorizonRejected(t *testing.T) {
	e := newTestEngine(engineOpts{})

	_, err := e.GetSlots(context.Background(), "u1", testNow.AddDate(0, 0, 31), 30)
	if !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("err = %v, want ErrInvalidSlot", err)
	}
}

func TestGetSlots_TodayFiltersElapsedSlots(t *testing.T) {
	e := newTestEngine(engineOpts{})
	e.now = func() time.Time { return bookingDay.Add(10 * time.Hour) } // mid-morning of the booking day

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 30)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	for _, s := range slots {
		if !s.Start.After(bookingDay.Add(10 * time.Hour)) {
			t.Fatalf("slot %v is not in the future", s.Start)
		}
	}
	if len(slots) != 7 {
		t.Fatalf("got %d slots, want 7 (10:30 through 13:30)", len(slots))
	}
}

func TestGetSlots_DefaultDurationApplied(t *testing.T) {
	e := newTestEngine(engineOpts{})

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 0)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatalf("expected slots with default duration")
	}
	if got := slots[0].End.Sub(slots[0].Start); got != 30*time.Minute {
		t.Fatalf("slot duration = %v, want 30m", got)
	}
}

func TestGetSlots_SixtyMinuteSlots(t *testing.T) {
	e := newTestEngine(engineOpts{})

	slots, err := e.GetSlots(context.Background(), "u1", bookingDay, 60)
	if err != nil {
		t.Fatalf("GetSlots error: %v", err)
	}
	// 09:00 to 14:00 fits exactly five 60-minute slots.
	if len(slots) != 5 {
		t.Fatalf("got %d slots, want 5", len(slots))
	}
}

func TestValidateSlot(t *testing.T) {
	e := newTestEngine(engineOpts{})

	ok := func(start, end time.Time) error { return e.ValidateSlot(start, end) }

	if err := ok(bookingDay.Add(10*time.Hour), bookingDay.Add(10*time.Hour+30*time.Minute)); err != nil {
		t.Fatalf("valid slot rejected: %v", err)
	}

	cases := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{"inverted", bookingDay.Add(11 * time.Hour), bookingDay.Add(10 * time.Hour)},
		{"past", testNow.Add(-2 * time.Hour), testNow.Add(-90 * time.Minute)},
		{"before_window", bookingDay.Add(8 * time.Hour), bookingDay.Add(8*time.Hour + 30*time.Minute)},
		{"after_window", bookingDay.Add(14 * time.Hour), bookingDay.Add(14*time.Hour + 30*time.Minute)},
		{"straddles_close", bookingDay.Add(13*time.Hour + 45*time.Minute), bookingDay.Add(14*time.Hour + 15*time.Minute)},
		{"weekend", bookingDay.AddDate(0, 0, 3).Add(10 * time.Hour), bookingDay.AddDate(0, 0, 3).Add(10*time.Hour + 30*time.Minute)},
		{"beyond_horizon", testNow.AddDate(0, 0, 40).Add(2 * time.Hour), testNow.AddDate(0, 0, 40).Add(2*time.Hour + 30*time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ok(tc.start, tc.end); !errors.Is(err, ErrInvalidSlot) {
				t.Fatalf("err = %v, want ErrInvalidSlot", err)
			}
		})
	}
}
