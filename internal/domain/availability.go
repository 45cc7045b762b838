package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BusyInterval is a half-open time range [Start, End) during which a user is
// not bookable. Source names where the interval came from: a provider, an
// internal booking, or an unavailability rule.
type BusyInterval struct {
	Start  time.Time
	End    time.Time
	Source string
}

// Slot is a candidate bookable interval. Ephemeral; never persisted.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the slot shares any time with the interval.
// Touching endpoints do not count as overlap.
func (s Slot) Overlaps(b BusyInterval) bool {
	return s.Start.Before(b.End) && s.End.After(b.Start)
}

// MergeBusyIntervals sorts intervals by start and coalesces any that touch or
// overlap. Zero-length and inverted intervals are dropped. The input slice is
// not modified.
func MergeBusyIntervals(in []BusyInterval) []BusyInterval {
	spans := make([]BusyInterval, 0, len(in))
	for _, iv := range in {
		if !iv.End.After(iv.Start) {
			continue
		}
		spans = append(spans, iv)
	}
	if len(spans) == 0 {
		return nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })

	out := make([]BusyInterval, 0, len(spans))
	cur := spans[0]
	for _, iv := range spans[1:] {
		if iv.Start.After(cur.End) {
			out = append(out, cur)
			cur = iv
			continue
		}
		if iv.End.After(cur.End) {
			cur.End = iv.End
		}
	}
	return append(out, cur)
}

// UnavailabilityRule is a user-declared block of time. With DaysOfWeek set it
// recurs weekly: only the local time of day of StartTime/EndTime applies, on
// each listed weekday. With DaysOfWeek empty it is a one-off block covering
// exactly [StartTime, EndTime).
type UnavailabilityRule struct {
	bun.BaseModel `bun:"table:unavailability_rules"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	UserID     string    `bun:"user_id,notnull"`
	StartTime  time.Time `bun:"start_time,notnull"`
	EndTime    time.Time `bun:"end_time,notnull"`
	DaysOfWeek []int16   `bun:"days_of_week,array,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (r *UnavailabilityRule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

// BusyOn expands the rule for the day beginning at dayStart (local midnight in
// loc). The returned interval is clipped to that day; ok is false when the
// rule does not apply.
func (r UnavailabilityRule) BusyOn(dayStart time.Time, loc *time.Location) (BusyInterval, bool) {
	dayEnd := dayStart.AddDate(0, 0, 1)

	if len(r.DaysOfWeek) == 0 {
		if !r.StartTime.Before(dayEnd) || !r.EndTime.After(dayStart) {
			return BusyInterval{}, false
		}
		iv := BusyInterval{Start: r.StartTime, End: r.EndTime, Source: "rule"}
		if iv.Start.Before(dayStart) {
			iv.Start = dayStart
		}
		if iv.End.After(dayEnd) {
			iv.End = dayEnd
		}
		return iv, true
	}

	wd := ISOWeekday(dayStart)
	applies := false
	for _, d := range r.DaysOfWeek {
		if d == wd {
			applies = true
			break
		}
	}
	if !applies {
		return BusyInterval{}, false
	}

	startLocal := r.StartTime.In(loc)
	endLocal := r.EndTime.In(loc)
	start := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), startLocal.Hour(), startLocal.Minute(), 0, 0, loc)
	end := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), endLocal.Hour(), endLocal.Minute(), 0, 0, loc)
	if !end.After(start) {
		return BusyInterval{}, false
	}
	return BusyInterval{Start: start, End: end, Source: "rule"}, true
}

// ISOWeekday maps time.Weekday to ISO numbering: Monday=1 .. Sunday=7.
func ISOWeekday(t time.Time) int16 {
	wd := t.Weekday()
	if wd == time.Sunday {
		return 7
	}
	return int16(wd)
}
