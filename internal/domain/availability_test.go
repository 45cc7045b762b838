package domain

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 9, 2, hour, min, 0, 0, time.UTC) // a Wednesday
}

func TestSlotOverlaps(t *testing.T) {
	slot := Slot{Start: at(10, 0), End: at(10, 30)}

	cases := []struct {
		name string
		busy BusyInterval
		want bool
	}{
		{"inside", BusyInterval{Start: at(10, 10), End: at(10, 20)}, true},
		{"covers", BusyInterval{Start: at(9, 0), End: at(11, 0)}, true},
		{"partial_start", BusyInterval{Start: at(9, 45), End: at(10, 15)}, true},
		{"partial_end", BusyInterval{Start: at(10, 15), End: at(10, 45)}, true},
		{"touching_before", BusyInterval{Start: at(9, 0), End: at(10, 0)}, false},
		{"touching_after", BusyInterval{Start: at(10, 30), End: at(11, 0)}, false},
		{"disjoint", BusyInterval{Start: at(12, 0), End: at(13, 0)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := slot.Overlaps(tc.busy); got != tc.want {
				t.Fatalf("Overlaps(%v) = %v, want %v", tc.busy, got, tc.want)
			}
		})
	}
}

func TestMergeBusyIntervals_CoalescesOverlappingAndTouching(t *testing.T) {
	got := MergeBusyIntervals([]BusyInterval{
		{Start: at(13, 0), End: at(14, 0)},
		{Start: at(9, 0), End: at(10, 0)},
		{Start: at(10, 0), End: at(10, 30)},
		{Start: at(9, 30), End: at(9, 45)},
	})

	want := []BusyInterval{
		{Start: at(9, 0), End: at(10, 30)},
		{Start: at(13, 0), End: at(14, 0)},
	}
	if len(got) != len(want) {
		t.Fatalf("merged %d intervals, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("interval %d = [%v, %v), want [%v, %v)", i, got[i].Start, got[i].End, want[i].Start, want[i].End)
		}
	}
}

func TestMergeBusyIntervals_DropsDegenerate(t *testing.T) {
	got := MergeBusyIntervals([]BusyInterval{
		{Start: at(10, 0), End: at(10, 0)},
		{Start: at(11, 0), End: at(10, 0)},
	})
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestMergeBusyIntervals_DoesNotModifyInput(t *testing.T) {
	in := []BusyInterval{
		{Start: at(13, 0), End: at(14, 0)},
		{Start: at(9, 0), End: at(10, 0)},
	}
	MergeBusyIntervals(in)
	if !in[0].Start.Equal(at(13, 0)) {
		t.Fatalf("input reordered: %v", in)
	}
}

func TestISOWeekday(t *testing.T) {
	monday := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		day := monday.AddDate(0, 0, i)
		if got := ISOWeekday(day); got != int16(i+1) {
			t.Fatalf("ISOWeekday(%s) = %d, want %d", day.Weekday(), got, i+1)
		}
	}
}

func TestUnavailabilityRuleBusyOn_Weekly(t *testing.T) {
	rule := UnavailabilityRule{
		StartTime:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
		DaysOfWeek: []int16{3}, // Wednesdays
	}

	wednesday := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	iv, ok := rule.BusyOn(wednesday, time.UTC)
	if !ok {
		t.Fatalf("expected rule to apply on Wednesday")
	}
	if !iv.Start.Equal(at(12, 0)) || !iv.End.Equal(at(13, 0)) {
		t.Fatalf("interval = [%v, %v), want [12:00, 13:00)", iv.Start, iv.End)
	}
	if iv.Source != "rule" {
		t.Fatalf("source = %q, want %q", iv.Source, "rule")
	}

	thursday := wednesday.AddDate(0, 0, 1)
	if _, ok := rule.BusyOn(thursday, time.UTC); ok {
		t.Fatalf("rule applied on Thursday")
	}
}

func TestUnavailabilityRuleBusyOn_OneOffClippedToDay(t *testing.T) {
	rule := UnavailabilityRule{
		StartTime: time.Date(2026, 9, 1, 22, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC),
	}

	day := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	iv, ok := rule.BusyOn(day, time.UTC)
	if !ok {
		t.Fatalf("expected rule to apply")
	}
	if !iv.Start.Equal(day) {
		t.Fatalf("start = %v, want clipped to midnight", iv.Start)
	}
	if !iv.End.Equal(at(10, 0)) {
		t.Fatalf("end = %v, want 10:00", iv.End)
	}

	otherDay := time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC)
	if _, ok := rule.BusyOn(otherDay, time.UTC); ok {
		t.Fatalf("one-off rule applied outside its interval")
	}
}
