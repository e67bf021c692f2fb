package tasks

import (
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1.5h", 90 * time.Minute},
		{"0.5m", 30 * time.Second},
		{"15", 15 * time.Minute},
	}
	for _, c := range cases {
		got, err := ParseInterval(c.in)
		if err != nil {
			t.Errorf("ParseInterval(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseInterval(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseIntervalRejectsJunk(t *testing.T) {
	for _, in := range []string{"", "abc", "5x", "-5m", "h"} {
		if _, err := ParseInterval(in); err == nil {
			t.Errorf("ParseInterval(%q) accepted", in)
		}
	}
}

func TestNextOccurrenceWeekdayMorning(t *testing.T) {
	// Saturday noon rolls to Monday 09:00.
	after := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	next, err := NextOccurrence("0 9 * * MON-FRI", after)
	if err != nil {
		t.Fatalf("next occurrence: %v", err)
	}
	want := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextOccurrenceAlwaysAdvances(t *testing.T) {
	after := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	next, err := NextOccurrence("0 9 * * *", after)
	if err != nil {
		t.Fatalf("next occurrence: %v", err)
	}
	if !next.After(after) {
		t.Errorf("next = %v not after %v", next, after)
	}
	if !next.Equal(after.AddDate(0, 0, 1)) {
		t.Errorf("next = %v, want next day 09:00", next)
	}
}

func TestParseCronTimeOfDayShortcut(t *testing.T) {
	after := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC) // Monday noon

	next, err := NextOccurrence("08:30", after)
	if err != nil {
		t.Fatalf("HH:MM: %v", err)
	}
	want := time.Date(2025, 6, 17, 8, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	next, err = NextOccurrence("14:00 fri", after)
	if err != nil {
		t.Fatalf("HH:MM day: %v", err)
	}
	want = time.Date(2025, 6, 20, 14, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want Friday 14:00 (%v)", next, want)
	}
}

func TestParseBusinessHours(t *testing.T) {
	bh, err := ParseBusinessHours("business")
	if err != nil {
		t.Fatalf("business: %v", err)
	}
	if bh.StartHour != 9 || bh.EndHour != 17 {
		t.Errorf("hours = %d-%d", bh.StartHour, bh.EndHour)
	}
	if bh.Days[time.Saturday] || !bh.Days[time.Wednesday] {
		t.Errorf("days = %v", bh.Days)
	}

	bh, err = ParseBusinessHours("10-18 mon,wed,fri")
	if err != nil {
		t.Fatalf("day list: %v", err)
	}
	if !bh.Days[time.Monday] || bh.Days[time.Tuesday] {
		t.Errorf("days = %v", bh.Days)
	}
}

func TestBusinessHoursContains(t *testing.T) {
	bh, _ := ParseBusinessHours("9-17 mon-fri")

	monday10 := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	if !bh.Contains(monday10) {
		t.Error("Monday 10:00 should be inside")
	}
	monday18 := time.Date(2025, 6, 16, 18, 0, 0, 0, time.UTC)
	if bh.Contains(monday18) {
		t.Error("Monday 18:00 should be outside")
	}
	saturday10 := time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)
	if bh.Contains(saturday10) {
		t.Error("Saturday should be outside")
	}
}

func TestBusinessHoursOvernight(t *testing.T) {
	bh, err := ParseBusinessHours("22-6 mon-fri")
	if err != nil {
		t.Fatalf("overnight: %v", err)
	}
	monday23 := time.Date(2025, 6, 16, 23, 0, 0, 0, time.UTC)
	if !bh.Contains(monday23) {
		t.Error("Monday 23:00 should be inside")
	}
	// 02:00 Tuesday belongs to Monday's overnight window.
	tuesday2 := time.Date(2025, 6, 17, 2, 0, 0, 0, time.UTC)
	if !bh.Contains(tuesday2) {
		t.Error("Tuesday 02:00 should be inside Monday's window")
	}
	monday12 := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	if bh.Contains(monday12) {
		t.Error("Monday noon should be outside")
	}
	// 02:00 Sunday: Saturday is not a listed day.
	sunday2 := time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC)
	if bh.Contains(sunday2) {
		t.Error("Sunday 02:00 should be outside")
	}
}

func TestBusinessHoursNextStart(t *testing.T) {
	bh, _ := ParseBusinessHours("9-17 mon-fri")
	saturdayNoon := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	start, ok := bh.NextStart(saturdayNoon)
	if !ok {
		t.Fatal("no window found")
	}
	want := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
}

func TestCalculateNextRun(t *testing.T) {
	now := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC) // Saturday

	// Interval only.
	next, err := CalculateNextRun(int64(30*time.Minute/time.Millisecond), "", "", now)
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	if !next.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("next = %v", next)
	}

	// Cron wins over interval.
	next, err = CalculateNextRun(60000, "0 9 * * MON-FRI", "", now)
	if err != nil {
		t.Fatalf("cron: %v", err)
	}
	if !next.Equal(time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("next = %v, want Monday 09:00", next)
	}

	// Interval landing outside business hours moves to the window start.
	next, err = CalculateNextRun(int64(time.Hour/time.Millisecond), "", "9-17 mon-fri", now)
	if err != nil {
		t.Fatalf("business hours: %v", err)
	}
	if !next.Equal(time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("next = %v, want Monday 09:00", next)
	}

	// No schedule.
	next, err = CalculateNextRun(0, "", "", now)
	if err != nil || next != nil {
		t.Errorf("unscheduled = %v, %v", next, err)
	}
}
