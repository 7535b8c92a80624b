package cronbook

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func TestParseExpressionInvalid(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{
		"",
		"* * * *",
		"0 * * * * *",
		"@daily",
		"@every 5m",
		"CRON_TZ=UTC * * * *",
		"61 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"a b c d e",
	} {
		if _, err := ParseExpression(expr); !errors.Is(err, ErrInvalidExpression) {
			t.Fatalf("ParseExpression(%q) error = %v, want ErrInvalidExpression", expr, err)
		}
	}
}

func TestParseExpressionValid(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"*/5 * * * *", "0 12 * * 1-5", "30 8 1,15 * *", "  0   0 * * SUN  ", "0 0 30 2 *"} {
		if _, err := ParseExpression(expr); err != nil {
			t.Fatalf("ParseExpression(%q) error: %v", expr, err)
		}
	}
}

func TestNextFireZurichEveryFiveMinutes(t *testing.T) {
	t.Parallel()
	zurich := mustLoc(t, "Europe/Zurich")
	ev := Event{Expression: "*/5 * * * *", Command: "menu today", Channel: "room1", Timezone: "Europe/Zurich"}
	ref := time.Date(2025, 6, 2, 10, 0, 0, 0, zurich)

	got, err := NextFire(ev, ref)
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	want := time.Date(2025, 6, 2, 10, 5, 0, 0, zurich).UTC()
	if !got.Equal(want) {
		t.Fatalf("NextFire = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Fatalf("NextFire location = %v, want UTC", got.Location())
	}
}

func TestNextFireUsesEventTimezone(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	ny := Event{Expression: "0 9 * * *", Timezone: "America/New_York"}
	got, err := NextFire(ny, ref)
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	// 09:00 EST is 14:00 UTC on the same day.
	if want := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextFire = %v, want %v", got, want)
	}
}

func TestNextFireAdvances(t *testing.T) {
	t.Parallel()
	exprs := []string{"*/5 * * * *", "0 12 * * 1-5", "30 8 1,15 * *", "0 0 * * 0", "17 3 29 2 *"}
	refs := []time.Time{
		time.Date(2025, 3, 30, 0, 59, 59, 0, time.UTC),
		time.Date(2025, 10, 26, 0, 30, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
	for _, tz := range []string{"UTC", "Europe/Zurich", "America/New_York"} {
		for _, expr := range exprs {
			ev := Event{Expression: expr, Timezone: tz}
			for _, ref := range refs {
				first, err := NextFire(ev, ref)
				if err != nil {
					t.Fatalf("NextFire(%q, %s, %v): %v", expr, tz, ref, err)
				}
				if first.Before(ref) {
					t.Fatalf("NextFire(%q, %s, %v) = %v is before ref", expr, tz, ref, first)
				}
				again, err := NextFire(ev, ref)
				if err != nil || !again.Equal(first) {
					t.Fatalf("NextFire not deterministic: %v then %v (%v)", first, again, err)
				}
				second, err := NextFire(ev, first.Add(time.Nanosecond))
				if err != nil {
					t.Fatalf("NextFire second: %v", err)
				}
				if !second.After(first) {
					t.Fatalf("NextFire(%q, %s) did not advance: %v then %v", expr, tz, first, second)
				}
			}
		}
	}
}

func TestNextFireDayOfMonthOrDayOfWeek(t *testing.T) {
	t.Parallel()
	// "13th of the month or any Friday": from Sunday 2025-06-01 the first
	// Friday (the 6th) comes before the 13th.
	ev := Event{Expression: "0 9 13 * 5", Timezone: "UTC"}
	got, err := NextFire(ev, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	if want := time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextFire = %v, want %v", got, want)
	}
}

func TestNextFireImpossibleDate(t *testing.T) {
	t.Parallel()
	ev := Event{Expression: "0 0 30 2 *", Timezone: "UTC"}
	if _, err := NextFire(ev, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, ErrNoOccurrence) {
		t.Fatalf("NextFire error = %v, want ErrNoOccurrence", err)
	}
}

func TestNextFireUnknownTimezone(t *testing.T) {
	t.Parallel()
	for _, tz := range []string{"", "Local", "Mars/Olympus"} {
		ev := Event{Expression: "* * * * *", Timezone: tz}
		if _, err := NextFire(ev, time.Now()); !errors.Is(err, ErrUnknownTimezone) {
			t.Fatalf("NextFire(tz=%q) error = %v, want ErrUnknownTimezone", tz, err)
		}
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "hourly", Expression: "0 * * * *", Timezone: "UTC"},
		{ID: "broken", Expression: "0 0 30 2 *", Timezone: "UTC"},
		{ID: "soon", Expression: "*/5 * * * *", Timezone: "UTC"},
	}
	ev, at, ok := Upcoming(events, ref)
	if !ok || ev.ID != "soon" || !at.Equal(ref.Add(5*time.Minute)) {
		t.Fatalf("Upcoming = %v, %v, %v", ev.ID, at, ok)
	}
	if _, _, ok := Upcoming(nil, ref); ok {
		t.Fatal("Upcoming(nil) should report false")
	}
}
