package cronbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard five fields only: no seconds, no @descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseExpression validates a 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseExpression(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: %q has %d fields, want 5 (minute hour day-of-month month day-of-week)",
			ErrInvalidExpression, expr, len(fields))
	}
	if strings.Contains(fields[0], "TZ=") {
		return nil, fmt.Errorf("%w: %q: timezone prefixes are not supported", ErrInvalidExpression, expr)
	}
	sched, err := parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
	}
	return sched, nil
}

// LoadTimezone resolves an IANA name. The empty string and "Local" are
// rejected: events must not depend on the host timezone.
func LoadTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return loc, nil
}

// NextFire returns the first instant strictly after ref at which ev fires,
// evaluated on the wall clock of ev.Timezone and returned in UTC.
//
// When both day-of-month and day-of-week are restricted either may match.
// Nonexistent or repeated local times around DST changes follow the cron
// library's normalization.
func NextFire(ev Event, ref time.Time) (time.Time, error) {
	loc, err := LoadTimezone(ev.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := ParseExpression(ev.Expression)
	if err != nil {
		return time.Time{}, err
	}
	return nextIn(sched, loc, ref)
}

func nextIn(sched cron.Schedule, loc *time.Location, ref time.Time) (time.Time, error) {
	next := sched.Next(ref.In(loc))
	if next.IsZero() {
		// The cron library gives up after a bounded search (e.g. "0 0 30 2 *").
		return time.Time{}, ErrNoOccurrence
	}
	return next.UTC(), nil
}

// Upcoming returns the event that fires soonest after ref. Events whose
// expression or timezone cannot be evaluated are skipped.
func Upcoming(events []Event, ref time.Time) (Event, time.Time, bool) {
	var (
		best   Event
		bestAt time.Time
		found  bool
	)
	for _, ev := range events {
		at, err := NextFire(ev, ref)
		if err != nil {
			continue
		}
		if !found || at.Before(bestAt) {
			best, bestAt, found = ev, at, true
		}
	}
	return best, bestAt, found
}
