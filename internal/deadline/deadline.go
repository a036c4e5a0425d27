// Package deadline classifies proposed game times against a league's
// recurring weekly scheduling cutoff.
//
// All computations are pure: the caller supplies "now", the engine never
// reads the wall clock and never mutates external state.
package deadline

import (
	"fmt"
	"time"
)

// Rule is the recurring weekly cutoff, evaluated in UTC.
//
// ISOWeekday follows ISO-8601: 1 = Monday .. 7 = Sunday.
// WarningHours is the width of the warning window before the cutoff;
// zero disables the warning tier entirely.
type Rule struct {
	ISOWeekday   int
	Hour         int
	Minute       int
	WarningHours int
}

func (r Rule) Validate() error {
	if r.ISOWeekday < 1 || r.ISOWeekday > 7 {
		return fmt.Errorf("iso_weekday must be 1..7, got %d", r.ISOWeekday)
	}
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("hour must be 0..23, got %d", r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("minute must be 0..59, got %d", r.Minute)
	}
	if r.WarningHours < 0 {
		return fmt.Errorf("warning_hours must be >= 0, got %d", r.WarningHours)
	}
	return nil
}

// Tier is the outcome of classifying one proposed time.
type Tier int

const (
	OK Tier = iota
	Warning
	Late
	Invalid
)

func (t Tier) String() string {
	switch t {
	case OK:
		return "ok"
	case Warning:
		return "warning"
	case Late:
		return "late"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Upcoming returns the earliest UTC instant at or after now whose weekday,
// hour and minute match the rule. If the matching time-of-week already
// passed this week, the result is seven days later, so the invariant
// now <= Upcoming(r, now) < now+7d always holds.
func Upcoming(r Rule, now time.Time) time.Time {
	now = now.UTC()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), r.Hour, r.Minute, 0, 0, time.UTC)
	candidate = candidate.AddDate(0, 0, daysUntil(isoWeekday(now), r.ISOWeekday))
	if candidate.Before(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// Classify evaluates a proposed start time against the rule.
//
// parseErr carries the external parse adapter's verdict: a non-nil error
// short-circuits to Invalid. A proposed time that is not strictly after
// now is Invalid as well (you cannot schedule a game in the past).
func Classify(r Rule, now, proposed time.Time, parseErr error) Tier {
	if parseErr != nil {
		return Invalid
	}
	now = now.UTC()
	proposed = proposed.UTC()
	if !proposed.After(now) {
		return Invalid
	}

	cutoff := Upcoming(r, now)
	if proposed.After(cutoff) {
		return Late
	}
	if r.WarningHours > 0 && cutoff.Sub(proposed) <= time.Duration(r.WarningHours)*time.Hour {
		return Warning
	}
	return OK
}

// isoWeekday maps Go's Sunday-based weekday onto ISO-8601 numbering.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// daysUntil returns the forward distance in days from one ISO weekday to
// another, in 0..6.
func daysUntil(from, to int) int {
	d := to - from
	if d < 0 {
		d += 7
	}
	return d
}
