// Package timeparse converts chesster's moment-style schedule formats
// (e.g. "MM/DD @ HH:mm") into Go layouts and parses posted times as UTC.
//
// This is the fixed-format adapter the scheduling core consumes; fuzzy
// natural-language parsing stays outside the bot.
package timeparse

import (
	"fmt"
	"strings"
	"time"
)

// moment tokens in descending length order so "MM" wins over "M".
var tokens = []struct{ from, to string }{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
	{"ddd", "Mon"},
}

// Layout translates a moment-style format string into a Go time layout.
func Layout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		matched := false
		for _, tok := range tokens {
			if strings.HasPrefix(format[i:], tok.from) {
				b.WriteString(tok.to)
				i += len(tok.from)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

// Parse reads raw according to the league's configured format and returns a
// UTC instant.
//
// Formats without a year ("MM/DD @ HH:mm") are ambiguous across year
// boundaries: a game posted in late December for early January must land in
// the next year, not eleven months in the past. Parse resolves the ambiguity
// by picking the candidate year that puts the result closest to now.
func Parse(raw, format string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	layout := Layout(format)

	t, err := time.ParseInLocation(layout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q as %q: %w", raw, format, err)
	}
	if strings.Contains(layout, "2006") || strings.Contains(layout, "06") {
		return t, nil
	}

	// Year-less layout: ParseInLocation yields year 0. Re-anchor.
	now = now.UTC()
	best := t.AddDate(now.Year()-t.Year(), 0, 0)
	for _, candidate := range []time.Time{
		best.AddDate(-1, 0, 0),
		best.AddDate(1, 0, 0),
	} {
		if absDuration(candidate.Sub(now)) < absDuration(best.Sub(now)) {
			best = candidate
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
