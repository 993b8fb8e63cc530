// Package schedule computes occurrence dates for recurring invoice templates.
//
// All functions are pure. Dates are treated as calendar dates: the time-of-day and
// location of the anchor are preserved but never influence which day is chosen.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Frequency enumerates the supported recurrence periods.
type Frequency string

const (
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// ErrUnsupportedFrequency is returned for values outside the allowed set.
var ErrUnsupportedFrequency = errors.New("unsupported frequency")

// Frequencies lists the allowed values in display order.
func Frequencies() []Frequency {
	return []Frequency{Weekly, Monthly, Quarterly, Yearly}
}

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// ParseFrequency normalises and validates a frequency string.
func ParseFrequency(raw string) (Frequency, error) {
	f := Frequency(raw)
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFrequency, raw)
	}
	return f, nil
}

// Advance returns the next occurrence after anchor.
//
// Weekly adds seven days. Monthly and quarterly add one and three calendar months and
// yearly adds twelve; when the target month is shorter than the anchor's day-of-month
// the result clamps to the target month's last day (Jan 31 -> Feb 28/29, Feb 29 -> Feb 28).
func Advance(anchor time.Time, f Frequency) (time.Time, error) {
	switch f {
	case Weekly:
		return anchor.AddDate(0, 0, 7), nil
	case Monthly:
		return addMonthsClamped(anchor, 1), nil
	case Quarterly:
		return addMonthsClamped(anchor, 3), nil
	case Yearly:
		return addMonthsClamped(anchor, 12), nil
	default:
		return anchor, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, string(f))
	}
}

// AdvanceUntil applies Advance repeatedly until the result is no earlier than ref.
// An anchor already at or after ref is returned unchanged. Each step strictly
// increases the date by at least seven days, which bounds the loop.
func AdvanceUntil(anchor time.Time, f Frequency, ref time.Time) (time.Time, error) {
	if !f.Valid() {
		return anchor, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, string(f))
	}
	next := anchor
	for next.Before(ref) {
		var err error
		if next, err = Advance(next, f); err != nil {
			return anchor, err
		}
	}
	return next, nil
}

// Occurrences lists up to limit occurrence dates starting at from (inclusive), each
// derived from the previous by Advance, stopping after until when until is non-nil.
func Occurrences(from time.Time, f Frequency, until *time.Time, limit int) ([]time.Time, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, string(f))
	}
	if limit <= 0 {
		return nil, nil
	}
	out := make([]time.Time, 0, limit)
	next := from
	for len(out) < limit {
		if until != nil && next.After(*until) {
			break
		}
		out = append(out, next)
		var err error
		if next, err = Advance(next, f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	total := int(m) - 1 + months
	newY := y + total/12
	newM := total % 12
	if newM < 0 {
		newM += 12
		newY--
	}
	month := time.Month(newM + 1)

	if last := daysIn(newY, month, t.Location()); d > last {
		d = last
	}
	return time.Date(newY, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the following month is the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
