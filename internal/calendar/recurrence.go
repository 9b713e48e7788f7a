package calendar

import (
	"fmt"
	"strings"
	"time"
)

type Recurrence string

const (
	Daily   Recurrence = "daily"
	Weekly  Recurrence = "weekly"
	Monthly Recurrence = "monthly"
	Yearly  Recurrence = "yearly"
)

// ParseRecurrence normalizes a recurrence name.
func ParseRecurrence(s string) (Recurrence, error) {
	r := Recurrence(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case Daily, Weekly, Monthly, Yearly:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRecurrence, s)
}

// ExpandRecurrence returns occurrence starts from start through until
// (inclusive). A zero until means one year after start. Each occurrence is
// computed from start, so month-end dates follow time.AddDate normalization
// without accumulating drift.
func ExpandRecurrence(start time.Time, r Recurrence, until time.Time) ([]time.Time, error) {
	if until.IsZero() {
		until = start.AddDate(1, 0, 0)
	}
	var step func(n int) time.Time
	switch r {
	case Daily:
		step = func(n int) time.Time { return start.AddDate(0, 0, n) }
	case Weekly:
		step = func(n int) time.Time { return start.AddDate(0, 0, 7*n) }
	case Monthly:
		step = func(n int) time.Time { return start.AddDate(0, n, 0) }
	case Yearly:
		step = func(n int) time.Time { return start.AddDate(n, 0, 0) }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecurrence, string(r))
	}
	var out []time.Time
	for n := 0; ; n++ {
		t := step(n)
		if t.After(until) {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// Occurrences expands ev into the instances whose span overlaps [from, to].
// A non-recurring event is returned unchanged when it overlaps.
func Occurrences(ev Event, from, to time.Time) ([]Event, error) {
	window := Interval{Start: from, End: to}
	if ev.Recurrence == "" {
		if Overlaps(window, ev.Span()) {
			return []Event{ev}, nil
		}
		return nil, nil
	}
	until := to
	if ev.Until != nil && ev.Until.Before(until) {
		until = *ev.Until
	}
	starts, err := ExpandRecurrence(ev.Start, ev.Recurrence, until)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, s := range starts {
		occ := ev
		occ.Start = s
		occ.Recurrence = ""
		occ.Until = nil
		if ev.End != nil {
			end := s.Add(ev.End.Sub(ev.Start))
			occ.End = &end
		}
		if Overlaps(window, occ.Span()) {
			out = append(out, occ)
		}
	}
	return out, nil
}
