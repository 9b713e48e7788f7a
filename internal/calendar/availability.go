package calendar

import (
	"context"
	"fmt"
	"time"

	logx "bizflow/pkg/logx"
)

// EventSource loads calendar events overlapping [from, to].
type EventSource interface {
	CalendarEvents(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Checker answers availability questions against an EventSource.
type Checker struct {
	src EventSource
	log logx.Logger

	// Default working hours used when callers pass zero values.
	WorkStart int
	WorkEnd   int
}

func NewChecker(src EventSource, log logx.Logger) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{src: src, log: log, WorkStart: 9, WorkEnd: 18}
}

// Conflicts loads events around [start, end] and returns every overlap.
// A nil end checks the instant at start.
func (c *Checker) Conflicts(ctx context.Context, start time.Time, end *time.Time, exclude *int64) ([]Event, error) {
	iv := Point(start)
	if end != nil {
		iv.End = *end
	}
	if iv.End.Before(iv.Start) {
		return nil, ErrInvalidInterval
	}
	events, err := c.src.CalendarEvents(ctx, iv.Start, iv.End)
	if err != nil {
		return nil, fmt.Errorf("load calendar events: %w", err)
	}
	return Conflicts(iv, events, exclude), nil
}

// FindAvailableSlots returns candidate start times on date. Zero work hours
// fall back to the checker defaults.
func (c *Checker) FindAvailableSlots(ctx context.Context, date time.Time, durationMinutes, workStart, workEnd int) ([]time.Time, error) {
	if workStart == 0 && workEnd == 0 {
		workStart, workEnd = c.WorkStart, c.WorkEnd
	}
	if workStart < 0 || workEnd > 24 || workStart >= workEnd {
		return nil, ErrInvalidWindow
	}
	if durationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	events, err := c.src.CalendarEvents(ctx, day, day.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("load calendar events: %w", err)
	}
	slots := FindAvailableSlots(day, durationMinutes, workStart, workEnd, events)
	c.log.Debug("availability computed",
		logx.String("date", day.Format("2006-01-02")),
		logx.Int("duration_min", durationMinutes),
		logx.Int("events", len(events)),
		logx.Int("slots", len(slots)),
	)
	return slots, nil
}

// Place validates that candidate is free. It returns *ConflictError listing
// every overlap when it is not.
func (c *Checker) Place(ctx context.Context, candidate Interval, exclude *int64) error {
	end := candidate.End
	conflicts, err := c.Conflicts(ctx, candidate.Start, &end, exclude)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Candidate: candidate, Conflicts: conflicts}
	}
	return nil
}

// FirstFit returns the first slot on date that can hold durationMinutes.
// ok is false when the day is full.
func (c *Checker) FirstFit(ctx context.Context, date time.Time, durationMinutes int) (time.Time, bool, error) {
	slots, err := c.FindAvailableSlots(ctx, date, durationMinutes, 0, 0)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(slots) == 0 {
		return time.Time{}, false, nil
	}
	return slots[0], true, nil
}
