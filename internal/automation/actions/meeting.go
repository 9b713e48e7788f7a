package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/calendar"
	"bizflow/internal/domain"
)

// ScheduleMeeting books a calendar event.
//
// With an explicit "start" the interval is placed strictly when "strict" is
// set (a conflict fails the action); otherwise a conflict falls back to the
// first free slot of that day. Without "start" the first free slot of "date"
// (or the context "meeting_date", or "offset_days" after today) is used.
type ScheduleMeeting struct {
	Checker *calendar.Checker
	Events  domain.EventWriter
	Now     func() time.Time
}

// Placements are serialized so two meetings cannot claim the same slot.
func (h *ScheduleMeeting) LockKey(automation.Context, automation.Config) string { return "calendar" }

func (h *ScheduleMeeting) Execute(ctx context.Context, c automation.Context, cfg automation.Config) (any, error) {
	if h.Checker == nil || h.Events == nil {
		return nil, notConfigured(TypeScheduleMeeting, "calendar")
	}
	minutes := 60
	if v, ok := cfg.Int64("duration_minutes"); ok {
		minutes = int(v)
	}
	if minutes <= 0 {
		return nil, fmt.Errorf("schedule_meeting: %w", calendar.ErrInvalidDuration)
	}
	dur := time.Duration(minutes) * time.Minute
	title := expand(stringOr(cfg, "title", "Meeting"), c)

	var start time.Time
	if want, ok := cfg.Time("start"); ok {
		err := h.Checker.Place(ctx, calendar.Interval{Start: want, End: want.Add(dur)}, nil)
		switch {
		case err == nil:
			start = want
		case calendar.IsConflict(err) && !cfg.Bool("strict"):
			s, found, ferr := h.firstFit(ctx, want, minutes, cfg)
			if ferr != nil {
				return nil, ferr
			}
			if !found {
				return nil, err
			}
			start = s
		default:
			return nil, err
		}
	} else {
		date := h.targetDate(c, cfg)
		s, found, err := h.firstFit(ctx, date, minutes, cfg)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("schedule_meeting: no free %d-minute slot on %s", minutes, date.Format("2006-01-02"))
		}
		start = s
	}

	end := start.Add(dur)
	id, err := h.Events.CreateEvent(ctx, calendar.Event{Title: title, Start: start, End: &end})
	if err != nil {
		return nil, fmt.Errorf("create calendar event: %w", err)
	}
	return map[string]any{
		"scheduled": true,
		"event_id":  id,
		"title":     title,
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
	}, nil
}

func (h *ScheduleMeeting) firstFit(ctx context.Context, date time.Time, minutes int, cfg automation.Config) (time.Time, bool, error) {
	ws, _ := cfg.Int64("work_start")
	we, _ := cfg.Int64("work_end")
	slots, err := h.Checker.FindAvailableSlots(ctx, date, minutes, int(ws), int(we))
	if err != nil {
		if errors.Is(err, calendar.ErrInvalidWindow) {
			return time.Time{}, false, fmt.Errorf("schedule_meeting: %w", err)
		}
		return time.Time{}, false, err
	}
	if len(slots) == 0 {
		return time.Time{}, false, nil
	}
	return slots[0], true, nil
}

func (h *ScheduleMeeting) targetDate(c automation.Context, cfg automation.Config) time.Time {
	if d, ok := cfg.Time("date"); ok {
		return d
	}
	if d, ok := c.Time("meeting_date"); ok {
		return d
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	days := int64(1)
	if v, ok := cfg.Int64("offset_days"); ok {
		days = v
	}
	return now().AddDate(0, 0, int(days))
}
