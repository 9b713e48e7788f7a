package calendar

import "time"

// SlotSize is the granularity of the availability grid.
const SlotSize = 30 * time.Minute

// Interval is a closed time range [Start, End].
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Point returns a zero-length interval at t.
func Point(t time.Time) Interval { return Interval{Start: t, End: t} }

// Overlaps reports whether two closed intervals share at least one instant.
// Touching endpoints count as an overlap.
func Overlaps(a, b Interval) bool {
	return !(a.End.Before(b.Start) || a.Start.After(b.End))
}

// Event is a calendar entry as seen by the availability algorithms.
// End == nil means the event ends when it starts.
type Event struct {
	ID     int64      `json:"id"`
	Title  string     `json:"title,omitempty"`
	Start  time.Time  `json:"start"`
	End    *time.Time `json:"end,omitempty"`
	AllDay bool       `json:"all_day"`

	// Recurrence repeats the event from Start until Until (inclusive).
	Recurrence Recurrence `json:"recurrence,omitempty"`
	Until      *time.Time `json:"recurrence_until,omitempty"`
}

// Span returns the interval the event occupies for conflict checks.
// All-day and end-less events collapse to their start instant.
func (e Event) Span() Interval {
	if e.AllDay || e.End == nil {
		return Point(e.Start)
	}
	return Interval{Start: e.Start, End: *e.End}
}

// Conflicts returns every event whose span overlaps candidate, skipping the
// event whose ID equals *exclude.
func Conflicts(candidate Interval, events []Event, exclude *int64) []Event {
	var out []Event
	for _, ev := range events {
		if exclude != nil && ev.ID == *exclude {
			continue
		}
		if ev.Start.IsZero() {
			continue
		}
		if Overlaps(candidate, ev.Span()) {
			out = append(out, ev)
		}
	}
	return out
}

// Slot is one cell of the availability grid.
type Slot struct {
	Start     time.Time
	Available bool
}

// Grid builds the half-hour cells covering [workStart, workEnd) hours on the
// calendar day of date (in date's location). All cells start available.
func Grid(date time.Time, workStart, workEnd int) []Slot {
	if workStart < 0 || workEnd > 24 || workStart >= workEnd {
		return nil
	}
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	from := day.Add(time.Duration(workStart) * time.Hour)
	to := day.Add(time.Duration(workEnd) * time.Hour)

	slots := make([]Slot, 0, int(to.Sub(from)/SlotSize))
	for t := from; t.Before(to); t = t.Add(SlotSize) {
		slots = append(slots, Slot{Start: t, Available: true})
	}
	return slots
}

// blocks reports whether a timed event occupies the cell starting at start.
// Cells are half-open; a zero-length event blocks the cell containing it.
func blocks(ev Event, start time.Time) bool {
	end := start.Add(SlotSize)
	evEnd := ev.Start
	if ev.End != nil {
		evEnd = *ev.End
	}
	if !evEnd.After(ev.Start) {
		return !ev.Start.Before(start) && ev.Start.Before(end)
	}
	return start.Before(evEnd) && end.After(ev.Start)
}

// FindAvailableSlots returns the first cell of every maximal run of free
// cells that is at least durationMinutes long. All-day events are ignored.
// Sub-windows inside a run are not enumerated.
func FindAvailableSlots(date time.Time, durationMinutes, workStart, workEnd int, events []Event) []time.Time {
	if durationMinutes <= 0 {
		return nil
	}
	slots := Grid(date, workStart, workEnd)
	if len(slots) == 0 {
		return nil
	}
	for _, ev := range events {
		if ev.AllDay || ev.Start.IsZero() {
			continue
		}
		for i := range slots {
			if slots[i].Available && blocks(ev, slots[i].Start) {
				slots[i].Available = false
			}
		}
	}

	need := time.Duration(durationMinutes) * time.Minute
	var out []time.Time
	runStart := -1
	flush := func(endIdx int) {
		if runStart < 0 {
			return
		}
		if time.Duration(endIdx-runStart)*SlotSize >= need {
			out = append(out, slots[runStart].Start)
		}
		runStart = -1
	}
	for i, s := range slots {
		if s.Available {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(slots))
	return out
}
