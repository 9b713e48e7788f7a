package calendar

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func timed(id int64, sh, sm, eh, em int) Event {
	end := at(eh, em)
	return Event{ID: id, Start: at(sh, sm), End: &end}
}

func TestOverlapsSymmetricAndClosed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{name: "contained", a: Interval{at(10, 30), at(10, 45)}, b: Interval{at(10, 0), at(11, 0)}, want: true},
		{name: "touching", a: Interval{at(10, 0), at(11, 0)}, b: Interval{at(11, 0), at(12, 0)}, want: true},
		{name: "disjoint", a: Interval{at(9, 0), at(9, 59)}, b: Interval{at(10, 0), at(11, 0)}, want: false},
		{name: "point inside", a: Point(at(10, 15)), b: Interval{at(10, 0), at(11, 0)}, want: true},
		{name: "point outside", a: Point(at(8, 0)), b: Interval{at(10, 0), at(11, 0)}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.a, tt.b))
			assert.Equal(t, tt.want, Overlaps(tt.b, tt.a), "overlap must be symmetric")
		})
	}
}

func TestConflictsReturnsEveryOverlap(t *testing.T) {
	t.Parallel()
	events := []Event{
		timed(1, 10, 0, 11, 0),
		timed(2, 10, 40, 12, 0),
		timed(3, 13, 0, 14, 0),
		{ID: 4, Start: at(10, 35), AllDay: true},
	}
	got := Conflicts(Interval{at(10, 30), at(10, 45)}, events, nil)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 4}, ids(got))

	exclude := int64(1)
	got = Conflicts(Interval{at(10, 30), at(10, 45)}, events, &exclude)
	assert.Equal(t, []int64{2, 4}, ids(got))
}

func TestConflictsScenarioSingleEvent(t *testing.T) {
	t.Parallel()
	got := Conflicts(Interval{at(10, 30), at(10, 45)}, []Event{timed(7, 10, 0, 11, 0)}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)
}

func TestConflictsEndlessEventIsPoint(t *testing.T) {
	t.Parallel()
	ev := Event{ID: 1, Start: at(11, 0)}
	assert.Len(t, Conflicts(Interval{at(10, 0), at(11, 0)}, []Event{ev}, nil), 1)
	assert.Empty(t, Conflicts(Interval{at(11, 1), at(12, 0)}, []Event{ev}, nil))
}

func TestGridCoversWorkHours(t *testing.T) {
	t.Parallel()
	g := Grid(day, 9, 18)
	require.Len(t, g, 18)
	assert.Equal(t, at(9, 0), g[0].Start)
	assert.Equal(t, at(17, 30), g[len(g)-1].Start)
	assert.Nil(t, Grid(day, 18, 9))
}

func TestFindAvailableSlots(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		duration int
		events   []Event
		want     []time.Time
	}{
		{name: "morning blocked", duration: 60, events: []Event{timed(1, 9, 0, 10, 0)}, want: []time.Time{at(10, 0)}},
		{name: "lunch splits the day", duration: 60, events: []Event{timed(1, 12, 0, 13, 0)}, want: []time.Time{at(9, 0), at(13, 0)}},
		{name: "only long run qualifies", duration: 240, events: []Event{timed(1, 12, 0, 13, 0)}, want: []time.Time{at(13, 0)}},
		{name: "point event blocks its cell", duration: 30, events: []Event{{ID: 1, Start: at(10, 0)}}, want: []time.Time{at(9, 0), at(10, 30)}},
		{name: "all-day ignored", duration: 30, events: []Event{{ID: 1, Start: at(0, 0), AllDay: true}}, want: []time.Time{at(9, 0)}},
		{name: "partial cell overlap", duration: 30, events: []Event{timed(1, 9, 10, 9, 20)}, want: []time.Time{at(9, 30)}},
		{name: "day full", duration: 30, events: []Event{timed(1, 8, 0, 19, 0)}, want: nil},
		{name: "too long", duration: 600, events: nil, want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := FindAvailableSlots(day, tt.duration, 9, 18, tt.events)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindAvailableSlotsNeverOverlapsTimedEvents(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var events []Event
		for i := 0; i < rng.Intn(5); i++ {
			startMin := 8*60 + rng.Intn(10*60)
			length := rng.Intn(120)
			start := day.Add(time.Duration(startMin) * time.Minute)
			end := start.Add(time.Duration(length) * time.Minute)
			events = append(events, Event{ID: int64(i), Start: start, End: &end})
		}
		duration := 30 * (1 + rng.Intn(6))
		for _, s := range FindAvailableSlots(day, duration, 9, 18, events) {
			windowEnd := s.Add(time.Duration(duration) * time.Minute)
			for _, ev := range events {
				evEnd := *ev.End
				var hit bool
				if evEnd.After(ev.Start) {
					hit = s.Before(evEnd) && windowEnd.After(ev.Start)
				} else {
					hit = !ev.Start.Before(s) && ev.Start.Before(windowEnd)
				}
				require.Falsef(t, hit, "round %d: slot %s (+%dm) overlaps event %s-%s", round, s, duration, ev.Start, evEnd)
			}
		}
	}
}

func ids(events []Event) []int64 {
	out := make([]int64, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}
