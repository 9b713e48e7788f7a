package repo

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"bizflow/internal/calendar"
)

func (r *Repo) CreateEvent(ctx context.Context, ev calendar.Event) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO calendar_events(title,start_at,end_at,all_day,recurrence,recurrence_until,created_at) VALUES (?,?,?,?,?,?,?)`,
		ev.Title, nullTime(&ev.Start), nullTime(ev.End), boolInt(ev.AllDay), nullable(string(ev.Recurrence)), nullTime(ev.Until), r.now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CalendarEvents returns events overlapping [from, to], with recurring
// events expanded into their occurrences. An event without an end counts as
// a point at its start.
func (r *Repo) CalendarEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,start_at,end_at,all_day,recurrence,recurrence_until FROM calendar_events
		WHERE start_at IS NOT NULL AND start_at <= ?
		AND (COALESCE(end_at,start_at) >= ? OR (COALESCE(recurrence,'') <> '' AND (recurrence_until IS NULL OR recurrence_until >= ?)))
		ORDER BY start_at, id`,
		formatTime(to), formatTime(from), formatTime(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []calendar.Event
	for rows.Next() {
		var (
			ev                     calendar.Event
			start, end, rec, until sql.NullString
			allDay                 int
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &start, &end, &allDay, &rec, &until); err != nil {
			return nil, err
		}
		if ev.Start, err = parseTime(start.String); err != nil {
			return nil, err
		}
		if ev.End, err = parseNullTime(end); err != nil {
			return nil, err
		}
		if ev.Until, err = parseNullTime(until); err != nil {
			return nil, err
		}
		if rec.String != "" {
			if ev.Recurrence, err = calendar.ParseRecurrence(rec.String); err != nil {
				return nil, err
			}
		}
		ev.AllDay = allDay != 0
		occ, err := calendar.Occurrences(ev, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, occ...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
