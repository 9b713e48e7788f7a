package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizflow/internal/calendar"
	"bizflow/internal/db"
	"bizflow/internal/domain"
	"bizflow/internal/migrate"
)

var now = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "biz.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	r := New(conn)
	r.Now = func() time.Time { return now }
	return r
}

func ptr[T any](v T) *T { return &v }

func TestStatusAndAssignment(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	pid, err := r.CreateProject(ctx, domain.Project{Name: "Site", ClientName: "Acme"})
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus(ctx, "project", pid, "in_progress"))
	status, err := r.EntityStatus(ctx, domain.EntityProject, pid)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", status)

	assert.ErrorIs(t, r.UpdateStatus(ctx, "project", 999, "x"), ErrNotFound)
	assert.ErrorIs(t, r.UpdateStatus(ctx, "spaceship", pid, "x"), domain.ErrUnknownEntity)

	require.NoError(t, r.AssignUser(ctx, "project", pid, 42))
	assert.ErrorIs(t, r.AssignUser(ctx, "task", 1, 42), ErrNotFound)

	require.NoError(t, r.SetProjectProgress(ctx, pid, 50))
	p, err := r.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 50, p.Progress)
	assert.Equal(t, "Acme", p.ClientName)
	assert.True(t, p.CreatedAt.Equal(now))

	_, err = r.GetProject(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTasksAndDueQueries(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	pid, err := r.CreateProject(ctx, domain.Project{Name: "Site"})
	require.NoError(t, err)

	due := now.Add(24 * time.Hour)
	later := now.Add(10 * 24 * time.Hour)
	open, err := r.CreateTask(ctx, domain.Task{ProjectID: pid, Title: "Wireframes", DueDate: &due, AssigneeID: ptr(int64(7))})
	require.NoError(t, err)
	_, err = r.CreateTask(ctx, domain.Task{ProjectID: pid, Title: "Done", Status: domain.StatusDone, DueDate: &due})
	require.NoError(t, err)
	_, err = r.CreateTask(ctx, domain.Task{ProjectID: pid, Title: "Later", DueDate: &later})
	require.NoError(t, err)
	_, err = r.CreateTask(ctx, domain.Task{ProjectID: pid, Title: "Undated"})
	require.NoError(t, err)

	tasks, err := r.ProjectTasks(ctx, pid)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	assert.Equal(t, "todo", tasks[0].Status)
	assert.Equal(t, domain.PriorityMedium, tasks[0].Priority)
	require.NotNil(t, tasks[0].AssigneeID)
	assert.Equal(t, int64(7), *tasks[0].AssigneeID)
	assert.Nil(t, tasks[3].DueDate)

	dueTasks, err := r.OpenTasksDue(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, dueTasks, 1)
	assert.Equal(t, open, dueTasks[0].ID)
	assert.Equal(t, "Site", dueTasks[0].ProjectName)
	require.NotNil(t, dueTasks[0].DueDate)
	assert.True(t, dueTasks[0].DueDate.Equal(due))
}

func TestPendingPaymentsDue(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	due := now.Add(72 * time.Hour)
	id, err := r.CreatePayment(ctx, domain.Payment{InvoiceNumber: "INV-001", Amount: 1500000, DueDate: &due})
	require.NoError(t, err)
	_, err = r.CreatePayment(ctx, domain.Payment{InvoiceNumber: "INV-002", Status: domain.StatusPaid, DueDate: &due})
	require.NoError(t, err)

	got, err := r.PendingPaymentsDue(ctx, now.Add(73*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, 1500000.0, got[0].Amount)

	got, err = r.PendingPaymentsDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCalendarEventsOverlapRange(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	at := func(h int) time.Time { return time.Date(2024, 3, 4, h, 0, 0, 0, time.UTC) }

	_, err := r.CreateEvent(ctx, calendar.Event{Title: "standup", Start: at(9), End: ptr(at(10))})
	require.NoError(t, err)
	_, err = r.CreateEvent(ctx, calendar.Event{Title: "deadline", Start: at(14)})
	require.NoError(t, err)
	_, err = r.CreateEvent(ctx, calendar.Event{Title: "tomorrow", Start: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), AllDay: true})
	require.NoError(t, err)

	evs, err := r.CalendarEvents(ctx, at(0), at(23))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "standup", evs[0].Title)
	assert.Nil(t, evs[1].End)

	evs, err = r.CalendarEvents(ctx, at(10), at(12))
	require.NoError(t, err)
	require.Len(t, evs, 1, "touching end counts")
}

func TestCalendarEventsExpandsRecurrence(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) // Monday
	until := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err := r.CreateEvent(ctx, calendar.Event{
		Title:      "weekly review",
		Start:      start,
		End:        ptr(start.Add(time.Hour)),
		Recurrence: calendar.Weekly,
		Until:      &until,
	})
	require.NoError(t, err)

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	evs, err := r.CalendarEvents(ctx, day, day.Add(24*time.Hour-time.Nanosecond))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), evs[0].Start)
	assert.Equal(t, time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC), *evs[0].End)
	assert.Empty(t, evs[0].Recurrence)

	evs, err = r.CalendarEvents(ctx, day.AddDate(0, 0, 1), day.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, evs, "no occurrence on Tuesday")

	evs, err = r.CalendarEvents(ctx, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, evs, "past recurrence_until")
}

func TestNotificationsAndPreferences(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	n := domain.Notification{ID: "n-1", RecipientType: "admin", Type: "task.due", Title: "Task due", Metadata: map[string]any{"task_id": 7.0}, Push: true, CreatedAt: now}
	require.NoError(t, r.CreateNotification(ctx, n))
	require.NoError(t, r.CreateNotification(ctx, domain.Notification{ID: "n-2", RecipientType: "admin", Type: "payment.due", Title: "Pay", CreatedAt: now.Add(time.Minute)}))

	list, err := r.Notifications(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n-2", list[0].ID)
	assert.Equal(t, map[string]any{"task_id": 7.0}, list[1].Metadata)
	assert.True(t, list[1].Push)

	require.NoError(t, r.MarkNotificationRead(ctx, "n-2"))
	assert.ErrorIs(t, r.MarkNotificationRead(ctx, "nope"), ErrNotFound)
	unread, err := r.Notifications(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n-1", unread[0].ID)

	_, ok, err := r.ChannelPreference(ctx, "task.due")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetChannelPreference(ctx, domain.ChannelPreference{EventType: "task.due", Email: true}))
	require.NoError(t, r.SetChannelPreference(ctx, domain.ChannelPreference{EventType: "task.due", Email: true, Push: true}))
	pref, ok, err := r.ChannelPreference(ctx, "task.due")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pref.Email)
	assert.True(t, pref.Push)
}
