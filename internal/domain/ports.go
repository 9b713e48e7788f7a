package domain

import (
	"context"
	"time"

	"bizflow/internal/calendar"
)

type StatusWriter interface {
	UpdateStatus(ctx context.Context, entityType string, id int64, status string) error
}

type TaskWriter interface {
	CreateTask(ctx context.Context, t Task) (int64, error)
}

type TaskReader interface {
	ProjectTasks(ctx context.Context, projectID int64) ([]Task, error)
}

type ProgressWriter interface {
	SetProjectProgress(ctx context.Context, projectID int64, progress int) error
}

type Assigner interface {
	AssignUser(ctx context.Context, entityType string, id, assigneeID int64) error
}

type EventWriter interface {
	CreateEvent(ctx context.Context, ev calendar.Event) (int64, error)
}

// NotificationSender records a notification and hands it to delivery.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) (Notification, error)
}

type NotificationWriter interface {
	CreateNotification(ctx context.Context, n Notification) error
}

// DueSource lists reminder candidates whose due date is at or before until.
type DueSource interface {
	OpenTasksDue(ctx context.Context, until time.Time) ([]DueTask, error)
	PendingPaymentsDue(ctx context.Context, until time.Time) ([]Payment, error)
}

// PreferenceReader returns the stored channel preference for an event type.
// ok is false when none is stored.
type PreferenceReader interface {
	ChannelPreference(ctx context.Context, eventType string) (pref ChannelPreference, ok bool, err error)
}
