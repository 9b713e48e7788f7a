// Package actions holds the built-in automation action handlers.
//
// Config keys are snake_case. Entity IDs are read from the event context
// first and from the action config second, so one rule serves every entity
// of a trigger type. String fields accept {key} placeholders filled from the
// context.
package actions

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/calendar"
	"bizflow/internal/domain"
)

const (
	TypeSendNotification = "send_notification"
	TypeUpdateStatus     = "update_status"
	TypeCreateTask       = "create_task"
	TypeAssignUser       = "assign_user"
	TypeCalculateValue   = "calculate_value"
	TypeScheduleMeeting  = "schedule_meeting"
)

var ErrNotConfigured = errors.New("action dependency not configured")

// Deps are the collaborators handlers call. Nil fields make the dependent
// handler fail with ErrNotConfigured.
type Deps struct {
	Notifier domain.NotificationSender
	Statuses domain.StatusWriter
	Tasks    domain.TaskWriter
	TaskList domain.TaskReader
	Progress domain.ProgressWriter
	Assigner domain.Assigner
	Calendar *calendar.Checker
	Events   domain.EventWriter
	Now      func() time.Time
}

// RegisterDefaults registers every built-in handler on reg.
func RegisterDefaults(reg *automation.Registry, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	reg.Register(TypeSendNotification, &SendNotification{Sender: d.Notifier})
	reg.Register(TypeUpdateStatus, &UpdateStatus{Statuses: d.Statuses, Progress: d.Progress})
	reg.Register(TypeCreateTask, &CreateTask{Tasks: d.Tasks, Now: d.Now})
	reg.Register(TypeAssignUser, &AssignUser{Assigner: d.Assigner})
	reg.Register(TypeCalculateValue, &CalculateValue{Tasks: d.TaskList, Progress: d.Progress})
	reg.Register(TypeScheduleMeeting, &ScheduleMeeting{Checker: d.Calendar, Events: d.Events, Now: d.Now})
}

func notConfigured(actionType, dep string) error {
	return fmt.Errorf("%s: %w: %s", actionType, ErrNotConfigured, dep)
}

// idFrom reads key from c, then from cfg.
func idFrom(c automation.Context, cfg automation.Config, key string) (int64, bool) {
	if v, ok := c.Int64(key); ok {
		return v, true
	}
	return cfg.Int64(key)
}

// idFromConfig reads key from cfg, then from c.
func idFromConfig(c automation.Context, cfg automation.Config, key string) (int64, bool) {
	if v, ok := cfg.Int64(key); ok {
		return v, true
	}
	return c.Int64(key)
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// expand substitutes {key} with the context value. Unknown keys are kept.
func expand(s string, c automation.Context) string {
	if s == "" || len(c) == 0 {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		if !c.Has(key) {
			return m
		}
		return c.String(key)
	})
}

func stringOr(cfg automation.Config, key, def string) string {
	if v := cfg.String(key); v != "" {
		return v
	}
	return def
}
