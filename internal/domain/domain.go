// Package domain holds the business entities and the collaborator ports the
// automation core calls. internal/repo implements the ports on SQLite.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entity types addressable by status and assignment actions.
const (
	EntityQuotation = "quotation"
	EntityContract  = "contract"
	EntityProject   = "project"
	EntityTask      = "task"
	EntityPayment   = "payment"
	EntityInquiry   = "inquiry"
)

var ErrUnknownEntity = errors.New("unknown entity type")

// ErrDuplicateNotification is returned by a NotificationSender when the same
// notification for the same entity went out within its dedup window. Nothing
// was stored or queued.
var ErrDuplicateNotification = errors.New("duplicate notification suppressed")

// ParseEntityType normalizes an entity type name.
func ParseEntityType(s string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	switch t {
	case EntityQuotation, EntityContract, EntityProject, EntityTask, EntityPayment, EntityInquiry:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
}

// Statuses the core reads or writes.
const (
	StatusDone      = "done"
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusNew       = "new"
	StatusApproved  = "approved"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type Project struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ClientName string    `json:"client_name,omitempty"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	CreatedAt  time.Time `json:"created_at"`
}

type Task struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssigneeID  *int64     `json:"assignee_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DueTask is an open task with its project name, as read by the reminder scan.
type DueTask struct {
	Task
	ProjectName string `json:"project_name"`
}

type Payment struct {
	ID            int64      `json:"id"`
	ProjectID     int64      `json:"project_id"`
	InvoiceNumber string     `json:"invoice_number"`
	ClientName    string     `json:"client_name,omitempty"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	DueDate       *time.Time `json:"due_date,omitempty"`
}

// Notification is an in-app record plus the channels it should go out on.
type Notification struct {
	ID            string         `json:"id"`
	RecipientType string         `json:"recipient_type"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Link          string         `json:"link,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Email         bool           `json:"email"`
	Push          bool           `json:"push"`
	Read          bool           `json:"read"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ChannelPreference overrides a notification rule's channel defaults.
type ChannelPreference struct {
	EventType string `json:"event_type"`
	Email     bool   `json:"email"`
	Push      bool   `json:"push"`
}
