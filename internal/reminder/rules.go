// Package reminder decides when due-date and business-event notifications
// fire, and runs the periodic reminder scan.
package reminder

import (
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
)

// Notification event types.
const (
	TaskDue           = "task.due"
	TaskOverdue       = "task.overdue"
	PaymentDue        = "payment.due"
	PaymentOverdue    = "payment.overdue"
	InquiryNew        = "inquiry.new"
	QuotationApproved = "quotation.approved"
	ContractSigned    = "contract.signed"
	ProjectMilestone  = "project.milestone"
	AIUsageLimit      = "ai.usage_limit"
)

// OverdueKey is the fire-state offset key of an overdue alert. Overdue alerts
// fire at most once per entity.
const OverdueKey = "overdue"

// Predicate decides whether a rule applies to a context at now.
type Predicate func(c automation.Context, now time.Time) bool

// Rule is the notification policy for one event type.
type Rule struct {
	EventType    string          `json:"event_type"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Enabled      bool            `json:"enabled"`
	EmailDefault bool            `json:"email_default"`
	PushDefault  bool            `json:"push_default"`
	Offsets      []time.Duration `json:"offsets,omitempty"`
	Predicate    Predicate       `json:"-"`
}

// DefaultRules returns the built-in notification table.
func DefaultRules() []Rule {
	return []Rule{
		{
			EventType: TaskDue, Name: "Task due", Description: "One day before and on the due date.",
			Enabled: true, EmailDefault: false, PushDefault: true,
			Offsets:   []time.Duration{24 * time.Hour, 0},
			Predicate: func(c automation.Context, _ time.Time) bool { return c.String("status") != domain.StatusDone },
		},
		{
			EventType: TaskOverdue, Name: "Task overdue", Description: "Open task past its due date.",
			Enabled: true, EmailDefault: true, PushDefault: true,
			Predicate: func(c automation.Context, now time.Time) bool {
				due, ok := c.Time("due_date")
				if !ok || !due.Before(now) {
					return false
				}
				s := c.String("status")
				return s != domain.StatusDone && s != domain.StatusCompleted
			},
		},
		{
			EventType: PaymentDue, Name: "Payment due", Description: "Three days before, one day before and on the due date.",
			Enabled: true, EmailDefault: true, PushDefault: true,
			Offsets:   []time.Duration{72 * time.Hour, 24 * time.Hour, 0},
			Predicate: statusIs(domain.StatusPending),
		},
		{
			EventType: PaymentOverdue, Name: "Payment overdue", Description: "Unpaid payment past its due date.",
			Enabled: true, EmailDefault: true, PushDefault: true,
			Predicate: statusIs(domain.StatusPending),
		},
		{
			EventType: InquiryNew, Name: "New inquiry", Description: "A client inquiry arrived.",
			Enabled: true, EmailDefault: true, PushDefault: true,
			Predicate: statusIs(domain.StatusNew),
		},
		{
			EventType: QuotationApproved, Name: "Quotation approved", Description: "A client approved a quotation.",
			Enabled: true, EmailDefault: true, PushDefault: true,
			Predicate: statusIs(domain.StatusApproved),
		},
		{
			EventType: ContractSigned, Name: "Contract signed", Description: "A contract carries the client signature.",
			Enabled: true, EmailDefault: true, PushDefault: true,
			Predicate: func(c automation.Context, _ time.Time) bool { return c.Has("client_signature") },
		},
		{
			EventType: ProjectMilestone, Name: "Project milestone", Description: "Progress reached 25, 50, 75 or 100%.",
			Enabled: true, EmailDefault: false, PushDefault: true,
			Predicate: func(c automation.Context, _ time.Time) bool {
				p, ok := c.Float("progress")
				if !ok {
					return false
				}
				switch p {
				case 25, 50, 75, 100:
					return true
				}
				return false
			},
		},
		{
			EventType: AIUsageLimit, Name: "AI usage limit", Description: "Monthly AI spend reached $50.",
			Enabled: true, EmailDefault: true, PushDefault: false,
			Predicate: func(c automation.Context, _ time.Time) bool {
				cost, _ := c.Float("monthly_cost")
				return cost >= 50
			},
		},
	}
}

func statusIs(status string) Predicate {
	return func(c automation.Context, _ time.Time) bool { return c.String("status") == status }
}

// MaxOffset returns the largest reminder offset of r.
func (r Rule) MaxOffset() time.Duration {
	var m time.Duration
	for _, o := range r.Offsets {
		if o > m {
			m = o
		}
	}
	return m
}
