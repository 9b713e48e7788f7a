package automation

import (
	"fmt"
	"strings"
	"time"
)

// TriggerType is the category of business event a rule listens for.
type TriggerType string

const (
	TriggerQuotationApproved TriggerType = "quotation.approved"
	TriggerContractSigned    TriggerType = "contract.signed"
	TriggerProjectCreated    TriggerType = "project.created"
	TriggerTaskCompleted     TriggerType = "task.completed"
	TriggerPaymentReceived   TriggerType = "payment.received"
	TriggerInquiryCreated    TriggerType = "inquiry.created"
	TriggerScheduled         TriggerType = "scheduled"
	TriggerManual            TriggerType = "manual"
)

// Triggers returns the closed set of trigger types in declaration order.
func Triggers() []TriggerType {
	return []TriggerType{
		TriggerQuotationApproved,
		TriggerContractSigned,
		TriggerProjectCreated,
		TriggerTaskCompleted,
		TriggerPaymentReceived,
		TriggerInquiryCreated,
		TriggerScheduled,
		TriggerManual,
	}
}

func (t TriggerType) Valid() bool {
	for _, v := range Triggers() {
		if v == t {
			return true
		}
	}
	return false
}

// ParseTriggerType maps a wire value onto the enum.
func ParseTriggerType(s string) (TriggerType, error) {
	t := TriggerType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
	}
	return t, nil
}

// Action is one step of a rule. Config is validated by the handler.
type Action struct {
	Type   string `json:"type"`
	Config Config `json:"config,omitempty"`
}

// Rule is a trigger + optional condition + ordered action list.
type Rule struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Trigger     TriggerType `json:"trigger"`
	Description string      `json:"description,omitempty"`
	Active      bool        `json:"active"`
	Actions     []Action    `json:"actions"`

	// Condition is nil for unconditional rules.
	Condition Condition `json:"-"`
}

// Validate checks the structural invariants of a rule definition.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ConfigurationError{RuleID: r.ID, Field: "name", Reason: "required"}
	}
	if !r.Trigger.Valid() {
		return &ConfigurationError{RuleID: r.ID, Field: "trigger", Reason: fmt.Sprintf("%q is not a known trigger", r.Trigger), Err: ErrUnknownTrigger}
	}
	if len(r.Actions) == 0 {
		return &ConfigurationError{RuleID: r.ID, Field: "actions", Reason: "at least one action is required"}
	}
	for i, a := range r.Actions {
		if strings.TrimSpace(a.Type) == "" {
			return &ConfigurationError{RuleID: r.ID, Field: fmt.Sprintf("actions[%d].type", i), Reason: "required"}
		}
	}
	if v, ok := r.Condition.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return &ConfigurationError{RuleID: r.ID, Field: "condition", Err: err}
		}
	}
	return nil
}

// Event is a state change or time tick entering the engine.
//
// Depth counts how many times the event was re-injected by the engine's own
// side effects; Origin names the source ("<eventType>:<entityID>").
type Event struct {
	Trigger TriggerType `json:"trigger"`
	Context Context     `json:"context,omitempty"`
	Depth   int         `json:"depth,omitempty"`
	Origin  string      `json:"origin,omitempty"`
}

// ActionOutcome records a handler that ran to completion.
type ActionOutcome struct {
	ActionType string `json:"action_type"`
	Result     any    `json:"result"`
}

// ExecutionReport is the per-rule record of one execution.
type ExecutionReport struct {
	ID         string          `json:"id"`
	RuleID     int             `json:"rule_id"`
	RuleName   string          `json:"rule_name"`
	Trigger    TriggerType     `json:"trigger"`
	ExecutedAt time.Time       `json:"executed_at"`
	Duration   time.Duration   `json:"duration_ns"`
	Outcomes   []ActionOutcome `json:"outcomes"`
	Errors     []string        `json:"errors"`
	Success    bool            `json:"success"`
}
