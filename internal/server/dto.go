package server

import (
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/calendar"
)

// Request payloads

type DispatchRequest struct {
	Trigger string         `json:"trigger" example:"payment.received"`
	Context map[string]any `json:"context,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type ExecuteRuleRequest struct {
	Context map[string]any `json:"context,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type UpdateRuleRequest struct {
	Active bool `json:"active"`
}

// Response payloads

type DispatchResponse struct {
	Trigger string                       `json:"trigger"`
	Reports []automation.ExecutionReport `json:"reports"`
}

type RuleResponse struct {
	ID          int                 `json:"id"`
	Name        string              `json:"name"`
	Trigger     string              `json:"trigger"`
	Description string              `json:"description,omitempty"`
	Active      bool                `json:"active"`
	Condition   *automation.Expr    `json:"condition,omitempty"`
	Actions     []automation.Action `json:"actions"`
}

type RulesResponse struct {
	Rules []RuleResponse `json:"rules"`
}

type SlotsResponse struct {
	Date     string      `json:"date"`
	Duration int         `json:"duration"`
	Slots    []time.Time `json:"slots"`
}

type ConflictsResponse struct {
	Free      bool             `json:"free"`
	Conflicts []calendar.Event `json:"conflicts"`
}

func ruleResponse(r automation.Rule) RuleResponse {
	d := r.Definition()
	return RuleResponse{
		ID:          d.ID,
		Name:        d.Name,
		Trigger:     d.Trigger,
		Description: d.Description,
		Active:      r.Active,
		Condition:   d.Condition,
		Actions:     d.Actions,
	}
}
