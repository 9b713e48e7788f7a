package automation

import (
	"errors"
	"fmt"
)

var (
	ErrRuleNotFound   = errors.New("automation: rule not found")
	ErrDepthExceeded  = errors.New("automation: event re-injection depth exceeded")
	ErrUnknownTrigger = errors.New("automation: unknown trigger type")
)

// ConfigurationError reports an invalid rule definition.
type ConfigurationError struct {
	RuleID int
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	where := "rule"
	if e.RuleID != 0 {
		where = fmt.Sprintf("rule %d", e.RuleID)
	}
	msg := fmt.Sprintf("%s: invalid %s", where, e.Field)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConditionEvaluationError wraps a failure (error or panic) raised while
// evaluating a rule condition. Only that rule is aborted.
type ConditionEvaluationError struct {
	RuleID int
	Err    error
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition evaluation failed for rule %d: %v", e.RuleID, e.Err)
}

func (e *ConditionEvaluationError) Unwrap() error { return e.Err }

// ActionExecutionError is raised when a handler fails, panics or times out.
// Error returns the handler's own message, which is what reports record.
type ActionExecutionError struct {
	ActionType string
	Index      int
	Err        error
}

func (e *ActionExecutionError) Error() string { return e.Err.Error() }

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err carries a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
