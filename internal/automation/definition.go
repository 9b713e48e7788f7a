package automation

import "strings"

// Definition is the config/wire form of a rule. Conditions are declarative
// only; Go predicates are attached in code.
type Definition struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Trigger     string   `json:"trigger"`
	Description string   `json:"description,omitempty"`
	Active      *bool    `json:"active,omitempty"`
	Condition   *Expr    `json:"condition,omitempty"`
	Actions     []Action `json:"actions"`
}

// Rule compiles the definition. Active defaults to true.
func (d Definition) Rule() (Rule, error) {
	trig, err := ParseTriggerType(d.Trigger)
	if err != nil {
		return Rule{}, &ConfigurationError{RuleID: d.ID, Field: "trigger", Err: err}
	}
	r := Rule{
		ID:          d.ID,
		Name:        strings.TrimSpace(d.Name),
		Trigger:     trig,
		Description: d.Description,
		Active:      d.Active == nil || *d.Active,
		Actions:     d.Actions,
	}
	if d.Condition != nil {
		r.Condition = *d.Condition
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Compile turns definitions into rules, stopping at the first invalid one.
func Compile(defs []Definition) ([]Rule, error) {
	out := make([]Rule, 0, len(defs))
	for _, d := range defs {
		r, err := d.Rule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Definition returns the wire form of r. Non-declarative conditions are
// dropped.
func (r Rule) Definition() Definition {
	active := r.Active
	d := Definition{
		ID:          r.ID,
		Name:        r.Name,
		Trigger:     string(r.Trigger),
		Description: r.Description,
		Active:      &active,
		Actions:     r.Actions,
	}
	if e, ok := r.Condition.(Expr); ok {
		d.Condition = &e
	}
	return d
}
