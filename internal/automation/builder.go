package automation

// Builder assembles a Rule fluently. Build enforces name and trigger.
//
//	rule, err := automation.NewBuilder().
//		Name("Quotation follow-up").
//		Trigger(automation.TriggerQuotationApproved).
//		Action("send_notification", automation.Config{"title": "Approved"}).
//		Build(100)
type Builder struct {
	rule Rule
}

func NewBuilder() *Builder {
	return &Builder{rule: Rule{Active: true}}
}

func (b *Builder) Name(name string) *Builder {
	b.rule.Name = name
	return b
}

func (b *Builder) Description(d string) *Builder {
	b.rule.Description = d
	return b
}

func (b *Builder) Trigger(t TriggerType) *Builder {
	b.rule.Trigger = t
	return b
}

func (b *Builder) Condition(c Condition) *Builder {
	b.rule.Condition = c
	return b
}

// When sets an infallible predicate as the condition.
func (b *Builder) When(fn func(Context) bool) *Builder {
	b.rule.Condition = Predicate(fn)
	return b
}

func (b *Builder) Action(actionType string, cfg Config) *Builder {
	if cfg == nil {
		cfg = Config{}
	}
	b.rule.Actions = append(b.rule.Actions, Action{Type: actionType, Config: cfg})
	return b
}

func (b *Builder) Inactive() *Builder {
	b.rule.Active = false
	return b
}

func (b *Builder) Build(id int) (Rule, error) {
	r := b.rule
	r.ID = id
	r.Actions = append([]Action(nil), b.rule.Actions...)
	if r.Name == "" || r.Trigger == "" {
		return Rule{}, &ConfigurationError{RuleID: id, Field: "rule", Reason: "name and trigger are required"}
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}
