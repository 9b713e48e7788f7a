package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"bizflow/internal/eventbus"
	logx "bizflow/pkg/logx"
)

const (
	DefaultActionTimeout = 30 * time.Second
	DefaultMaxDepth      = 1

	// EventExecuted is published on the bus for every report.
	EventExecuted = "automation.executed"
)

// EngineConfig controls engine execution limits.
type EngineConfig struct {
	// ActionTimeout bounds each handler call. A timeout is an action error.
	ActionTimeout time.Duration
	// MaxDepth is the highest Event.Depth accepted by Dispatch.
	MaxDepth int
}

// AuditSink persists execution reports.
type AuditSink interface {
	AppendReport(ctx context.Context, ev Event, r ExecutionReport) error
}

// Recorder observes executions, typically for metrics.
type Recorder interface {
	ObserveExecution(r ExecutionReport)
	ObserveAction(actionType, status string, d time.Duration)
}

type Option func(*Engine)

func WithBus(bus eventbus.Bus) Option       { return func(e *Engine) { e.bus = bus } }
func WithAudit(a AuditSink) Option          { return func(e *Engine) { e.audit = a } }
func WithRecorder(r Recorder) Option        { return func(e *Engine) { e.rec = r } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine dispatches events to matching rules. Dispatch and Execute are safe
// for concurrent use.
type Engine struct {
	store RuleStore
	reg   *Registry
	cfg   EngineConfig
	log   logx.Logger

	bus   eventbus.Bus
	audit AuditSink
	rec   Recorder
	now   func() time.Time

	locks *keyedMutex
}

func New(store RuleStore, reg *Registry, cfg EngineConfig, log logx.Logger, opts ...Option) *Engine {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		store: store,
		reg:   reg,
		cfg:   cfg,
		log:   log.With(logx.String("comp", "automation")),
		now:   time.Now,
		locks: newKeyedMutex(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.reg }
func (e *Engine) Store() RuleStore    { return e.store }

// CheckRules reports every stored rule that references an unregistered
// action type.
func (e *Engine) CheckRules(ctx context.Context) error {
	rules, err := e.store.Rules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	var errs []error
	for _, r := range rules {
		if err := e.reg.Check(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DispatchTrigger is Dispatch for a top-level event.
func (e *Engine) DispatchTrigger(ctx context.Context, trigger TriggerType, c Context) ([]ExecutionReport, error) {
	return e.Dispatch(ctx, Event{Trigger: trigger, Context: c})
}

// Dispatch runs every active rule whose trigger matches ev and whose
// condition holds, in rule ID order. A rule whose condition fails produces a
// report with Success=false; other rules still run. Cancelling ctx stops
// dispatch before the next rule starts, never inside a rule.
func (e *Engine) Dispatch(ctx context.Context, ev Event) ([]ExecutionReport, error) {
	if !ev.Trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrigger, ev.Trigger)
	}
	if ev.Depth > e.cfg.MaxDepth {
		e.log.Warn("automation.dispatch.depth_exceeded",
			logx.String("trigger", string(ev.Trigger)),
			logx.String("origin", ev.Origin),
			logx.Int("depth", ev.Depth),
		)
		return nil, fmt.Errorf("%w: depth %d > %d (origin %q)", ErrDepthExceeded, ev.Depth, e.cfg.MaxDepth, ev.Origin)
	}
	if ev.Context == nil {
		ev.Context = Context{}
	}
	rules, err := e.store.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	var reports []ExecutionReport
	for _, r := range rules {
		if !r.Active || r.Trigger != ev.Trigger {
			continue
		}
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		ok, err := evaluate(r, ev.Context)
		if err != nil {
			rep := e.newReport(r, ev)
			rep.Success = false
			rep.Errors = append(rep.Errors, err.Error())
			e.finish(ctx, ev, &rep)
			reports = append(reports, rep)
			continue
		}
		if !ok {
			continue
		}
		reports = append(reports, e.run(ctx, r, ev))
	}
	return reports, nil
}

// Execute runs rule's actions unconditionally, ignoring Active.
func (e *Engine) Execute(ctx context.Context, rule Rule, c Context) ExecutionReport {
	if c == nil {
		c = Context{}
	}
	return e.run(ctx, rule, Event{Trigger: rule.Trigger, Context: c})
}

// ExecuteRule looks a rule up by ID and runs it regardless of its trigger.
func (e *Engine) ExecuteRule(ctx context.Context, id int, c Context) (ExecutionReport, error) {
	r, err := e.store.Rule(ctx, id)
	if err != nil {
		return ExecutionReport{}, err
	}
	return e.Execute(ctx, r, c), nil
}

func evaluate(r Rule, c Context) (ok bool, err error) {
	if r.Condition == nil {
		return true, nil
	}
	defer func() {
		if p := recover(); p != nil {
			ok, err = false, &ConditionEvaluationError{RuleID: r.ID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	ok, err = r.Condition.Evaluate(c)
	if err != nil {
		return false, &ConditionEvaluationError{RuleID: r.ID, Err: err}
	}
	return ok, nil
}

func (e *Engine) newReport(r Rule, ev Event) ExecutionReport {
	return ExecutionReport{
		ID:         uuid.NewString(),
		RuleID:     r.ID,
		RuleName:   r.Name,
		Trigger:    ev.Trigger,
		ExecutedAt: e.now(),
		Outcomes:   []ActionOutcome{},
		Errors:     []string{},
		Success:    true,
	}
}

// run executes actions strictly in order. Actions are detached from caller
// cancellation; only the per-action timeout applies.
func (e *Engine) run(ctx context.Context, r Rule, ev Event) ExecutionReport {
	rep := e.newReport(r, ev)
	actx := WithEvent(context.WithoutCancel(ctx), ev)

	for i, a := range r.Actions {
		h, ok := e.reg.Lookup(a.Type)
		if !ok {
			rep.Errors = append(rep.Errors, fmt.Sprintf("no handler found for action: %s", a.Type))
			e.observeAction(a.Type, "missing", 0)
			continue
		}
		started := e.now()
		res, err := e.runAction(actx, i, a, h, ev.Context)
		dur := e.now().Sub(started)
		if err != nil {
			rep.Success = false
			rep.Errors = append(rep.Errors, err.Error())
			e.observeAction(a.Type, "error", dur)
			e.log.Warn("automation.action.failed",
				logx.Int("rule_id", r.ID),
				logx.String("action", a.Type),
				logx.Int("index", i),
				logx.Err(err),
			)
			continue
		}
		e.observeAction(a.Type, "ok", dur)
		rep.Outcomes = append(rep.Outcomes, ActionOutcome{ActionType: a.Type, Result: res})
	}
	e.finish(ctx, ev, &rep)
	return rep
}

type actionResult struct {
	v   any
	err error
}

func (e *Engine) runAction(ctx context.Context, idx int, a Action, h ActionHandler, c Context) (any, error) {
	var unlock func()
	if l, ok := h.(EntityLocker); ok {
		if key := l.LockKey(c, a.Config); key != "" {
			unlock = e.locks.Lock(key)
		}
	}

	timeout := e.cfg.ActionTimeout
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The lock is released when the handler returns, even after a timeout,
	// so a stray handler still excludes later actions on the same entity.
	done := make(chan actionResult, 1)
	go func() {
		defer func() {
			if unlock != nil {
				unlock()
			}
		}()
		defer func() {
			if p := recover(); p != nil {
				e.log.Error("automation.action.panic",
					logx.String("action", a.Type),
					logx.Any("panic", p),
					logx.String("stack", string(debug.Stack())),
				)
				done <- actionResult{err: fmt.Errorf("action %s panicked: %v", a.Type, p)}
			}
		}()
		v, err := h.Execute(runCtx, c, a.Config)
		done <- actionResult{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &ActionExecutionError{ActionType: a.Type, Index: idx, Err: r.err}
		}
		return r.v, nil
	case <-runCtx.Done():
		return nil, &ActionExecutionError{ActionType: a.Type, Index: idx, Err: fmt.Errorf("action %s timed out after %s", a.Type, timeout)}
	}
}

func (e *Engine) observeAction(actionType, status string, d time.Duration) {
	if e.rec != nil {
		e.rec.ObserveAction(actionType, status, d)
	}
}

func (e *Engine) finish(ctx context.Context, ev Event, rep *ExecutionReport) {
	rep.Duration = e.now().Sub(rep.ExecutedAt)
	if rep.Success && len(rep.Errors) == 0 {
		e.log.Info("automation.executed",
			logx.Int("rule_id", rep.RuleID),
			logx.String("rule", rep.RuleName),
			logx.String("trigger", string(ev.Trigger)),
			logx.Int("actions", len(rep.Outcomes)),
			logx.Duration("dur", rep.Duration),
		)
	} else {
		e.log.Warn("automation.executed",
			logx.Int("rule_id", rep.RuleID),
			logx.String("rule", rep.RuleName),
			logx.String("trigger", string(ev.Trigger)),
			logx.Bool("success", rep.Success),
			logx.Strings("errors", rep.Errors),
			logx.Duration("dur", rep.Duration),
		)
	}
	if e.rec != nil {
		e.rec.ObserveExecution(*rep)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: EventExecuted, Time: e.now(), Data: *rep})
	}
	if e.audit != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := e.audit.AppendReport(actx, ev, *rep); err != nil {
			e.log.Warn("automation.audit.failed", logx.String("report", rep.ID), logx.Err(err))
		}
		cancel()
	}
}

type eventKey struct{}

// WithEvent attaches the event being executed to ctx. Handlers read it back
// with EventFrom to learn the re-injection depth and origin.
func WithEvent(ctx context.Context, ev Event) context.Context {
	return context.WithValue(ctx, eventKey{}, ev)
}

func EventFrom(ctx context.Context) (Event, bool) {
	ev, ok := ctx.Value(eventKey{}).(Event)
	return ev, ok
}
