package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
	"bizflow/internal/eventbus"
	logx "bizflow/pkg/logx"
)

var ErrScanInProgress = errors.New("reminder scan already in progress")

const (
	EventFired  = "reminder.fired"
	EventFailed = "reminder.failed"
)

// Dispatcher receives re-injected events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev automation.Event) ([]automation.ExecutionReport, error)
}

// ScanConfig controls the reminder scan.
type ScanConfig struct {
	// Reinject dispatches a "scheduled" event (depth 1) after each delivered
	// reminder.
	Reinject bool
	// Recipient is the recipient group of reminder notifications.
	Recipient string
}

// Fire is one delivered reminder.
type Fire struct {
	EventType      string `json:"event_type"`
	EntityID       int64  `json:"entity_id"`
	Offset         string `json:"offset"`
	NotificationID string `json:"notification_id,omitempty"`
}

// ScanResult summarizes one scan.
type ScanResult struct {
	At         time.Time     `json:"at"`
	Took       time.Duration `json:"took_ns"`
	Checked    int           `json:"checked"`
	Fired      []Fire        `json:"fired"`
	Suppressed int           `json:"suppressed"`
	Failed     int           `json:"failed"`
	Reinjected int           `json:"reinjected"`
}

// Scanner is the periodic single-writer reminder job.
type Scanner struct {
	src     domain.DueSource
	matcher *Matcher
	sender  domain.NotificationSender
	engine  Dispatcher
	cfg     ScanConfig
	bus     eventbus.Bus
	log     logx.Logger

	mu sync.Mutex
}

type ScanOption func(*Scanner)

func WithScanBus(bus eventbus.Bus) ScanOption {
	return func(s *Scanner) { s.bus = bus }
}

func NewScanner(src domain.DueSource, m *Matcher, sender domain.NotificationSender, engine Dispatcher, cfg ScanConfig, log logx.Logger, opts ...ScanOption) *Scanner {
	if cfg.Recipient == "" {
		cfg.Recipient = "admin"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scanner{src: src, matcher: m, sender: sender, engine: engine, cfg: cfg, log: log.With(logx.String("comp", "reminder.scan"))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan evaluates every open task and pending payment due up to the largest
// reminder offset ahead of now. Overlapping calls fail with
// ErrScanInProgress.
func (s *Scanner) Scan(ctx context.Context, now time.Time) (ScanResult, error) {
	if !s.mu.TryLock() {
		return ScanResult{}, ErrScanInProgress
	}
	defer s.mu.Unlock()

	res := ScanResult{At: now, Fired: []Fire{}}
	start := time.Now()

	interval := s.matcher.ScanInterval()
	taskDue, _ := s.matcher.Rule(TaskDue)
	payDue, _ := s.matcher.Rule(PaymentDue)

	tasks, err := s.src.OpenTasksDue(ctx, now.Add(taskDue.MaxOffset()+interval))
	if err != nil {
		return res, fmt.Errorf("load due tasks: %w", err)
	}
	payments, err := s.src.PendingPaymentsDue(ctx, now.Add(payDue.MaxOffset()+interval))
	if err != nil {
		return res, fmt.Errorf("load due payments: %w", err)
	}

	for _, t := range tasks {
		if t.DueDate == nil {
			continue
		}
		res.Checked++
		s.evaluate(ctx, &res, TaskDue, TaskOverdue, t.ID, *t.DueDate, taskContext(t), now)
	}
	for _, p := range payments {
		if p.DueDate == nil {
			continue
		}
		res.Checked++
		s.evaluate(ctx, &res, PaymentDue, PaymentOverdue, p.ID, *p.DueDate, paymentContext(p), now)
	}

	res.Took = time.Since(start)
	if len(res.Fired) > 0 || res.Failed > 0 {
		s.log.Info("reminder scan finished",
			logx.Int("checked", res.Checked),
			logx.Int("fired", len(res.Fired)),
			logx.Int("suppressed", res.Suppressed),
			logx.Int("failed", res.Failed),
			logx.Duration("dur", res.Took),
		)
	} else {
		s.log.Debug("reminder scan finished", logx.Int("checked", res.Checked), logx.Duration("dur", res.Took))
	}
	return res, nil
}

// evaluate handles the offset reminders and the overdue alert of one entity.
// Overdue starts one scan interval after the due time so it never coincides
// with the on-time reminder.
func (s *Scanner) evaluate(ctx context.Context, res *ScanResult, dueType, overdueType string, id int64, due time.Time, c automation.Context, now time.Time) {
	if rule, ok := s.matcher.Rule(dueType); ok && s.matcher.shouldNotifyAt(dueType, c, now) {
		offsets, err := s.matcher.ReminderOffsetsDue(ctx, rule, id, due, now)
		if err != nil {
			res.Failed++
			s.log.Warn("reminder offsets failed", logx.String("event_type", dueType), logx.Int64("entity_id", id), logx.Err(err))
		}
		for _, off := range offsets {
			s.fire(ctx, res, rule, id, OffsetKey(off), c, now)
		}
	}

	if now.Before(due.Add(s.matcher.ScanInterval())) {
		return
	}
	rule, ok := s.matcher.Rule(overdueType)
	if !ok || !s.matcher.shouldNotifyAt(overdueType, c, now) {
		return
	}
	fired, err := s.matcher.Fired(ctx, overdueType, id, OverdueKey)
	if err != nil {
		res.Failed++
		s.log.Warn("reminder fire state read failed", logx.String("event_type", overdueType), logx.Int64("entity_id", id), logx.Err(err))
		return
	}
	if !fired {
		s.fire(ctx, res, rule, id, OverdueKey, c, now)
	}
}

func (s *Scanner) fire(ctx context.Context, res *ScanResult, rule Rule, id int64, offsetKey string, c automation.Context, now time.Time) {
	claimed, err := s.matcher.MarkFired(ctx, rule.EventType, id, offsetKey, now)
	if err != nil {
		res.Failed++
		s.log.Warn("reminder claim failed", logx.String("event_type", rule.EventType), logx.Int64("entity_id", id), logx.Err(err))
		return
	}
	if !claimed {
		res.Suppressed++
		return
	}

	content := Compose(rule.EventType, c)
	email, push := s.matcher.Channels(ctx, rule)
	meta := c.Clone()
	meta["offset"] = offsetKey
	n, err := s.sender.Send(ctx, domain.Notification{
		RecipientType: s.cfg.Recipient,
		Type:          rule.EventType,
		Title:         content.Title,
		Message:       content.Message,
		Link:          content.Link,
		Metadata:      map[string]any(meta),
		Email:         email,
		Push:          push,
	})
	if errors.Is(err, domain.ErrDuplicateNotification) {
		// The entity was just notified with the same content; the claim stands.
		res.Suppressed++
		s.log.Debug("reminder deduped by notifier", logx.String("event_type", rule.EventType), logx.Int64("entity_id", id))
		return
	}
	if err != nil {
		res.Failed++
		s.log.Warn("reminder delivery failed", logx.String("event_type", rule.EventType), logx.Int64("entity_id", id), logx.Err(err))
		if rerr := s.matcher.Release(ctx, rule.EventType, id, offsetKey); rerr != nil {
			s.log.Warn("reminder release failed", logx.String("event_type", rule.EventType), logx.Int64("entity_id", id), logx.Err(rerr))
		}
		s.publish(EventFailed, now, Fire{EventType: rule.EventType, EntityID: id, Offset: offsetKey})
		return
	}
	fire := Fire{EventType: rule.EventType, EntityID: id, Offset: offsetKey, NotificationID: n.ID}
	res.Fired = append(res.Fired, fire)
	s.publish(EventFired, now, fire)

	if !s.cfg.Reinject || s.engine == nil {
		return
	}
	ev := automation.Event{
		Trigger: automation.TriggerScheduled,
		Context: meta.Clone(),
		Depth:   1,
		Origin:  rule.EventType + ":" + strconv.FormatInt(id, 10),
	}
	ev.Context["notification_type"] = rule.EventType
	if _, err := s.engine.Dispatch(ctx, ev); err != nil {
		s.log.Warn("reminder re-injection failed", logx.String("origin", ev.Origin), logx.Err(err))
		return
	}
	res.Reinjected++
}

func (s *Scanner) publish(typ string, at time.Time, f Fire) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: f})
	}
}

func taskContext(t domain.DueTask) automation.Context {
	c := automation.Context{
		"entity_id":    t.ID,
		"task_id":      t.ID,
		"project_id":   t.ProjectID,
		"project_name": t.ProjectName,
		"title":        t.Title,
		"status":       t.Status,
		"priority":     t.Priority,
	}
	if t.DueDate != nil {
		c["due_date"] = t.DueDate.Format(time.RFC3339)
	}
	if t.AssigneeID != nil {
		c["assignee_id"] = *t.AssigneeID
	}
	return c
}

func paymentContext(p domain.Payment) automation.Context {
	c := automation.Context{
		"entity_id":      p.ID,
		"payment_id":     p.ID,
		"project_id":     p.ProjectID,
		"invoice_number": p.InvoiceNumber,
		"client_name":    p.ClientName,
		"amount":         p.Amount,
		"status":         p.Status,
	}
	if p.DueDate != nil {
		c["due_date"] = p.DueDate.Format(time.RFC3339)
	}
	return c
}
