package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
	"bizflow/internal/storage"
	logx "bizflow/pkg/logx"
)

// FireStore is the durable fire-state subset of storage.Store.
type FireStore interface {
	MarkFired(ctx context.Context, k storage.FireKey, firedAt time.Time) (bool, error)
	Fired(ctx context.Context, k storage.FireKey) (time.Time, bool, error)
	Unmark(ctx context.Context, k storage.FireKey) error
}

// Matcher holds the notification table and the fire state. ShouldNotify is
// safe for concurrent use; fire-state checks are meant for the single-writer
// scan.
type Matcher struct {
	rules        map[string]Rule
	store        FireStore
	prefs        domain.PreferenceReader
	scanInterval time.Duration
	now          func() time.Time
	log          logx.Logger
}

type MatcherOption func(*Matcher)

func WithPreferences(p domain.PreferenceReader) MatcherOption {
	return func(m *Matcher) { m.prefs = p }
}

func WithMatcherClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) { m.now = now }
}

// NewMatcher builds a matcher. scanInterval is the reminder window width and
// must match the scan period.
func NewMatcher(rules []Rule, store FireStore, scanInterval time.Duration, log logx.Logger, opts ...MatcherOption) *Matcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Matcher{
		rules:        make(map[string]Rule, len(rules)),
		store:        store,
		scanInterval: scanInterval,
		now:          time.Now,
		log:          log.With(logx.String("comp", "reminder")),
	}
	for _, r := range rules {
		m.rules[r.EventType] = r
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Matcher) ScanInterval() time.Duration { return m.scanInterval }

func (m *Matcher) Rule(eventType string) (Rule, bool) {
	r, ok := m.rules[eventType]
	return r, ok
}

// Rules returns the table sorted by event type.
func (m *Matcher) Rules() []Rule {
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// ShouldNotify reports whether an enabled rule exists for eventType and its
// predicate holds for c.
func (m *Matcher) ShouldNotify(eventType string, c automation.Context) bool {
	return m.shouldNotifyAt(eventType, c, m.now())
}

func (m *Matcher) shouldNotifyAt(eventType string, c automation.Context, now time.Time) bool {
	r, ok := m.rules[eventType]
	if !ok || !r.Enabled {
		return false
	}
	if r.Predicate == nil {
		return true
	}
	return r.Predicate(c, now)
}

// ReminderOffsetsDue returns the offsets of rule whose boundary due-offset was
// crossed within the last scan interval and that have not fired yet for
// entityID.
func (m *Matcher) ReminderOffsetsDue(ctx context.Context, rule Rule, entityID int64, due, now time.Time) ([]time.Duration, error) {
	var out []time.Duration
	for _, off := range rule.Offsets {
		boundary := due.Add(-off)
		if now.Before(boundary) || !now.Before(boundary.Add(m.scanInterval)) {
			continue
		}
		_, fired, err := m.store.Fired(ctx, FireKeyFor(rule.EventType, entityID, OffsetKey(off)))
		if err != nil {
			return nil, fmt.Errorf("read fire state: %w", err)
		}
		if !fired {
			out = append(out, off)
		}
	}
	return out, nil
}

// MarkFired claims (eventType, entityID, offsetKey) before delivery. false
// means the alert already fired and must be suppressed.
func (m *Matcher) MarkFired(ctx context.Context, eventType string, entityID int64, offsetKey string, at time.Time) (bool, error) {
	ok, err := m.store.MarkFired(ctx, FireKeyFor(eventType, entityID, offsetKey), at)
	if err != nil {
		return false, fmt.Errorf("write fire state: %w", err)
	}
	if !ok {
		m.log.Debug("reminder duplicate suppressed",
			logx.String("event_type", eventType), logx.Int64("entity_id", entityID), logx.String("offset", offsetKey))
	}
	return ok, nil
}

// Release drops a claim whose delivery failed so a later scan can retry.
func (m *Matcher) Release(ctx context.Context, eventType string, entityID int64, offsetKey string) error {
	return m.store.Unmark(ctx, FireKeyFor(eventType, entityID, offsetKey))
}

// Fired reports whether the key has fired.
func (m *Matcher) Fired(ctx context.Context, eventType string, entityID int64, offsetKey string) (bool, error) {
	_, ok, err := m.store.Fired(ctx, FireKeyFor(eventType, entityID, offsetKey))
	return ok, err
}

// Channels returns email/push enablement: rule defaults, overridden by a
// stored preference when one exists.
func (m *Matcher) Channels(ctx context.Context, r Rule) (email, push bool) {
	email, push = r.EmailDefault, r.PushDefault
	if m.prefs == nil {
		return email, push
	}
	pref, ok, err := m.prefs.ChannelPreference(ctx, r.EventType)
	if err != nil {
		m.log.Warn("notification preference lookup failed", logx.String("event_type", r.EventType), logx.Err(err))
		return email, push
	}
	if ok {
		return pref.Email, pref.Push
	}
	return email, push
}

// OffsetKey is the fire-state key of a reminder offset.
func OffsetKey(d time.Duration) string { return d.String() }

func FireKeyFor(eventType string, entityID int64, offsetKey string) storage.FireKey {
	return storage.FireKey{EventType: eventType, EntityID: entityID, Offset: offsetKey}
}
