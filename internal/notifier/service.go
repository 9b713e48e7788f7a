// Package notifier records in-app notifications and fans them out to the
// email and push channels through a rate-limited worker queue.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bizflow/internal/domain"
	"bizflow/internal/eventbus"
	"bizflow/internal/runtime/supervisor"
	"bizflow/internal/transport"
	logx "bizflow/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 200

type job struct {
	n       domain.Notification
	channel transport.Channel
}

// Service implements domain.NotificationSender. The in-app record is written
// synchronously; channel delivery is asynchronous with retry.
type Service struct {
	mu sync.Mutex

	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	writer   domain.NotificationWriter
	channels map[string]transport.Channel
	limiter  *rate.Limiter
	now      func() time.Time

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *supervisor.Supervisor

	dmu   sync.Mutex
	dedup map[uint64]time.Time

	hmu     sync.Mutex
	history []Delivery
}

func New(cfg Config, writer domain.NotificationWriter, log logx.Logger, bus eventbus.Bus, channels ...transport.Channel) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	s := &Service{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "notifier")),
		bus:      bus,
		writer:   writer,
		channels: map[string]transport.Channel{},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:      time.Now,
		dedup:    map[uint64]time.Time{},
	}
	for _, c := range channels {
		if c != nil {
			s.channels[c.Name()] = c
		}
	}
	return s
}

// Channels lists the configured channel names.
func (s *Service) Channels() []string {
	out := make([]string, 0, len(s.channels))
	for _, name := range []string{transport.ChannelEmail, transport.ChannelPush} {
		if _, ok := s.channels[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Start launches the delivery workers. It is a no-op when delivery is
// disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.worker(c, q)
			return nil
		}, time.Second, 30*time.Second)
	}
}

// Stop refuses new deliveries and drains the queue until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return nil
	}
	s.accepting = false
	s.mu.Unlock()

	s.sendWG.Wait()
	close(q)
	err := sup.Wait(ctx)
	if err != nil {
		_ = sup.Stop(context.Background())
	}

	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	return err
}

// Send records n in-app and queues it on the requested channels. Queueing
// problems are logged and published but do not fail the call, since the
// in-app record already exists. A duplicate inside the dedup window returns
// domain.ErrDuplicateNotification and n without an ID.
func (s *Service) Send(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return n, err
	}
	if n.Type == "" || n.Title == "" {
		return n, errors.New("notification needs type and title")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.RecipientType == "" {
		n.RecipientType = "admin"
	}

	if s.suppressed(n) {
		s.record(Delivery{Type: n.Type, Status: StatusDeduped, At: s.now()}, EventDeduped)
		s.log.Debug("notification deduped", logx.String("type", n.Type), logx.String("entity", entityOf(n)))
		n.ID = ""
		return n, domain.ErrDuplicateNotification
	}

	if s.writer != nil {
		if err := s.writer.CreateNotification(ctx, n); err != nil {
			return n, fmt.Errorf("store notification: %w", err)
		}
	}

	for _, name := range wanted(n) {
		ch, ok := s.channels[name]
		if !ok {
			continue
		}
		if err := s.enqueue(job{n: n, channel: ch}); err != nil {
			s.log.Warn("notification not queued", logx.String("id", n.ID), logx.String("channel", name), logx.Err(err))
			s.record(Delivery{NotificationID: n.ID, Type: n.Type, Channel: name, Status: StatusDropped, Error: err.Error(), At: s.now()}, EventDropped)
		}
	}
	return n, nil
}

func wanted(n domain.Notification) []string {
	var out []string
	if n.Email {
		out = append(out, transport.ChannelEmail)
	}
	if n.Push {
		out = append(out, transport.ChannelPush)
	}
	return out
}

func (s *Service) enqueue(j job) error {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- j:
		s.publish(EventQueued, Delivery{NotificationID: j.n.ID, Type: j.n.Type, Channel: j.channel.Name(), At: s.now()})
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	d := Delivery{NotificationID: j.n.ID, Type: j.n.Type, Channel: j.channel.Name()}
	var lastErr error
	for attempt := 1; attempt <= 1+s.cfg.RetryMax; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		d.Attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		lastErr = j.channel.Deliver(callCtx, j.n)
		cancel()
		if lastErr == nil {
			d.Status, d.At = StatusSent, s.now()
			s.record(d, EventSent)
			return
		}
		s.log.Debug("notification delivery failed",
			logx.String("id", j.n.ID), logx.String("channel", d.Channel), logx.Int("attempt", attempt), logx.Err(lastErr))
		if errors.Is(lastErr, transport.ErrPermanent) || attempt > s.cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	d.Status, d.Error, d.At = StatusFailed, lastErr.Error(), s.now()
	s.log.Warn("notification delivery gave up",
		logx.String("id", j.n.ID), logx.String("channel", d.Channel), logx.Int("attempts", d.Attempts), logx.Err(lastErr))
	s.record(d, EventFailed)
}

// suppressed reports whether an identical notification for the same entity
// went out within the dedup window, and claims the window otherwise.
func (s *Service) suppressed(n domain.Notification) bool {
	if s.cfg.DedupWindow <= 0 {
		return false
	}
	h := fnv.New64a()
	for _, part := range []string{n.RecipientType, n.Type, entityOf(n), n.Link, n.Title, n.Message} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	key := h.Sum64()
	now := s.now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return true
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	return false
}

func entityOf(n domain.Notification) string {
	if v, ok := n.Metadata["entity_id"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func (s *Service) record(d Delivery, eventType string) {
	s.hmu.Lock()
	s.history = append(s.history, d)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
	s.publish(eventType, d)
}

func (s *Service) publish(eventType string, d Delivery) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventType, Time: s.now(), Data: d})
	}
}

// History returns the most recent delivery outcomes, oldest first.
func (s *Service) History() []Delivery {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]Delivery(nil), s.history...)
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	// 0.7..1.3 jitter
	return time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
}
