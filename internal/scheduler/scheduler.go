// Package scheduler fires the periodic jobs of the service (reminder scan,
// scheduled automation trigger) on cron or interval schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"bizflow/internal/eventbus"
	logx "bizflow/pkg/logx"
)

const (
	EventRun     = "scheduler.run"
	EventSkipped = "scheduler.skipped"
)

var ErrUnknownJob = errors.New("unknown scheduled job")

type Config struct {
	Enabled  bool
	Timezone string
}

// Job is the function a schedule runs.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    Spec
	timeout time.Duration
	job     Job
	id      cron.EntryID

	running atomic.Bool
	mu      sync.Mutex
	runs    int
	skipped int
	lastRun time.Time
	lastDur time.Duration
	lastErr string
}

// JobInfo is a point-in-time view of one schedule.
type JobInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Timeout  time.Duration `json:"timeout_ns"`
	Running  bool          `json:"running"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
	Runs     int           `json:"runs"`
	Skipped  int           `json:"skipped"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastTook time.Duration `json:"last_took_ns"`
	LastErr  string        `json:"last_err,omitempty"`
}

// Service wraps robfig/cron. Every job skips a tick while its previous run is
// still in flight.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	parser  cron.Parser
	loc     *time.Location
	c       *cron.Cron
	entries map[string]*entry
	ctx     context.Context
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "scheduler")),
		bus: bus,
		// SecondOptional accepts 5- and 6-field specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     loc,
		entries: map[string]*entry{},
		ctx:     context.Background(),
	}, nil
}

// Add registers or replaces the job called name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("job name required")
	}
	if job == nil {
		return errors.New("job func required")
	}
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(spec.CronSpec()); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok && s.c != nil {
		s.c.Remove(old.id)
	}
	e := &entry{name: name, spec: spec, timeout: timeout, job: job}
	s.entries[name] = e
	if s.c != nil {
		return s.registerLocked(e)
	}
	return nil
}

// Remove drops the job called name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

func (s *Service) registerLocked(e *entry) error {
	id, err := s.c.AddFunc(e.spec.CronSpec(), func() { s.run(e) })
	if err != nil {
		return err
	}
	e.id = id
	s.log.Debug("job registered", logx.String("name", e.name), logx.String("spec", e.spec.CronSpec()))
	return nil
}

// Start begins firing. Job contexts derive from ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc), cron.WithChain(cron.Recover(cronLogger{s.log})))
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			s.c = nil
			return fmt.Errorf("register %s: %w", e.name, err)
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
	return nil
}

// Stop halts firing and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// RunNow runs the job synchronously, honoring the overlap gate.
func (s *Service) RunNow(name string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(e)
}

func (s *Service) run(e *entry) (bool, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.mu.Lock()
		e.skipped++
		e.mu.Unlock()
		s.log.Debug("job still running, tick skipped", logx.String("name", e.name))
		s.publish(EventSkipped, e.name, nil, 0)
		return false, nil
	}
	defer e.running.Store(false)

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	ctx := parent
	var cancel context.CancelFunc = func() {}
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, e.timeout)
	}
	start := time.Now()
	err := e.job(ctx)
	cancel()
	took := time.Since(start)

	e.mu.Lock()
	e.runs++
	e.lastRun, e.lastDur = start, took
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("name", e.name), logx.Duration("took", took), logx.Err(err))
	}
	s.publish(EventRun, e.name, err, took)
	return true, err
}

type runEvent struct {
	Name  string        `json:"name"`
	Took  time.Duration `json:"took_ns,omitempty"`
	Error string        `json:"error,omitempty"`
}

func (s *Service) publish(typ, name string, err error, took time.Duration) {
	if s.bus == nil {
		return
	}
	ev := runEvent{Name: name, Took: took}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// Snapshot lists the jobs sorted by name.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	c := s.c
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(entries))
	for _, e := range entries {
		info := JobInfo{Name: e.name, Spec: e.spec.CronSpec(), Timeout: e.timeout, Running: e.running.Load()}
		if c != nil {
			ce := c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		e.mu.Lock()
		info.Runs, info.Skipped = e.runs, e.skipped
		info.LastRun, info.LastTook, info.LastErr = e.lastRun, e.lastDur, e.lastErr
		e.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, logx.Err(err), logx.Any("kv", kv))
}
