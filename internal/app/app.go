// Package app wires configuration, storage, the automation engine, the
// reminder scan and the HTTP API into one runnable service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/automation/actions"
	"bizflow/internal/calendar"
	"bizflow/internal/config"
	"bizflow/internal/db"
	"bizflow/internal/eventbus"
	"bizflow/internal/metrics"
	"bizflow/internal/migrate"
	"bizflow/internal/notifier"
	"bizflow/internal/reminder"
	"bizflow/internal/repo"
	"bizflow/internal/runtime/supervisor"
	"bizflow/internal/scheduler"
	"bizflow/internal/server"
	"bizflow/internal/storage"
	logx "bizflow/pkg/logx"
)

// Scheduled job names.
const (
	JobReminderScan     = "reminder.scan"
	JobScheduledTrigger = "automation.scheduled"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	now  func() time.Time
	loc  *time.Location

	db      *sql.DB
	repo    *repo.Repo
	store   storage.Store
	bus     eventbus.Bus
	metrics *metrics.Metrics

	rules   *automation.MemoryStore
	reg     *automation.Registry
	engine  *automation.Engine
	checker *calendar.Checker
	matcher *reminder.Matcher
	scanner *reminder.Scanner
	notif   *notifier.Service
	sched   *scheduler.Service
	handler http.Handler

	httpSrv *http.Server
	httpLn  net.Listener
	sup     *supervisor.Supervisor
}

type Option func(*App)

// WithClock overrides the wall clock of the scan and the action handlers.
func WithClock(now func() time.Time) Option { return func(a *App) { a.now = now } }

// WithLogger replaces the configured logging service.
func WithLogger(log logx.Logger) Option { return func(a *App) { a.log = log } }

// New loads cfgPath and builds the app. The config file is watched once the
// app is started.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := Build(cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// Build wires every component from cfg. The caller owns the result and must
// Stop or Close it.
func Build(cfg *config.Config, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		a.logs, a.log = logx.New(mapLogConfig(cfg))
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	log := a.log

	if a.loc, err = loadLocation(cfg.Scheduler.Timezone); err != nil {
		return nil, err
	}

	if a.db, err = db.Open(mapDBConfig(cfg)); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	before, err := migrate.Version(ctx, a.db)
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	version, err := migrate.Migrate(ctx, a.db)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if version != before {
		log.Info("database migrated", logx.Int("from", before), logx.Int("to", version), logx.String("path", cfg.Database.Path))
	}
	a.repo = repo.New(a.db)
	a.repo.Now = a.now

	sc, shared, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sdb *sql.DB
	if shared {
		sdb = a.db
	}
	if a.store, err = storage.OpenWithDB(sc, sdb, log); err != nil {
		return nil, err
	}

	a.bus = eventbus.New()
	a.metrics = metrics.New()

	channels, err := buildChannels(cfg, log)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(mapNotifierConfig(cfg), a.repo, log, a.bus, channels...)

	a.checker = calendar.NewChecker(a.repo, log.With(logx.String("comp", "calendar")))
	if cfg.Server.WorkStart != 0 || cfg.Server.WorkEnd != 0 {
		a.checker.WorkStart, a.checker.WorkEnd = cfg.Server.WorkStart, cfg.Server.WorkEnd
	}

	a.reg = automation.NewRegistry()
	actions.RegisterDefaults(a.reg, actions.Deps{
		Notifier: a.notif,
		Statuses: a.repo,
		Tasks:    a.repo,
		TaskList: a.repo,
		Progress: a.repo,
		Assigner: a.repo,
		Calendar: a.checker,
		Events:   a.repo,
		Now:      a.now,
	})
	rules, err := a.compileRules(cfg)
	if err != nil {
		return nil, err
	}
	if a.rules, err = automation.NewMemoryStore(rules...); err != nil {
		return nil, err
	}
	a.engine = automation.New(a.rules, a.reg, mapEngineConfig(cfg), log,
		automation.WithBus(a.bus),
		automation.WithAudit(reportAudit{store: a.store}),
		automation.WithRecorder(a.metrics),
		automation.WithClock(a.now),
	)

	reminderRules, err := cfg.ReminderRules()
	if err != nil {
		return nil, err
	}
	interval := config.DurationOr(cfg.Reminders.ScanInterval, 5*time.Minute)
	a.matcher = reminder.NewMatcher(reminderRules, a.store, interval, log,
		reminder.WithPreferences(a.repo),
		reminder.WithMatcherClock(a.now),
	)
	var dispatcher reminder.Dispatcher
	if cfg.Reminders.Reinject {
		dispatcher = a.engine
	}
	a.scanner = reminder.NewScanner(a.repo, a.matcher, a.notif, dispatcher, reminder.ScanConfig{
		Reinject:  cfg.Reminders.Reinject,
		Recipient: cfg.Reminders.Recipient,
	}, log, reminder.WithScanBus(a.bus))

	if a.sched, err = scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, log, a.bus); err != nil {
		return nil, err
	}
	if err := a.registerJobs(cfg, interval); err != nil {
		return nil, err
	}

	if a.handler, err = server.New(server.Config{
		Engine:       a.engine,
		Availability: a.checker,
		Scanner:      scanRecorder{scanner: a.scanner, metrics: a.metrics},
		Metrics:      a.metrics.Handler(),
		Location:     a.loc,
		Now:          a.now,
		Log:          log.With(logx.String("comp", "http")),
		Debug: server.DebugConfig{
			Enabled: cfg.Server.Pprof.Enabled,
			Prefix:  cfg.Server.Pprof.Prefix,
			Token:   cfg.Server.Pprof.Token,
		},
	}); err != nil {
		return nil, err
	}

	log.Info("app built",
		logx.Int("rules", a.rules.Len()),
		logx.Strings("channels", a.notif.Channels()),
		logx.String("storage", sc.Driver),
		logx.Duration("scan_interval", interval),
	)
	return a, nil
}

// compileRules merges templates and configured rules and checks every action
// type against the registry.
func (a *App) compileRules(cfg *config.Config) ([]automation.Rule, error) {
	rules, err := cfg.CompileRules()
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, r := range rules {
		if err := a.reg.Check(r); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rules, nil
}

func (a *App) registerJobs(cfg *config.Config, interval time.Duration) error {
	if cfg.Reminders.Enabled {
		timeout := config.DurationOr(cfg.Reminders.ScanTimeout, interval)
		if err := a.sched.Add(JobReminderScan, "every:"+interval.String(), timeout, a.runScan); err != nil {
			return err
		}
	}
	if s := strings.TrimSpace(cfg.Scheduler.ScheduledTrigger); s != "" {
		if err := a.sched.Add(JobScheduledTrigger, s, 0, a.runScheduledTrigger); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) runScan(ctx context.Context) error {
	_, err := a.Scan(ctx)
	if errors.Is(err, reminder.ErrScanInProgress) {
		return nil
	}
	return err
}

func (a *App) runScheduledTrigger(ctx context.Context) error {
	now := a.now()
	_, err := a.engine.Dispatch(ctx, automation.Event{
		Trigger: automation.TriggerScheduled,
		Context: automation.Context{"tick": now, "origin": "scheduler"},
		Origin:  "scheduler:" + now.UTC().Format(time.RFC3339),
	})
	return err
}

// Scan runs one reminder scan now and records it in the metrics.
func (a *App) Scan(ctx context.Context) (reminder.ScanResult, error) {
	return scanRecorder{scanner: a.scanner, metrics: a.metrics}.Scan(ctx, a.now())
}

// scanRecorder observes every scan, including manual ones from the API.
type scanRecorder struct {
	scanner *reminder.Scanner
	metrics *metrics.Metrics
}

func (s scanRecorder) Scan(ctx context.Context, now time.Time) (reminder.ScanResult, error) {
	res, err := s.scanner.Scan(ctx, now)
	s.metrics.ObserveScan(res, err)
	return res, err
}

func (a *App) Config() *config.Config             { return a.cfg }
func (a *App) Log() logx.Logger                   { return a.log }
func (a *App) Engine() *automation.Engine         { return a.engine }
func (a *App) Rules() *automation.MemoryStore     { return a.rules }
func (a *App) Checker() *calendar.Checker         { return a.checker }
func (a *App) Matcher() *reminder.Matcher         { return a.matcher }
func (a *App) Repo() *repo.Repo                   { return a.repo }
func (a *App) Store() storage.Store               { return a.store }
func (a *App) Notifier() *notifier.Service        { return a.notif }
func (a *App) Scheduler() *scheduler.Service      { return a.sched }
func (a *App) Handler() http.Handler              { return a.handler }
func (a *App) Location() *time.Location           { return a.loc }
func (a *App) Bus() eventbus.Bus                  { return a.bus }
func (a *App) Metrics() *metrics.Metrics          { return a.metrics }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Addr returns the bound HTTP address once started.
func (a *App) Addr() string {
	if a.httpLn == nil {
		return ""
	}
	return a.httpLn.Addr().String()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches delivery workers, the scheduler, the config watcher and the
// HTTP listener.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if err := a.engine.CheckRules(runCtx); err != nil {
		return err
	}
	a.notif.Start(runCtx)

	deliveries, unsubDeliveries := a.bus.Subscribe(256, "notifier.")
	a.sup.Go("metrics.deliveries", func(c context.Context) error {
		go func() {
			<-c.Done()
			unsubDeliveries()
		}()
		a.metrics.Consume(deliveries)
		return nil
	})

	if err := a.sched.Start(runCtx); err != nil {
		return err
	}

	if a.cfgm != nil {
		a.startConfigReload()
	}

	if addr := strings.TrimSpace(a.cfg.Server.Addr); addr != "" {
		if err := a.startHTTP(addr); err != nil {
			return err
		}
	}
	a.log.Info("started",
		logx.Bool("scheduler", a.cfg.Scheduler.Enabled),
		logx.Bool("reminders", a.cfg.Reminders.Enabled),
		logx.String("http", a.Addr()),
	)
	return nil
}

func (a *App) startHTTP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", addr, err)
	}
	a.httpLn = ln
	a.httpSrv = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       config.DurationOr(a.cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout:      config.DurationOr(a.cfg.Server.WriteTimeout, 60*time.Second),
	}
	a.sup.Go("http", func(context.Context) error {
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return nil
}

// startConfigReload applies rule and logging changes from the watched file.
// Other sections are logged as needing a restart.
func (a *App) startConfigReload() {
	log := a.log.With(logx.String("comp", "config"))
	a.cfgm.SetLogger(log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := a.compileRules(cfg)
		return err
	})
	updates := a.cfgm.Subscribe(1)

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg := <-updates:
				a.applyConfig(cfg, log)
			}
		}
	})
}

func (a *App) applyConfig(cfg *config.Config, log logx.Logger) {
	sections, _ := config.SummarizeChange(a.cfg, cfg)
	for _, s := range sections {
		switch s {
		case "rules":
			rules, err := a.compileRules(cfg)
			if err == nil {
				err = a.rules.Replace(rules)
			}
			if err != nil {
				log.Warn("rules reload failed", logx.Err(err))
				continue
			}
			log.Info("rules reloaded", logx.Int("rules", len(rules)))
		case "logging":
			if a.logs != nil {
				a.logs.Apply(mapLogConfig(cfg))
			}
		}
	}
	if pending := config.RequiresRestart(sections); len(pending) > 0 {
		log.Warn("config sections changed; restart to apply", logx.Strings("sections", pending))
	}
	a.cfg = cfg
}

// Stop shuts every component down in dependency order. Each step is bounded
// so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", 5*time.Second, func(c context.Context) error {
		if a.httpSrv == nil {
			return nil
		}
		return a.httpSrv.Shutdown(c)
	})
	step("scheduler", 5*time.Second, func(c context.Context) error {
		a.sched.Stop(c)
		return nil
	})
	step("notifier", 5*time.Second, a.notif.Stop)
	step("supervisor", 2*time.Second, a.sup.Stop)

	a.log.Info("stopped", logx.String("reason", string(reason)))
	a.Close()
	return nil
}

// Close releases storage, the database and the log sinks. It is safe to call
// on a partially built app.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("database close failed", logx.Err(err))
		}
		a.db = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}
