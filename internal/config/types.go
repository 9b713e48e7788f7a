// Package config loads the service configuration from YAML or JSON and
// watches it for rule changes.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/reminder"
	"bizflow/internal/scheduler"
)

// Config is the whole file. Durations are Go duration strings ("30s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Database  DatabaseConfig  `json:"database"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Reminders RemindersConfig `json:"reminders"`
	Notifier  NotifierConfig  `json:"notifier"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
	SMTP      *SMTPConfig     `json:"smtp,omitempty"`
	Server    ServerConfig    `json:"server"`

	// Templates loads the built-in workflow templates before Rules. A rule
	// in Rules with a template's ID replaces it.
	Templates bool                    `json:"templates"`
	Rules     []automation.Definition `json:"rules"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "pretty" | "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DatabaseConfig points at the business SQLite database.
type DatabaseConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// StorageConfig selects the fire-state and report store.
//
//	"storage": { "driver": "sqlite" }             # shares the database
//	"storage": { "driver": "file", "path": "./data/state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention prunes fire state older than this. "0s" keeps it forever.
	Retention string `json:"retention,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// ScheduledTrigger fires the "scheduled" automation trigger on this
	// schedule. Empty disables it.
	ScheduledTrigger string `json:"scheduled_trigger,omitempty"`
}

type EngineConfig struct {
	ActionTimeout string `json:"action_timeout,omitempty"`
	MaxDepth      int    `json:"max_depth,omitempty"`
}

type RemindersConfig struct {
	Enabled      bool   `json:"enabled"`
	ScanInterval string `json:"scan_interval"`
	ScanTimeout  string `json:"scan_timeout,omitempty"`
	Reinject     bool   `json:"reinject"`
	Recipient    string `json:"recipient,omitempty"`
	// Rules overrides the built-in notification table per event type.
	Rules map[string]ReminderRuleConfig `json:"rules,omitempty"`
}

// ReminderRuleConfig overrides one notification rule. Nil fields keep the
// built-in value.
type ReminderRuleConfig struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Email   *bool    `json:"email,omitempty"`
	Push    *bool    `json:"push,omitempty"`
	Offsets []string `json:"offsets,omitempty"`
}

type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// TelegramConfig enables the push channel.
type TelegramConfig struct {
	Token    string  `json:"token"`
	ChatIDs  []int64 `json:"chat_ids"`
	ThreadID int     `json:"thread_id,omitempty"`
	APIURL   string  `json:"api_url,omitempty"`
	Timeout  string  `json:"timeout,omitempty"`
}

// SMTPConfig enables the email channel.
type SMTPConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	StartTLS bool     `json:"starttls,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

type ServerConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// BaseURL is prefixed to relative notification links.
	BaseURL string `json:"base_url,omitempty"`
	// Working hours (0-24) used when a slot query omits them.
	WorkStart int `json:"work_start,omitempty"`
	WorkEnd   int `json:"work_end,omitempty"`

	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig exposes runtime profiles on the API listener.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Database:  DatabaseConfig{Path: "data/bizflow.db", BusyTimeout: "5s"},
		Storage:   StorageConfig{Driver: "sqlite"},
		Scheduler: SchedulerConfig{Enabled: true},
		Engine:    EngineConfig{ActionTimeout: "30s", MaxDepth: automation.DefaultMaxDepth},
		Reminders: RemindersConfig{Enabled: true, ScanInterval: "5m", Reinject: true, Recipient: "admin"},
		Notifier:  NotifierConfig{Enabled: true, Workers: 2, QueueSize: 256, RatePerSec: 3, RetryMax: 3},
		Server:    ServerConfig{Addr: "127.0.0.1:8080", ShutdownTimeout: "10s", WorkStart: 9, WorkEnd: 18},
		Templates: true,
	}
}

// Validate checks every field that would otherwise fail at startup.
func (c *Config) Validate() error {
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("database.busy_timeout", c.Database.BusyTimeout)
	check("storage.busy_timeout", c.Storage.BusyTimeout)
	check("storage.retention", c.Storage.Retention)
	check("engine.action_timeout", c.Engine.ActionTimeout)
	check("reminders.scan_interval", c.Reminders.ScanInterval)
	check("reminders.scan_timeout", c.Reminders.ScanTimeout)
	check("notifier.retry_base", c.Notifier.RetryBase)
	check("notifier.retry_max_delay", c.Notifier.RetryMaxDelay)
	check("notifier.send_timeout", c.Notifier.SendTimeout)
	check("notifier.dedup_window", c.Notifier.DedupWindow)
	check("server.read_timeout", c.Server.ReadTimeout)
	check("server.write_timeout", c.Server.WriteTimeout)
	check("server.shutdown_timeout", c.Server.ShutdownTimeout)

	if c.Reminders.Enabled {
		if d, _ := ParseDurationField("reminders.scan_interval", c.Reminders.ScanInterval); d <= 0 {
			errs = append(errs, errors.New("reminders.scan_interval must be > 0 when reminders are enabled"))
		}
	}
	if c.Engine.MaxDepth < 0 {
		errs = append(errs, errors.New("engine.max_depth must be >= 0"))
	}
	if s := strings.TrimSpace(c.Scheduler.ScheduledTrigger); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.scheduled_trigger: %w", err))
		}
	}
	if p := c.Server.Pprof; p.Enabled && strings.TrimSpace(p.Token) == "" && !isLoopbackAddr(c.Server.Addr) {
		errs = append(errs, errors.New("server.pprof: token is required when server.addr is not loopback"))
	}
	if ws, we := c.Server.WorkStart, c.Server.WorkEnd; ws != 0 || we != 0 {
		if ws < 0 || we > 24 || ws >= we {
			errs = append(errs, fmt.Errorf("server: work hours must satisfy 0 <= work_start < work_end <= 24, got %d-%d", ws, we))
		}
	}
	if c.Telegram != nil {
		if strings.TrimSpace(c.Telegram.Token) == "" || len(c.Telegram.ChatIDs) == 0 {
			errs = append(errs, errors.New("telegram: token and chat_ids are required"))
		}
		check("telegram.timeout", c.Telegram.Timeout)
	}
	if c.SMTP != nil {
		if strings.TrimSpace(c.SMTP.Host) == "" || c.SMTP.From == "" || len(c.SMTP.To) == 0 {
			errs = append(errs, errors.New("smtp: host, from and to are required"))
		}
		check("smtp.timeout", c.SMTP.Timeout)
	}
	if rules, err := c.ReminderRules(); err != nil {
		errs = append(errs, err)
	} else if err := c.checkRetention(rules); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.CompileRules(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CompileRules returns the templates (when enabled) merged with the
// configured rules, ordered by ID.
func (c *Config) CompileRules() ([]automation.Rule, error) {
	byID := map[int]automation.Rule{}
	var order []int
	if c.Templates {
		for _, r := range automation.Templates() {
			byID[r.ID] = r
			order = append(order, r.ID)
		}
	}
	seen := map[int]bool{}
	for _, d := range c.Rules {
		if seen[d.ID] {
			return nil, &automation.ConfigurationError{RuleID: d.ID, Field: "id", Reason: "duplicate rule id"}
		}
		seen[d.ID] = true
		r, err := d.Rule()
		if err != nil {
			return nil, err
		}
		if _, ok := byID[r.ID]; !ok {
			order = append(order, r.ID)
		}
		byID[r.ID] = r
	}
	out := make([]automation.Rule, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// ReminderRules applies the configured overrides to the built-in table.
func (c *Config) ReminderRules() ([]reminder.Rule, error) {
	rules := reminder.DefaultRules()
	known := map[string]int{}
	for i, r := range rules {
		known[r.EventType] = i
	}
	for eventType, o := range c.Reminders.Rules {
		i, ok := known[eventType]
		if !ok {
			return nil, fmt.Errorf("reminders.rules: unknown event type %q", eventType)
		}
		r := &rules[i]
		if o.Enabled != nil {
			r.Enabled = *o.Enabled
		}
		if o.Email != nil {
			r.EmailDefault = *o.Email
		}
		if o.Push != nil {
			r.PushDefault = *o.Push
		}
		if o.Offsets != nil {
			offs := make([]time.Duration, 0, len(o.Offsets))
			for _, raw := range o.Offsets {
				d, err := ParseDurationField("reminders.rules."+eventType+".offsets", raw)
				if err != nil {
					return nil, err
				}
				offs = append(offs, d)
			}
			r.Offsets = offs
		}
	}
	return rules, nil
}

// checkRetention rejects a retention that could prune a window claim while
// its reminder window is still open.
func (c *Config) checkRetention(rules []reminder.Rule) error {
	retention, _ := ParseDurationField("storage.retention", c.Storage.Retention)
	if retention <= 0 || !c.Reminders.Enabled {
		return nil
	}
	interval, _ := ParseDurationField("reminders.scan_interval", c.Reminders.ScanInterval)
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if need := r.MaxOffset() + interval; retention <= need {
			return fmt.Errorf("storage.retention %s must exceed the largest %s offset plus reminders.scan_interval (%s)",
				retention, r.EventType, need)
		}
	}
	return nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
