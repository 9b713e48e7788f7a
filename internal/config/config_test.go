package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizflow/internal/automation"
	"bizflow/internal/reminder"
)

const sampleYAML = `
logging:
  level: debug
  console: true
reminders:
  enabled: true
  scan_interval: 1m
  reinject: false
  rules:
    task.due:
      offsets: ["48h", "0s"]
      email: true
    ai.usage_limit:
      enabled: false
templates: false
rules:
  - id: 101
    name: Big payment alert
    trigger: payment.received
    condition:
      all:
        - field: amount
          op: ">="
          value: 10000
    actions:
      - type: send_notification
        config:
          title: Large payment
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDecodeYAMLOverDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("bizflow.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "1m", cfg.Reminders.ScanInterval)
	assert.False(t, cfg.Reminders.Reinject)
	// untouched sections keep their defaults
	assert.Equal(t, "data/bizflow.db", cfg.Database.Path)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "admin", cfg.Reminders.Recipient)

	rules, err := cfg.CompileRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 101, rules[0].ID)
	assert.Equal(t, automation.TriggerPaymentReceived, rules[0].Trigger)
	assert.True(t, rules[0].Active)
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, path, body string
	}{
		{"unknown top-level", "c.yaml", "bogus: 1\n"},
		{"unknown nested", "c.yaml", "server:\n  port: 80\n"},
		{"trailing json", "c.json", `{"templates":true} {"templates":false}`},
		{"bad yaml", "c.yml", "logging: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := NewManager(filepath.Join("..", "..", "bizflow.example.yaml")).Parse()
	require.NoError(t, err)

	rules, err := cfg.CompileRules()
	require.NoError(t, err)
	assert.Len(t, rules, len(automation.Templates())+1)

	rr, err := cfg.ReminderRules()
	require.NoError(t, err)
	for _, r := range rr {
		if r.EventType == reminder.AIUsageLimit {
			assert.False(t, r.Enabled)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad duration", func(c *Config) { c.Engine.ActionTimeout = "soon" }, false},
		{"negative duration", func(c *Config) { c.Notifier.RetryBase = "-1s" }, false},
		{"zero scan interval", func(c *Config) { c.Reminders.ScanInterval = "0s" }, false},
		{"zero scan interval disabled", func(c *Config) {
			c.Reminders.Enabled = false
			c.Reminders.ScanInterval = ""
		}, true},
		{"bad schedule", func(c *Config) { c.Scheduler.ScheduledTrigger = "every: nope" }, false},
		{"hh:mm schedule", func(c *Config) { c.Scheduler.ScheduledTrigger = "08:30" }, true},
		{"bad work hours", func(c *Config) { c.Server.WorkStart = 20 }, false},
		{"pprof on loopback", func(c *Config) { c.Server.Pprof.Enabled = true }, true},
		{"pprof public without token", func(c *Config) {
			c.Server.Addr = "0.0.0.0:8080"
			c.Server.Pprof.Enabled = true
		}, false},
		{"pprof public with token", func(c *Config) {
			c.Server.Addr = ":8080"
			c.Server.Pprof = PprofConfig{Enabled: true, Token: "t"}
		}, true},
		{"telegram without chats", func(c *Config) { c.Telegram = &TelegramConfig{Token: "x"} }, false},
		{"smtp complete", func(c *Config) { c.SMTP = &SMTPConfig{Host: "mail", From: "a@b", To: []string{"c@d"}} }, true},
		{"retention covers offsets", func(c *Config) { c.Storage.Retention = "720h" }, true},
		{"retention inside reminder window", func(c *Config) { c.Storage.Retention = "72h" }, false},
		{"retention ignores disabled rules", func(c *Config) {
			c.Storage.Retention = "48h"
			c.Reminders.Rules = map[string]ReminderRuleConfig{"payment.due": {Enabled: new(bool)}}
		}, true},
		{"unknown reminder type", func(c *Config) { c.Reminders.Rules = map[string]ReminderRuleConfig{"nope": {}} }, false},
		{"rule without actions", func(c *Config) {
			c.Rules = []automation.Definition{{ID: 200, Name: "x", Trigger: "manual"}}
		}, false},
		{"rule with unknown trigger", func(c *Config) {
			c.Rules = []automation.Definition{{ID: 200, Name: "x", Trigger: "sometimes", Actions: []automation.Action{{Type: "log"}}}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCompileRulesOverridesTemplates(t *testing.T) {
	t.Parallel()
	c := Default()
	c.Rules = []automation.Definition{
		{ID: automation.TemplatePaymentReceived, Name: "Custom payment", Trigger: "payment.received",
			Actions: []automation.Action{{Type: "send_notification", Config: automation.Config{"title": "Paid"}}}},
		{ID: 150, Name: "Extra", Trigger: "manual", Actions: []automation.Action{{Type: "log"}}},
	}
	rules, err := c.CompileRules()
	require.NoError(t, err)
	require.Len(t, rules, len(automation.Templates())+1)

	byID := map[int]automation.Rule{}
	for _, r := range rules {
		byID[r.ID] = r
	}
	assert.Equal(t, "Custom payment", byID[automation.TemplatePaymentReceived].Name)
	assert.Equal(t, 150, rules[len(rules)-1].ID)

	c.Rules = append(c.Rules, c.Rules[1])
	_, err = c.CompileRules()
	assert.True(t, automation.IsConfigurationError(err))
}

func TestReminderRulesOverrides(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	rules, err := cfg.ReminderRules()
	require.NoError(t, err)

	byType := map[string]reminder.Rule{}
	for _, r := range rules {
		byType[r.EventType] = r
	}
	due := byType[reminder.TaskDue]
	assert.Equal(t, []time.Duration{48 * time.Hour, 0}, due.Offsets)
	assert.True(t, due.EmailDefault)
	assert.True(t, due.PushDefault)
	assert.False(t, byType[reminder.AIUsageLimit].Enabled)
	assert.True(t, byType[reminder.PaymentDue].Enabled)
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Reminders.ScanInterval = "1m"
	b.Telegram = &TelegramConfig{Token: "secret", ChatIDs: []int64{1}}
	sections, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"reminders", "telegram"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"reminders", "telegram"}, RequiresRestart(sections))

	sections, _ = SummarizeChange(a, Default())
	assert.Empty(t, sections)
}

func TestManagerLoadAndWatch(t *testing.T) {
	path := writeFile(t, "bizflow.yaml", "templates: true\n")
	m := NewManager(path)
	m.SetDebounce(20 * time.Millisecond)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Templates)

	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	var got *Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("templates: false\n"), 0o644)
		select {
		case got = <-sub:
			return true
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
	assert.False(t, got.Templates)
	assert.False(t, m.Get().Templates)

	cancel()
	<-done
	m.Unsubscribe(sub)
}

func TestManagerReloadKeepsOldOnInvalid(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bizflow.json", `{"templates": true}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	require.NoError(t, os.WriteFile(path, []byte(`{"engine": {"action_timeout": "never"}}`), 0o644))
	m.reload(context.Background())
	assert.Empty(t, sub)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(path, []byte(`{"templates": false}`), 0o644))
	m.reload(context.Background())
	assert.Empty(t, sub)
	assert.True(t, m.Get().Templates)

	m.SetValidator(nil)
	m.reload(context.Background())
	require.Len(t, sub, 1)
	assert.False(t, (<-sub).Templates)
}
