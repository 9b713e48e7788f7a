package config

import (
	"reflect"

	logx "bizflow/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and returns log
// fields describing them. Secrets are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging", logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Database != newCfg.Database {
		mark("database", logx.String("database.path", newCfg.Database.Path))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.scheduled_trigger", newCfg.Scheduler.ScheduledTrigger),
		)
	}
	if oldCfg.Engine != newCfg.Engine {
		mark("engine", logx.String("engine.action_timeout", newCfg.Engine.ActionTimeout))
	}
	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		mark("reminders",
			logx.Bool("reminders.enabled", newCfg.Reminders.Enabled),
			logx.String("reminders.scan_interval", newCfg.Reminders.ScanInterval),
			logx.Int("reminders.overrides", len(newCfg.Reminders.Rules)),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		mark("notifier", logx.Bool("notifier.enabled", newCfg.Notifier.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		f := []logx.Field{logx.Bool("telegram.enabled", newCfg.Telegram != nil)}
		if newCfg.Telegram != nil {
			f = append(f,
				logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
				logx.Int("telegram.chats", len(newCfg.Telegram.ChatIDs)),
			)
		}
		mark("telegram", f...)
	}
	if !reflect.DeepEqual(oldCfg.SMTP, newCfg.SMTP) {
		f := []logx.Field{logx.Bool("smtp.enabled", newCfg.SMTP != nil)}
		if newCfg.SMTP != nil {
			f = append(f,
				logx.String("smtp.host", newCfg.SMTP.Host),
				logx.Bool("smtp.password_set", newCfg.SMTP.Password != ""),
			)
		}
		mark("smtp", f...)
	}
	if oldCfg.Server != newCfg.Server {
		mark("server", logx.String("server.addr", newCfg.Server.Addr))
	}
	if oldCfg.Templates != newCfg.Templates || !reflect.DeepEqual(oldCfg.Rules, newCfg.Rules) {
		mark("rules",
			logx.Bool("rules.templates", newCfg.Templates),
			logx.Int("rules.count", len(newCfg.Rules)),
		)
	}
	return changed, attrs
}

// RequiresRestart reports sections that a live reload cannot apply.
func RequiresRestart(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "database", "storage", "server", "telegram", "smtp", "notifier", "reminders", "scheduler", "engine":
			out = append(out, s)
		}
	}
	return out
}
