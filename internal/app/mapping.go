package app

import (
	"fmt"
	"strings"
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/config"
	"bizflow/internal/db"
	"bizflow/internal/notifier"
	"bizflow/internal/storage"
	"bizflow/internal/transport"
	"bizflow/internal/transport/email"
	"bizflow/internal/transport/telegram"
	logx "bizflow/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDBConfig(cfg *config.Config) db.Config {
	return db.Config{
		Path:        strings.TrimSpace(cfg.Database.Path),
		BusyTimeout: config.DurationOr(cfg.Database.BusyTimeout, 5*time.Second),
	}
}

// mapStorageConfig reports shared=true when the sqlite store should live in
// the business database.
func mapStorageConfig(cfg *config.Config) (sc storage.Config, shared bool, err error) {
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	retention := config.DurationOr(s.Retention, 0)
	path := strings.TrimSpace(s.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, fmt.Errorf("storage.driver is required: reminder fire state must be durable")
	case "file":
		if path == "" {
			path = "data/state"
		}
		return storage.Config{Driver: "file", Path: path, Retention: retention}, false, nil
	case "sqlite", "sqlite3":
		busy := config.DurationOr(s.BusyTimeout, 5*time.Second)
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, Retention: retention}, path == "", nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, false, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) automation.EngineConfig {
	depth := cfg.Engine.MaxDepth
	if depth <= 0 {
		depth = automation.DefaultMaxDepth
	}
	return automation.EngineConfig{
		ActionTimeout: config.DurationOr(cfg.Engine.ActionTimeout, automation.DefaultActionTimeout),
		MaxDepth:      depth,
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     config.DurationOr(n.RetryBase, 0),
		RetryMaxDelay: config.DurationOr(n.RetryMaxDelay, 0),
		SendTimeout:   config.DurationOr(n.SendTimeout, 0),
		DedupWindow:   config.DurationOr(n.DedupWindow, 0),
	}
}

// buildChannels constructs the configured delivery channels.
func buildChannels(cfg *config.Config, log logx.Logger) ([]transport.Channel, error) {
	var out []transport.Channel
	if t := cfg.Telegram; t != nil {
		push, err := telegram.New(telegram.Config{
			Token:    t.Token,
			ChatIDs:  t.ChatIDs,
			ThreadID: t.ThreadID,
			APIURL:   t.APIURL,
			Timeout:  config.DurationOr(t.Timeout, 10*time.Second),
			BaseURL:  cfg.Server.BaseURL,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		out = append(out, push)
	}
	if s := cfg.SMTP; s != nil {
		mail, err := email.New(email.Config{
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			From:     s.From,
			To:       s.To,
			StartTLS: s.StartTLS,
			Timeout:  config.DurationOr(s.Timeout, 15*time.Second),
			BaseURL:  cfg.Server.BaseURL,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		out = append(out, mail)
	}
	return out, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
