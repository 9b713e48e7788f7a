package storage

import (
	"database/sql"
	"errors"
	"strings"

	logx "bizflow/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	return OpenWithDB(cfg, nil, log)
}

// OpenWithDB is Open with an existing *sql.DB for the sqlite driver, so fire
// state lives next to the entities it reminds about. The caller keeps
// ownership of db.
func OpenWithDB(cfg Config, db *sql.DB, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		if db != nil {
			return attachSQLite(db, cfg, log, false)
		}
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
