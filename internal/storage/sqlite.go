package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "bizflow/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS reminder_fire_state (
	event_type TEXT    NOT NULL,
	entity_id  INTEGER NOT NULL,
	offset_key TEXT    NOT NULL,
	fired_at   INTEGER NOT NULL,
	PRIMARY KEY (event_type, entity_id, offset_key)
);
CREATE TABLE IF NOT EXISTS automation_reports (
	id          TEXT PRIMARY KEY,
	rule_id     INTEGER NOT NULL,
	rule_name   TEXT    NOT NULL,
	trigger_type TEXT   NOT NULL,
	origin      TEXT,
	depth       INTEGER NOT NULL DEFAULT 0,
	executed_at TEXT    NOT NULL,
	took_ms     INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	outcomes    INTEGER NOT NULL,
	errors      TEXT,
	result_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_automation_reports_executed ON automation_reports(executed_at);
`

type sqliteStore struct {
	db     *sql.DB
	ownsDB bool
	log    logx.Logger

	retention  time.Duration
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return attachSQLite(db, cfg, log, true)
}

func attachSQLite(db *sql.DB, cfg Config, log logx.Logger, owns bool) (Store, error) {
	st := &sqliteStore{db: db, ownsDB: owns, log: log, retention: cfg.Retention, pruneEvery: 500}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		if owns {
			_ = db.Close()
		}
		return nil, fmt.Errorf("storage schema: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) MarkFired(ctx context.Context, k FireKey, firedAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if !k.valid() {
		return false, errors.New("fire key needs event type and offset")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_fire_state(event_type, entity_id, offset_key, fired_at) VALUES(?,?,?,?)
		 ON CONFLICT(event_type, entity_id, offset_key) DO NOTHING`,
		k.EventType, k.EntityID, k.Offset, firedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 && s.retention > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return n > 0, nil
}

func (s *sqliteStore) Fired(ctx context.Context, k FireKey) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT fired_at FROM reminder_fire_state WHERE event_type = ? AND entity_id = ? AND offset_key = ?`,
		k.EventType, k.EntityID, k.Offset,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) Unmark(ctx context.Context, k FireKey) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_fire_state WHERE event_type = ? AND entity_id = ? AND offset_key = ?`,
		k.EventType, k.EntityID, k.Offset,
	)
	return err
}

func (s *sqliteStore) AppendReport(ctx context.Context, r ReportRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = time.Now()
	}
	var errs any
	if len(r.Errors) > 0 {
		b, err := json.Marshal(r.Errors)
		if err != nil {
			return err
		}
		errs = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_reports(id, rule_id, rule_name, trigger_type, origin, depth, executed_at, took_ms, success, outcomes, errors, result_json)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.RuleID, r.RuleName, r.Trigger, nullStr(r.Origin), r.Depth,
		r.ExecutedAt.UTC().Format(time.RFC3339Nano), r.TookMS, boolInt(r.Success), r.Outcomes, errs, nullStr(r.ResultJSON),
	)
	return err
}

func (s *sqliteStore) RecentReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_id, rule_name, trigger_type, COALESCE(origin,''), depth, executed_at, took_ms, success, outcomes, COALESCE(errors,''), COALESCE(result_json,'')
		 FROM automation_reports ORDER BY executed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportRecord
	for rows.Next() {
		var (
			r        ReportRecord
			executed string
			success  int
			errs     string
		)
		if err := rows.Scan(&r.ID, &r.RuleID, &r.RuleName, &r.Trigger, &r.Origin, &r.Depth, &executed, &r.TookMS, &success, &r.Outcomes, &errs, &r.ResultJSON); err != nil {
			return nil, err
		}
		r.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executed)
		r.Success = success != 0
		if errs != "" {
			_ = json.Unmarshal([]byte(errs), &r.Errors)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, entity_id, offset_key FROM reminder_fire_state WHERE fired_at < ?`, cutoff)
	if err != nil {
		return err
	}
	var expired []FireKey
	for rows.Next() {
		var k FireKey
		if err := rows.Scan(&k.EventType, &k.EntityID, &k.Offset); err != nil {
			_ = rows.Close()
			return err
		}
		if k.Expires() {
			expired = append(expired, k)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// Single connection: release the cursor before deleting.
	if err := rows.Close(); err != nil {
		return err
	}
	for _, k := range expired {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM reminder_fire_state WHERE event_type = ? AND entity_id = ? AND offset_key = ?`,
			k.EventType, k.EntityID, k.Offset,
		); err != nil {
			return err
		}
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
