package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file, or DB when set
//   - "memory": process-local, for tests and dry runs
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention drops expiring fire-state entries older than this on
	// compaction. 0 keeps them forever. See FireKey.Expires.
	Retention time.Duration
}

// FireKey identifies one reminder firing. Offset is a duration string
// ("24h0m0s") or a synthetic key such as "overdue".
type FireKey struct {
	EventType string `json:"event_type"`
	EntityID  int64  `json:"entity_id"`
	Offset    string `json:"offset"`
}

func (k FireKey) String() string {
	return k.EventType + "|" + strconv.FormatInt(k.EntityID, 10) + "|" + k.Offset
}

// Expires reports whether retention may prune k. Duration offsets fire
// inside a bounded window and expire; synthetic keys such as "overdue" stay
// until Unmark, since the entity can match them again at any later scan.
func (k FireKey) Expires() bool {
	_, err := time.ParseDuration(k.Offset)
	return err == nil
}

func (k FireKey) valid() bool {
	return strings.TrimSpace(k.EventType) != "" && k.Offset != ""
}

// ReportRecord is the audit form of an automation execution report.
type ReportRecord struct {
	ID         string    `json:"id"`
	RuleID     int       `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Trigger    string    `json:"trigger"`
	Origin     string    `json:"origin,omitempty"`
	Depth      int       `json:"depth,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
	TookMS     int64     `json:"took_ms"`
	Success    bool      `json:"success"`
	Outcomes   int       `json:"outcomes"`
	Errors     []string  `json:"errors,omitempty"`
	ResultJSON string    `json:"result_json,omitempty"`
}

// Store is the persistence API used by the reminder scan and the engine.
type Store interface {
	// MarkFired records k at firedAt unless already present. It reports
	// whether this call inserted the entry.
	MarkFired(ctx context.Context, k FireKey, firedAt time.Time) (bool, error)
	Fired(ctx context.Context, k FireKey) (firedAt time.Time, ok bool, err error)
	// Unmark removes k so a failed delivery can be retried on the next scan.
	Unmark(ctx context.Context, k FireKey) error

	AppendReport(ctx context.Context, r ReportRecord) error
	// RecentReports returns up to limit reports, newest first.
	RecentReports(ctx context.Context, limit int) ([]ReportRecord, error)

	Close() error
}
