// Package repo implements the domain ports on the SQLite schema in
// internal/migrate.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bizflow/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) *Repo {
	return &Repo{DB: db, Now: time.Now}
}

// Times are stored as fixed-width UTC text so range filters compare as
// strings.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *Repo) now() string {
	if r.Now == nil {
		return formatTime(time.Now())
	}
	return formatTime(r.Now())
}

var tables = map[string]string{
	domain.EntityQuotation: "quotations",
	domain.EntityContract:  "contracts",
	domain.EntityProject:   "projects",
	domain.EntityTask:      "tasks",
	domain.EntityPayment:   "payments",
	domain.EntityInquiry:   "inquiries",
}

func tableFor(entityType string) (string, error) {
	et, err := domain.ParseEntityType(entityType)
	if err != nil {
		return "", err
	}
	return tables[et], nil
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets the status column of any entity table.
func (r *Repo) UpdateStatus(ctx context.Context, entityType string, id int64, status string) error {
	table, err := tableFor(entityType)
	if err != nil {
		return err
	}
	return affected(r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status=? WHERE id=?`, table), status, id))
}

func (r *Repo) AssignUser(ctx context.Context, entityType string, id, assigneeID int64) error {
	table, err := tableFor(entityType)
	if err != nil {
		return err
	}
	return affected(r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET assignee_id=? WHERE id=?`, table), assigneeID, id))
}

// EntityStatus reads the status of an entity.
func (r *Repo) EntityStatus(ctx context.Context, entityType string, id int64) (string, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return "", err
	}
	var status string
	err = r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id=?`, table), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return status, err
}
