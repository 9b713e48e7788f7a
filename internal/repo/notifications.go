package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"bizflow/internal/domain"
)

func (r *Repo) CreateNotification(ctx context.Context, n domain.Notification) error {
	var meta any
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}
	created := r.now()
	if !n.CreatedAt.IsZero() {
		created = formatTime(n.CreatedAt)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,recipient_type,type,title,message,link,metadata,email,push,read,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.RecipientType, n.Type, n.Title, nullable(n.Message), nullable(n.Link), meta, boolInt(n.Email), boolInt(n.Push), boolInt(n.Read), created)
	return err
}

// Notifications lists the newest notifications first.
func (r *Repo) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id,recipient_type,type,title,COALESCE(message,''),COALESCE(link,''),metadata,email,push,read,created_at FROM notifications`
	if unreadOnly {
		q += ` WHERE read=0`
	}
	q += ` ORDER BY created_at DESC, id LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var (
			n                 domain.Notification
			meta              sql.NullString
			email, push, read int
			created           string
		)
		if err := rows.Scan(&n.ID, &n.RecipientType, &n.Type, &n.Title, &n.Message, &n.Link, &meta, &email, &push, &read, &created); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &n.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", n.ID, err)
			}
		}
		n.Email, n.Push, n.Read = email != 0, push != 0, read != 0
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repo) MarkNotificationRead(ctx context.Context, id string) error {
	return affected(r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id))
}

func (r *Repo) ChannelPreference(ctx context.Context, eventType string) (domain.ChannelPreference, bool, error) {
	p := domain.ChannelPreference{EventType: eventType}
	var email, push int
	err := r.DB.QueryRowContext(ctx, `SELECT email,push FROM notification_preferences WHERE event_type=?`, eventType).Scan(&email, &push)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	p.Email, p.Push = email != 0, push != 0
	return p, true, nil
}

func (r *Repo) SetChannelPreference(ctx context.Context, p domain.ChannelPreference) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notification_preferences(event_type,email,push,updated_at) VALUES (?,?,?,?)
		ON CONFLICT(event_type) DO UPDATE SET email=excluded.email, push=excluded.push, updated_at=excluded.updated_at`,
		p.EventType, boolInt(p.Email), boolInt(p.Push), r.now())
	return err
}
