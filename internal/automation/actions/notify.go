package actions

import (
	"context"
	"errors"
	"strings"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
)

// SendNotification creates a notification for a recipient group.
//
// Under a re-injected event it does not notify again for the type that
// produced the event.
type SendNotification struct {
	Sender domain.NotificationSender
}

func (h *SendNotification) Execute(ctx context.Context, c automation.Context, cfg automation.Config) (any, error) {
	if h.Sender == nil {
		return nil, notConfigured(TypeSendNotification, "notifier")
	}
	ntype := stringOr(cfg, "notification_type", "info")
	if ev, ok := automation.EventFrom(ctx); ok && ev.Depth > 0 && originType(ev.Origin) == ntype {
		return map[string]any{"sent": false, "suppressed": true, "origin": ev.Origin}, nil
	}

	n := domain.Notification{
		RecipientType: stringOr(cfg, "recipient_type", "admin"),
		Type:          ntype,
		Title:         expand(stringOr(cfg, "title", "Notification"), c),
		Message:       expand(cfg.String("message"), c),
		Link:          expand(cfg.String("link"), c),
		Metadata:      map[string]any(c.Clone()),
		Email:         !cfg.Has("email") || cfg.Bool("email"),
		Push:          !cfg.Has("push") || cfg.Bool("push"),
	}
	sent, err := h.Sender.Send(ctx, n)
	if errors.Is(err, domain.ErrDuplicateNotification) {
		return map[string]any{"sent": false, "deduped": true}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sent":            true,
		"notification_id": sent.ID,
		"email":           sent.Email,
		"push":            sent.Push,
	}, nil
}

// originType returns the event-type half of "<eventType>:<entityID>".
func originType(origin string) string {
	if i := strings.LastIndexByte(origin, ':'); i >= 0 {
		return origin[:i]
	}
	return origin
}
