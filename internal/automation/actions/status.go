package actions

import (
	"context"
	"fmt"
	"strconv"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
)

// UpdateStatus sets the status of one entity. For projects an optional
// "progress" value is written too.
type UpdateStatus struct {
	Statuses domain.StatusWriter
	Progress domain.ProgressWriter
}

func (h *UpdateStatus) LockKey(c automation.Context, cfg automation.Config) string {
	entity, err := domain.ParseEntityType(cfg.String("entity_type"))
	if err != nil {
		return ""
	}
	id, ok := idFrom(c, cfg, "entity_id")
	if !ok {
		return ""
	}
	return entity + ":" + strconv.FormatInt(id, 10)
}

func (h *UpdateStatus) Execute(ctx context.Context, c automation.Context, cfg automation.Config) (any, error) {
	if h.Statuses == nil {
		return nil, notConfigured(TypeUpdateStatus, "status writer")
	}
	entity, err := domain.ParseEntityType(cfg.String("entity_type"))
	if err != nil {
		return nil, fmt.Errorf("update_status: %w", err)
	}
	id, ok := idFrom(c, cfg, "entity_id")
	if !ok {
		return nil, fmt.Errorf("update_status: entity_id missing for %s", entity)
	}
	status := cfg.String("status")
	if status == "" {
		return nil, fmt.Errorf("update_status: status is required")
	}
	if err := h.Statuses.UpdateStatus(ctx, entity, id, status); err != nil {
		return nil, fmt.Errorf("update %s %d: %w", entity, id, err)
	}
	out := map[string]any{"updated": true, "entity_type": entity, "entity_id": id, "status": status}
	if p, ok := cfg.Int64("progress"); ok && entity == domain.EntityProject && h.Progress != nil {
		if err := h.Progress.SetProjectProgress(ctx, id, clampProgress(int(p))); err != nil {
			return nil, fmt.Errorf("update project %d progress: %w", id, err)
		}
		out["progress"] = clampProgress(int(p))
	}
	return out, nil
}
