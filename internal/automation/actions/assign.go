package actions

import (
	"context"
	"fmt"
	"strconv"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
)

// AssignUser sets the assignee of an entity (a task unless configured).
type AssignUser struct {
	Assigner domain.Assigner
}

func (h *AssignUser) LockKey(c automation.Context, cfg automation.Config) string {
	entity, err := domain.ParseEntityType(stringOr(cfg, "entity_type", domain.EntityTask))
	if err != nil {
		return ""
	}
	id, ok := idFrom(c, cfg, "entity_id")
	if !ok {
		return ""
	}
	return entity + ":" + strconv.FormatInt(id, 10)
}

func (h *AssignUser) Execute(ctx context.Context, c automation.Context, cfg automation.Config) (any, error) {
	if h.Assigner == nil {
		return nil, notConfigured(TypeAssignUser, "assigner")
	}
	entity, err := domain.ParseEntityType(stringOr(cfg, "entity_type", domain.EntityTask))
	if err != nil {
		return nil, fmt.Errorf("assign_user: %w", err)
	}
	id, ok := idFrom(c, cfg, "entity_id")
	if !ok {
		return nil, fmt.Errorf("assign_user: entity_id missing for %s", entity)
	}
	assignee, ok := idFromConfig(c, cfg, "assignee_id")
	if !ok {
		return nil, fmt.Errorf("assign_user: assignee_id is required")
	}
	if err := h.Assigner.AssignUser(ctx, entity, id, assignee); err != nil {
		return nil, fmt.Errorf("assign %s %d: %w", entity, id, err)
	}
	return map[string]any{"assigned": true, "entity_type": entity, "entity_id": id, "assignee_id": assignee}, nil
}
