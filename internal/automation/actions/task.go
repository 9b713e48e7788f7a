package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
)

// CreateTask adds a task to a project. The due date comes from "due_date"
// or, relative to now, from a "due_in" duration such as "72h".
type CreateTask struct {
	Tasks domain.TaskWriter
	Now   func() time.Time
}

func (h *CreateTask) LockKey(c automation.Context, cfg automation.Config) string {
	if id, ok := idFromConfig(c, cfg, "project_id"); ok {
		return "project:" + strconv.FormatInt(id, 10)
	}
	return ""
}

func (h *CreateTask) Execute(ctx context.Context, c automation.Context, cfg automation.Config) (any, error) {
	if h.Tasks == nil {
		return nil, notConfigured(TypeCreateTask, "task writer")
	}
	projectID, ok := idFromConfig(c, cfg, "project_id")
	if !ok {
		return nil, fmt.Errorf("create_task: project_id is required")
	}
	title := strings.TrimSpace(expand(cfg.String("title"), c))
	if title == "" {
		return nil, fmt.Errorf("create_task: title is required")
	}
	priority := strings.ToLower(stringOr(cfg, "priority", domain.PriorityMedium))
	switch priority {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
	default:
		return nil, fmt.Errorf("create_task: unknown priority %q", priority)
	}

	t := domain.Task{
		ProjectID:   projectID,
		Title:       title,
		Description: expand(cfg.String("description"), c),
		Status:      "todo",
		Priority:    priority,
	}
	if due, ok := cfg.Time("due_date"); ok {
		t.DueDate = &due
	} else if s := cfg.String("due_in"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("create_task: due_in: %w", err)
		}
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		due := now().Add(d)
		t.DueDate = &due
	}
	id, err := h.Tasks.CreateTask(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("create task in project %d: %w", projectID, err)
	}
	return map[string]any{"created": true, "task_id": id, "project_id": projectID}, nil
}
