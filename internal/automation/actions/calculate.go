package actions

import (
	"context"
	"fmt"
	"strconv"

	"bizflow/internal/automation"
	"bizflow/internal/domain"
)

const CalcProjectProgress = "project_progress"

// CalculateValue recomputes derived values from their source of truth.
// Re-running it with the same input is safe.
type CalculateValue struct {
	Tasks    domain.TaskReader
	Progress domain.ProgressWriter
}

func (h *CalculateValue) LockKey(c automation.Context, cfg automation.Config) string {
	if cfg.String("type") != CalcProjectProgress {
		return ""
	}
	if id, ok := idFromConfig(c, cfg, "project_id"); ok {
		return "project:" + strconv.FormatInt(id, 10)
	}
	return ""
}

func (h *CalculateValue) Execute(ctx context.Context, c automation.Context, cfg automation.Config) (any, error) {
	kind := cfg.String("type")
	if kind != CalcProjectProgress {
		return map[string]any{"calculated": false, "type": kind}, nil
	}
	if h.Tasks == nil || h.Progress == nil {
		return nil, notConfigured(TypeCalculateValue, "task reader / progress writer")
	}
	projectID, ok := idFromConfig(c, cfg, "project_id")
	if !ok {
		return nil, fmt.Errorf("calculate_value: project_id is required")
	}
	tasks, err := h.Tasks.ProjectTasks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load tasks of project %d: %w", projectID, err)
	}
	done, progress := ProjectProgress(tasks)
	if err := h.Progress.SetProjectProgress(ctx, projectID, progress); err != nil {
		return nil, fmt.Errorf("store progress of project %d: %w", projectID, err)
	}
	return map[string]any{
		"calculated": true,
		"type":       kind,
		"project_id": projectID,
		"progress":   progress,
		"done":       done,
		"total":      len(tasks),
	}, nil
}

// ProjectProgress returns the number of done tasks and the truncated
// completion percentage. An empty list is 0%.
func ProjectProgress(tasks []domain.Task) (done, percent int) {
	for _, t := range tasks {
		if t.Status == domain.StatusDone {
			done++
		}
	}
	if len(tasks) == 0 {
		return 0, 0
	}
	return done, done * 100 / len(tasks)
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
