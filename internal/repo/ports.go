package repo

import (
	"bizflow/internal/calendar"
	"bizflow/internal/domain"
)

var (
	_ domain.StatusWriter       = (*Repo)(nil)
	_ domain.TaskWriter         = (*Repo)(nil)
	_ domain.TaskReader         = (*Repo)(nil)
	_ domain.ProgressWriter     = (*Repo)(nil)
	_ domain.Assigner           = (*Repo)(nil)
	_ domain.EventWriter        = (*Repo)(nil)
	_ domain.NotificationWriter = (*Repo)(nil)
	_ domain.DueSource          = (*Repo)(nil)
	_ domain.PreferenceReader   = (*Repo)(nil)
	_ calendar.EventSource      = (*Repo)(nil)
)
