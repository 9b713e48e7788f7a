package app

import (
	"context"
	"encoding/json"

	"bizflow/internal/automation"
	"bizflow/internal/storage"
)

// reportAudit persists execution reports in the storage layer.
type reportAudit struct {
	store storage.Store
}

func (a reportAudit) AppendReport(ctx context.Context, ev automation.Event, r automation.ExecutionReport) error {
	rec := storage.ReportRecord{
		ID:         r.ID,
		RuleID:     r.RuleID,
		RuleName:   r.RuleName,
		Trigger:    string(r.Trigger),
		Origin:     ev.Origin,
		Depth:      ev.Depth,
		ExecutedAt: r.ExecutedAt,
		TookMS:     r.Duration.Milliseconds(),
		Success:    r.Success,
		Outcomes:   len(r.Outcomes),
		Errors:     r.Errors,
	}
	if len(r.Outcomes) > 0 {
		if b, err := json.Marshal(r.Outcomes); err == nil {
			rec.ResultJSON = string(b)
		}
	}
	return a.store.AppendReport(ctx, rec)
}

var _ automation.AuditSink = reportAudit{}
