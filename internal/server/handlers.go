package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"bizflow/internal/automation"
	"bizflow/internal/calendar"
	"bizflow/internal/reminder"
	logx "bizflow/pkg/logx"
)

var defaultErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func (h *handlers) registerDispatch(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dispatch",
		Method:      http.MethodPost,
		Path:        "/dispatch",
		Summary:     "Dispatch a trigger to every matching rule",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		Body DispatchRequest `json:"body"`
	}) (*struct {
		Body DispatchResponse `json:"body"`
	}, error) {
		trig, err := automation.ParseTriggerType(input.Body.Trigger)
		if err != nil {
			return nil, handleError(err)
		}
		reports, err := h.engine.Dispatch(ctx, automation.Event{
			Trigger: trig,
			Context: automation.Context(input.Body.Context),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if reports == nil {
			reports = []automation.ExecutionReport{}
		}
		h.log.Info("dispatched via api", logx.String("trigger", string(trig)), logx.Int("executed", len(reports)))
		return &struct {
			Body DispatchResponse `json:"body"`
		}{Body: DispatchResponse{Trigger: string(trig), Reports: reports}}, nil
	})
}

func (h *handlers) registerRules(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List rules",
		Errors:      defaultErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RulesResponse `json:"body"`
	}, error) {
		rules, err := h.engine.Store().Rules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RuleResponse, 0, len(rules))
		for _, r := range rules {
			out = append(out, ruleResponse(r))
		}
		return &struct {
			Body RulesResponse `json:"body"`
		}{Body: RulesResponse{Rules: out}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/rules/{id}",
		Summary:     "Activate or deactivate a rule",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID   int               `path:"id"`
		Body UpdateRuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		r, err := h.engine.Store().SetActive(ctx, input.ID, input.Body.Active)
		if err != nil {
			return nil, handleError(err)
		}
		h.log.Info("rule updated via api", logx.Int("rule_id", r.ID), logx.Bool("active", r.Active))
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-rule",
		Method:      http.MethodPost,
		Path:        "/rules/{id}/execute",
		Summary:     "Execute one rule regardless of trigger",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ID   int                `path:"id"`
		Body ExecuteRuleRequest `json:"body"`
	}) (*struct {
		Body automation.ExecutionReport `json:"body"`
	}, error) {
		rep, err := h.engine.ExecuteRule(ctx, input.ID, automation.Context(input.Body.Context))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body automation.ExecutionReport `json:"body"`
		}{Body: rep}, nil
	})
}

func (h *handlers) registerAvailability(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "available-slots",
		Method:      http.MethodGet,
		Path:        "/availability/slots",
		Summary:     "Open start times on a day",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		Date      string `query:"date" required:"true" example:"2024-03-05"`
		Duration  int    `query:"duration" default:"60"`
		WorkStart int    `query:"work_start"`
		WorkEnd   int    `query:"work_end"`
	}) (*struct {
		Body SlotsResponse `json:"body"`
	}, error) {
		day, err := time.ParseInLocation("2006-01-02", input.Date, h.loc)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD", map[string]any{"field": "date"})
		}
		slots, err := h.avail.FindAvailableSlots(ctx, day, input.Duration, input.WorkStart, input.WorkEnd)
		if err != nil {
			return nil, handleError(err)
		}
		if slots == nil {
			slots = []time.Time{}
		}
		return &struct {
			Body SlotsResponse `json:"body"`
		}{Body: SlotsResponse{Date: input.Date, Duration: input.Duration, Slots: slots}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "conflicts",
		Method:      http.MethodGet,
		Path:        "/availability/conflicts",
		Summary:     "Events overlapping an interval",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		Start   time.Time `query:"start" required:"true"`
		End     string    `query:"end"`
		Exclude int64     `query:"exclude"`
	}) (*struct {
		Body ConflictsResponse `json:"body"`
	}, error) {
		var end *time.Time
		if input.End != "" {
			t, err := time.Parse(time.RFC3339, input.End)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "end must be RFC 3339", map[string]any{"field": "end"})
			}
			end = &t
		}
		var exclude *int64
		if input.Exclude != 0 {
			exclude = &input.Exclude
		}
		events, err := h.avail.Conflicts(ctx, input.Start, end, exclude)
		if err != nil {
			return nil, handleError(err)
		}
		if events == nil {
			events = []calendar.Event{}
		}
		return &struct {
			Body ConflictsResponse `json:"body"`
		}{Body: ConflictsResponse{Conflicts: events, Free: len(events) == 0}}, nil
	})
}

func (h *handlers) registerScan(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "reminder-scan",
		Method:      http.MethodPost,
		Path:        "/reminders/scan",
		Summary:     "Run one reminder scan now",
		Errors:      defaultErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body reminder.ScanResult `json:"body"`
	}, error) {
		res, err := h.scanner.Scan(ctx, h.now())
		if err != nil {
			return nil, handleError(err)
		}
		if res.Fired == nil {
			res.Fired = []reminder.Fire{}
		}
		return &struct {
			Body reminder.ScanResult `json:"body"`
		}{Body: res}, nil
	})
}
