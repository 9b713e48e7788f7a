// Package server exposes the automation engine, availability queries and the
// reminder scan over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"bizflow/internal/automation"
	"bizflow/internal/calendar"
	"bizflow/internal/reminder"
	"bizflow/internal/repo"
	logx "bizflow/pkg/logx"
)

// Engine is the automation surface the API drives.
type Engine interface {
	Dispatch(ctx context.Context, ev automation.Event) ([]automation.ExecutionReport, error)
	ExecuteRule(ctx context.Context, id int, c automation.Context) (automation.ExecutionReport, error)
	Store() automation.RuleStore
}

// Availability answers calendar queries.
type Availability interface {
	Conflicts(ctx context.Context, start time.Time, end *time.Time, exclude *int64) ([]calendar.Event, error)
	FindAvailableSlots(ctx context.Context, date time.Time, durationMinutes, workStart, workEnd int) ([]time.Time, error)
}

// Scanner runs one reminder scan.
type Scanner interface {
	Scan(ctx context.Context, now time.Time) (reminder.ScanResult, error)
}

// Config for the HTTP API handler. Nil Scanner or Metrics leave those
// routes unregistered.
type Config struct {
	Engine       Engine
	Availability Availability
	Scanner      Scanner
	Metrics      http.Handler
	Debug        DebugConfig
	BasePath     string
	Location     *time.Location
	Now          func() time.Time
	Log          logx.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"automation: rule not found: 7"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope: {"error": {code, message, details}}.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	engine  Engine
	avail   Availability
	scanner Scanner
	loc     *time.Location
	now     func() time.Time
	log     logx.Logger
}

// New returns the HTTP handler.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg.Availability == nil {
		return nil, errors.New("server: availability is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	h := &handlers{
		engine:  cfg.Engine,
		avail:   cfg.Availability,
		scanner: cfg.Scanner,
		loc:     cfg.Location,
		now:     cfg.Now,
		log:     cfg.Log,
	}
	if h.loc == nil {
		h.loc = time.Local
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(h.requestLog)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}
	mountDebug(router, cfg.Debug)

	hcfg := huma.DefaultConfig("bizflow API", "1.0.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	api := humachi.New(router, hcfg)
	registerHealth(api)

	group := huma.NewGroup(api, basePath)
	h.registerDispatch(group)
	h.registerRules(group)
	h.registerAvailability(group)
	if h.scanner != nil {
		h.registerScan(group)
	}
	return router, nil
}

func (h *handlers) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ce *automation.ConfigurationError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadRequest, "invalid_rule", err.Error(), map[string]any{"rule_id": ce.RuleID, "field": ce.Field})
	}
	var conflict *calendar.ConflictError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, "calendar_conflict", err.Error(), map[string]any{"conflicts": conflict.Conflicts})
	}
	switch {
	case errors.Is(err, automation.ErrRuleNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, automation.ErrUnknownTrigger):
		return newAPIError(http.StatusBadRequest, "unknown_trigger", err.Error(), nil)
	case errors.Is(err, automation.ErrDepthExceeded):
		return newAPIError(http.StatusUnprocessableEntity, "depth_exceeded", err.Error(), nil)
	case errors.Is(err, reminder.ErrScanInProgress):
		return newAPIError(http.StatusConflict, "scan_in_progress", err.Error(), nil)
	case errors.Is(err, calendar.ErrInvalidWindow),
		errors.Is(err, calendar.ErrInvalidDuration),
		errors.Is(err, calendar.ErrInvalidInterval):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}
