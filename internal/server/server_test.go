package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizflow/internal/automation"
	"bizflow/internal/calendar"
	"bizflow/internal/reminder"
	logx "bizflow/pkg/logx"
)

type staticEvents []calendar.Event

func (s staticEvents) CalendarEvents(_ context.Context, _, _ time.Time) ([]calendar.Event, error) {
	return s, nil
}

type fakeScanner struct {
	res reminder.ScanResult
	err error
}

func (f *fakeScanner) Scan(_ context.Context, now time.Time) (reminder.ScanResult, error) {
	f.res.At = now
	return f.res, f.err
}

var testNow = time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, scanner Scanner) *httptest.Server {
	t.Helper()
	store, err := automation.NewMemoryStore(
		automation.Rule{
			ID: 1, Name: "Thank payer", Trigger: automation.TriggerPaymentReceived, Active: true,
			Condition: automation.Where("amount", automation.OpGte, 100),
			Actions:   []automation.Action{{Type: "record"}},
		},
		automation.Rule{
			ID: 2, Name: "Welcome inquiry", Trigger: automation.TriggerInquiryCreated, Active: true,
			Actions: []automation.Action{{Type: "record"}},
		},
	)
	require.NoError(t, err)
	reg := automation.NewRegistry()
	reg.Register("record", automation.HandlerFunc(func(_ context.Context, c automation.Context, _ automation.Config) (any, error) {
		return map[string]any{"seen": c.String("entity_id")}, nil
	}))
	engine := automation.New(store, reg, automation.EngineConfig{}, logx.Nop())

	end := time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC)
	events := staticEvents{{ID: 1, Title: "Client call", Start: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), End: &end}}

	handler, err := New(Config{
		Engine:       engine,
		Availability: calendar.NewChecker(events, logx.Nop()),
		Scanner:      scanner,
		Location:     time.UTC,
		Now:          func() time.Time { return testNow },
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", body)
	code, _ := env["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestDispatch(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/v1/dispatch", map[string]any{
		"trigger": "payment.received",
		"context": map[string]any{"entity_id": 9, "amount": 250},
	})
	require.Equal(t, http.StatusOK, status, body)
	reports := body["reports"].([]any)
	require.Len(t, reports, 1)
	rep := reports[0].(map[string]any)
	assert.Equal(t, float64(1), rep["rule_id"])
	assert.Equal(t, true, rep["success"])

	// condition false: no report
	status, body = doJSON(t, http.MethodPost, srv.URL+"/v1/dispatch", map[string]any{
		"trigger": "payment.received",
		"context": map[string]any{"amount": 10},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["reports"])

	status, body = doJSON(t, http.MethodPost, srv.URL+"/v1/dispatch", map[string]any{"trigger": "someday"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_trigger", errorCode(t, body))
}

func TestRulesListAndToggle(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/v1/rules", nil)
	require.Equal(t, http.StatusOK, status)
	rules := body["rules"].([]any)
	require.Len(t, rules, 2)
	first := rules[0].(map[string]any)
	assert.Equal(t, "payment.received", first["trigger"])
	assert.NotNil(t, first["condition"])

	status, body = doJSON(t, http.MethodPatch, srv.URL+"/v1/rules/2", map[string]any{"active": false})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["active"])

	_, body = doJSON(t, http.MethodPost, srv.URL+"/v1/dispatch", map[string]any{"trigger": "inquiry.created"})
	assert.Empty(t, body["reports"])

	status, body = doJSON(t, http.MethodPatch, srv.URL+"/v1/rules/99", map[string]any{"active": true})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(t, body))
}

func TestExecuteRule(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := doJSON(t, http.MethodPost, srv.URL+"/v1/rules/2/execute", map[string]any{
		"context": map[string]any{"entity_id": "inq-1"},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	outcomes := body["outcomes"].([]any)
	require.Len(t, outcomes, 1)
	assert.Equal(t, map[string]any{"seen": "inq-1"}, outcomes[0].(map[string]any)["result"])
}

func TestAvailability(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/v1/availability/slots?date=2024-03-05&duration=60&work_start=9&work_end=12", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, []any{"2024-03-05T09:00:00Z", "2024-03-05T11:00:00Z"}, body["slots"])

	status, body = doJSON(t, http.MethodGet, srv.URL+"/v1/availability/slots?date=March", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", errorCode(t, body))

	status, body = doJSON(t, http.MethodGet, srv.URL+"/v1/availability/slots?date=2024-03-05&work_start=12&work_end=9", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doJSON(t, http.MethodGet, srv.URL+"/v1/availability/conflicts?start=2024-03-05T10:30:00Z&end=2024-03-05T10:45:00Z", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["free"])
	assert.Len(t, body["conflicts"], 1)

	status, body = doJSON(t, http.MethodGet, srv.URL+"/v1/availability/conflicts?start=2024-03-05T10:30:00Z&exclude=1", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["free"])
}

func TestReminderScan(t *testing.T) {
	scanner := &fakeScanner{res: reminder.ScanResult{Checked: 3}}
	srv := newTestServer(t, scanner)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/v1/reminders/scan", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(3), body["checked"])
	assert.Equal(t, "2024-03-05T08:00:00Z", body["at"])

	scanner.err = reminder.ErrScanInProgress
	status, body = doJSON(t, http.MethodPost, srv.URL+"/v1/reminders/scan", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "scan_in_progress", errorCode(t, body))
}

func TestScanRouteAbsentWithoutScanner(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Post(srv.URL+"/v1/reminders/scan", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
