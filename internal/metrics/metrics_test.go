package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizflow/internal/automation"
	"bizflow/internal/eventbus"
	"bizflow/internal/notifier"
	"bizflow/internal/reminder"
)

func TestRecorder(t *testing.T) {
	m := New()
	m.ObserveExecution(automation.ExecutionReport{Trigger: automation.TriggerQuotationApproved, Success: true, Duration: 5 * time.Millisecond})
	m.ObserveExecution(automation.ExecutionReport{Trigger: automation.TriggerQuotationApproved, Success: false})
	m.ObserveAction("send_notification", "ok", time.Millisecond)
	m.ObserveAction("nope", "missing", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("quotation.approved", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("quotation.approved", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("nope", "missing")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.actionLatency))
}

func TestObserveScan(t *testing.T) {
	m := New()
	m.ObserveScan(reminder.ScanResult{Checked: 3, Fired: []reminder.Fire{{EventType: "task.due"}}, Suppressed: 2}, nil)
	m.ObserveScan(reminder.ScanResult{}, reminder.ErrScanInProgress)
	m.ObserveScan(reminder.ScanResult{}, errors.New("db down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.scanChecked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reminders.WithLabelValues("task.due", "fired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reminders.WithLabelValues("any", "suppressed")))
}

func TestConsumeDeliveries(t *testing.T) {
	m := New()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8, "notifier.")
	bus.Publish(eventbus.Event{Type: notifier.EventSent, Data: notifier.Delivery{Channel: "push", Status: notifier.StatusSent}})
	bus.Publish(eventbus.Event{Type: notifier.EventQueued, Data: notifier.Delivery{Channel: "push"}})
	unsub()
	m.Consume(ch)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("push", "sent")))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.ObserveAction("update_status", "ok", time.Millisecond)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `bizflow_automation_actions_total{status="ok",type="update_status"} 1`)
}
