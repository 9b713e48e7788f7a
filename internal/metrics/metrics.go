// Package metrics exposes Prometheus collectors for rule executions,
// reminder scans and notification deliveries.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bizflow/internal/automation"
	"bizflow/internal/eventbus"
	"bizflow/internal/notifier"
	"bizflow/internal/reminder"
)

const namespace = "bizflow"

// Metrics owns a private registry so tests can build many instances.
type Metrics struct {
	reg *prometheus.Registry

	executions    *prometheus.CounterVec
	execDuration  *prometheus.HistogramVec
	actions       *prometheus.CounterVec
	actionLatency *prometheus.HistogramVec
	scans         *prometheus.CounterVec
	scanChecked   prometheus.Gauge
	reminders     *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "automation", Name: "executions_total",
			Help: "Rule executions by trigger and outcome.",
		}, []string{"trigger", "success"}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "automation", Name: "execution_seconds",
			Help:    "Wall time of one rule execution.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"trigger"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "automation", Name: "actions_total",
			Help: "Action handler calls by type and status (ok, error, timeout, panic, missing).",
		}, []string{"type", "status"}),
		actionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "automation", Name: "action_seconds",
			Help:    "Action handler latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"type"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reminder", Name: "scans_total",
			Help: "Reminder scans by result (ok, error, busy).",
		}, []string{"result"}),
		scanChecked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reminder", Name: "last_scan_checked",
			Help: "Entities evaluated by the last reminder scan.",
		}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reminder", Name: "alerts_total",
			Help: "Reminder alerts by event type and outcome (fired, suppressed, failed).",
		}, []string{"event_type", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifier", Name: "deliveries_total",
			Help: "Notification channel deliveries by channel and status.",
		}, []string{"channel", "status"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.executions, m.execDuration, m.actions, m.actionLatency,
		m.scans, m.scanChecked, m.reminders, m.deliveries,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveExecution implements automation.Recorder.
func (m *Metrics) ObserveExecution(r automation.ExecutionReport) {
	trig := string(r.Trigger)
	m.executions.WithLabelValues(trig, strconv.FormatBool(r.Success)).Inc()
	m.execDuration.WithLabelValues(trig).Observe(r.Duration.Seconds())
}

// ObserveAction implements automation.Recorder.
func (m *Metrics) ObserveAction(actionType, status string, d time.Duration) {
	m.actions.WithLabelValues(actionType, status).Inc()
	if status != "missing" {
		m.actionLatency.WithLabelValues(actionType).Observe(d.Seconds())
	}
}

// ObserveScan records one reminder scan.
func (m *Metrics) ObserveScan(res reminder.ScanResult, err error) {
	switch {
	case err == nil:
		m.scans.WithLabelValues("ok").Inc()
	case errors.Is(err, reminder.ErrScanInProgress):
		m.scans.WithLabelValues("busy").Inc()
		return
	default:
		m.scans.WithLabelValues("error").Inc()
		return
	}
	m.scanChecked.Set(float64(res.Checked))
	for _, f := range res.Fired {
		m.reminders.WithLabelValues(f.EventType, "fired").Inc()
	}
	if res.Suppressed > 0 {
		m.reminders.WithLabelValues("any", "suppressed").Add(float64(res.Suppressed))
	}
	if res.Failed > 0 {
		m.reminders.WithLabelValues("any", "failed").Add(float64(res.Failed))
	}
}

// Consume counts notifier delivery events from ch until it closes.
func (m *Metrics) Consume(ch <-chan eventbus.Event) {
	for ev := range ch {
		d, ok := ev.Data.(notifier.Delivery)
		if !ok || d.Status == "" {
			continue
		}
		channel := d.Channel
		if channel == "" {
			channel = "none"
		}
		m.deliveries.WithLabelValues(channel, d.Status).Inc()
	}
}

var _ automation.Recorder = (*Metrics)(nil)
