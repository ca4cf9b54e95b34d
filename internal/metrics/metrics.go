package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "report_tracking"

// Tracking implements domain.Recorder and records HTTP request metrics
type Tracking struct {
	registry *prometheus.Registry

	// Workflow metrics
	CheckinsRecorded *prometheus.CounterVec
	TaskTransitions  *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	HookInvocations  *prometheus.CounterVec
	EventSubscribers prometheus.Gauge

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
}

// New creates the tracking metrics on a dedicated registry that also carries
// the Go runtime and process collectors
func New() *Tracking {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Tracking{
		registry: reg,
		CheckinsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_total",
			Help:      "Total number of task check-ins recorded",
		}, []string{"outcome_type"}),
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task status changes by target status",
		}, []string{"status"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of state status changes by target status",
		}, []string{"status"}),
		HookInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_invocations_total",
			Help:      "Total number of hook invocations by action and result",
		}, []string{"action", "result"}),
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Number of connected live event subscribers",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

// CheckinRecorded counts a check-in
func (m *Tracking) CheckinRecorded(outcomeType string) {
	if outcomeType == "" {
		outcomeType = "none"
	}
	m.CheckinsRecorded.WithLabelValues(outcomeType).Inc()
}

// TaskTransition counts a task status change
func (m *Tracking) TaskTransition(status string) {
	m.TaskTransitions.WithLabelValues(status).Inc()
}

// StateTransition counts a state status change
func (m *Tracking) StateTransition(status string) {
	m.StateTransitions.WithLabelValues(status).Inc()
}

// HookInvoked counts a hook invocation and whether it failed
func (m *Tracking) HookInvoked(action string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.HookInvocations.WithLabelValues(action, result).Inc()
}

// SetEventSubscribers reports the number of websocket clients
func (m *Tracking) SetEventSubscribers(n int) {
	m.EventSubscribers.Set(float64(n))
}

// ObserveRequest records one HTTP request
func (m *Tracking) ObserveRequest(method, route string, code int, d time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}

// Registry exposes the underlying registry
func (m *Tracking) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Tracking) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
