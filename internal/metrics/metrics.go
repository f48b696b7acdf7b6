// Package metrics exposes Prometheus collectors for scrape cycles and
// notifications. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBusy    = "busy"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	eventsTracked  prometheus.Gauge
	changes        prometheus.Counter
	notifications  *prometheus.CounterVec
	consecutiveErr prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// New registers the collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uesbot_cycles_total",
				Help: "Scrape cycles by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "uesbot_cycle_duration_seconds",
				Help:    "Wall time of completed scrape cycles",
				Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1s to ~4m
			},
		),
		eventsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uesbot_events_seen",
			Help: "Events on the dashboard in the last successful cycle",
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uesbot_changes_detected_total",
			Help: "New or changed events detected",
		}),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uesbot_notifications_total",
				Help: "Outbound messages by kind and result",
			},
			[]string{"kind", "result"},
		),
		consecutiveErr: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uesbot_consecutive_failures",
			Help: "Current streak of failed cycles",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uesbot_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cycle",
		}),
	}

	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.eventsTracked, m.changes,
		m.notifications, m.consecutiveErr, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Cycle records a finished (or rejected) cycle.
func (m *Metrics) Cycle(trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(trigger, outcome).Inc()
	if outcome != OutcomeBusy {
		m.cycleDuration.Observe(d.Seconds())
	}
}

// Success records the results of a successful cycle.
func (m *Metrics) Success(at time.Time, seen, changed int) {
	if m == nil {
		return
	}
	m.eventsTracked.Set(float64(seen))
	m.changes.Add(float64(changed))
	m.lastSuccess.Set(float64(at.Unix()))
	m.consecutiveErr.Set(0)
}

// Failures sets the current failure streak.
func (m *Metrics) Failures(n int) {
	if m == nil {
		return
	}
	m.consecutiveErr.Set(float64(n))
}

// Notification records one outbound message.
func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}
