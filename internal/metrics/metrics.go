// Package metrics provides Prometheus metrics for matching, recording, notification and gate signalling.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector exposed by the service. A nil *Metrics is valid and records nothing,
// which keeps components usable in tests without a registry.
type Metrics struct {
	// Matcher
	MatchTotal       *prometheus.CounterVec // outcome: matched, no_match, malformed
	MatchDuration    prometheus.Histogram
	RefreshTotal     *prometheus.CounterVec // result: success, error
	CacheIdentities  prometheus.Gauge
	CacheReferences  prometheus.Gauge
	CacheGeneratedAt prometheus.Gauge

	// Recorder
	TransitionsTotal *prometheus.CounterVec // mode, intent, outcome

	// Notifications
	NotificationsTotal   *prometheus.CounterVec // channel, status: sent, failed
	NotificationsDropped prometheus.Counter
	NotificationQueue    prometheus.Gauge

	// Gate
	GateTriggersEnqueued prometheus.Counter
	GateTriggersDrained  prometheus.Counter
	GatePublishErrors    *prometheus.CounterVec // sink

	registry *prometheus.Registry
}

// New creates all collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register attendance metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.MatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_match_total",
			Help: "Total number of probe embeddings matched by outcome",
		},
		[]string{"outcome"},
	)
	m.MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gate_match_duration_seconds",
		Help:    "Time taken to match a single probe against the embedding cache",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
	m.RefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_cache_refresh_total",
			Help: "Total number of embedding cache refreshes by result",
		},
		[]string{"result"},
	)
	m.CacheIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gate_cache_identities",
		Help: "Number of enrolled identities in the active cache generation",
	})
	m.CacheReferences = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gate_cache_reference_embeddings",
		Help: "Number of reference embeddings in the active cache generation",
	})
	m.CacheGeneratedAt = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gate_cache_generated_timestamp_seconds",
		Help: "Unix timestamp of the active cache generation",
	})

	m.TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_attendance_transitions_total",
			Help: "Attendance record requests by gate mode, intent and outcome",
		},
		[]string{"mode", "intent", "outcome"},
	)

	m.NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_notifications_total",
			Help: "Guardian notifications by channel and delivery status",
		},
		[]string{"channel", "status"},
	)
	m.NotificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_notifications_dropped_total",
		Help: "Notification jobs dropped because the dispatch queue was full",
	})
	m.NotificationQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gate_notification_queue_depth",
		Help: "Notification jobs waiting for a worker",
	})

	m.GateTriggersEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_triggers_enqueued_total",
		Help: "Gate-open triggers enqueued",
	})
	m.GateTriggersDrained = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_triggers_drained_total",
		Help: "Gate-open triggers delivered to the polling client",
	})
	m.GatePublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_trigger_publish_errors_total",
			Help: "Failed best-effort trigger publications by sink",
		},
		[]string{"sink"},
	)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MatchTotal, m.MatchDuration, m.RefreshTotal,
		m.CacheIdentities, m.CacheReferences, m.CacheGeneratedAt,
		m.TransitionsTotal,
		m.NotificationsTotal, m.NotificationsDropped, m.NotificationQueue,
		m.GateTriggersEnqueued, m.GateTriggersDrained, m.GatePublishErrors,
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// ObserveMatch records one probe match.
func (m *Metrics) ObserveMatch(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MatchTotal.WithLabelValues(outcome).Inc()
	m.MatchDuration.Observe(elapsed.Seconds())
}

// ObserveRefresh records a cache refresh attempt and, on success, the new generation size.
func (m *Metrics) ObserveRefresh(err error, identities, references int, generatedAt time.Time) {
	if m == nil {
		return
	}
	if err != nil {
		m.RefreshTotal.WithLabelValues("error").Inc()
		return
	}
	m.RefreshTotal.WithLabelValues("success").Inc()
	m.CacheIdentities.Set(float64(identities))
	m.CacheReferences.Set(float64(references))
	m.CacheGeneratedAt.Set(float64(generatedAt.Unix()))
}

// ObserveTransition records a recorder decision.
func (m *Metrics) ObserveTransition(mode, intent, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(mode, intent, outcome).Inc()
}

// ObserveNotification records a delivery attempt on a channel.
func (m *Metrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.NotificationsTotal.WithLabelValues(channel, status).Inc()
}

// NotificationDropped records a job rejected by a full queue.
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

// SetNotificationQueue records the dispatch queue depth.
func (m *Metrics) SetNotificationQueue(depth int) {
	if m == nil {
		return
	}
	m.NotificationQueue.Set(float64(depth))
}

// TriggerEnqueued records a gate trigger.
func (m *Metrics) TriggerEnqueued() {
	if m == nil {
		return
	}
	m.GateTriggersEnqueued.Inc()
}

// TriggersDrained records delivered gate triggers.
func (m *Metrics) TriggersDrained(n int) {
	if m == nil {
		return
	}
	m.GateTriggersDrained.Add(float64(n))
}

// PublishFailed records a failed publication to a gate sink.
func (m *Metrics) PublishFailed(sink string) {
	if m == nil {
		return
	}
	m.GatePublishErrors.WithLabelValues(sink).Inc()
}
