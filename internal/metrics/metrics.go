// Package metrics collects runtime telemetry: module lifecycle state, event
// bus throughput, and front-door connection counters. It wraps Prometheus
// collectors behind one Collector type owned by the composition root.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector gathers runtime metrics. A nil *Collector is safe to use; every
// method is a no-op.
type Collector struct {
	registry *prometheus.Registry

	moduleState *prometheus.GaugeVec

	eventsEmitted   *prometheus.CounterVec
	eventsProcessed *prometheus.CounterVec
	eventLatency    prometheus.Histogram
	queueDepth      prometheus.Gauge

	sessionsActive prometheus.Gauge
	framesIn       prometheus.Counter
	framesOut      prometheus.Counter
	protocolErrors prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		moduleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "draco",
			Subsystem: "module",
			Name:      "state",
			Help:      "Lifecycle state per module (value is the state enum).",
		}, []string{"module"}),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draco",
			Subsystem: "bus",
			Name:      "events_emitted_total",
			Help:      "Events enqueued on the bus.",
		}, []string{"type"}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draco",
			Subsystem: "bus",
			Name:      "events_processed_total",
			Help:      "Events fully delivered by the processing loop.",
		}, []string{"type"}),
		eventLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "draco",
			Subsystem: "bus",
			Name:      "event_processing_seconds",
			Help:      "Time spent delivering one event to its handlers.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "draco",
			Subsystem: "bus",
			Name:      "queue_depth",
			Help:      "Enqueued, unprocessed events.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "draco",
			Subsystem: "network",
			Name:      "sessions_active",
			Help:      "Live client sessions.",
		}),
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "draco",
			Subsystem: "network",
			Name:      "frames_in_total",
			Help:      "Frames read from clients.",
		}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "draco",
			Subsystem: "network",
			Name:      "frames_out_total",
			Help:      "Frames written to clients.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "draco",
			Subsystem: "network",
			Name:      "protocol_errors_total",
			Help:      "Malformed or oversized frames discarded.",
		}),
	}

	c.registry.MustRegister(
		c.moduleState,
		c.eventsEmitted,
		c.eventsProcessed,
		c.eventLatency,
		c.queueDepth,
		c.sessionsActive,
		c.framesIn,
		c.framesOut,
		c.protocolErrors,
	)
	return c
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ModuleState records a module's lifecycle state.
func (c *Collector) ModuleState(module string, state int) {
	if c == nil {
		return
	}
	c.moduleState.WithLabelValues(module).Set(float64(state))
}

// EventEmitted implements event.Metrics.
func (c *Collector) EventEmitted(eventType string) {
	if c == nil {
		return
	}
	c.eventsEmitted.WithLabelValues(eventType).Inc()
}

// EventProcessed implements event.Metrics.
func (c *Collector) EventProcessed(eventType string, handlers int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.eventsProcessed.WithLabelValues(eventType).Inc()
	c.eventLatency.Observe(elapsed.Seconds())
}

// QueueDepth implements event.Metrics.
func (c *Collector) QueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// SessionOpened increments the live session gauge.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

// SessionClosed decrements the live session gauge.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

// FrameIn counts one inbound frame.
func (c *Collector) FrameIn() {
	if c == nil {
		return
	}
	c.framesIn.Inc()
}

// FrameOut counts one outbound frame.
func (c *Collector) FrameOut() {
	if c == nil {
		return
	}
	c.framesOut.Inc()
}

// ProtocolError counts one discarded malformed or oversized frame.
func (c *Collector) ProtocolError() {
	if c == nil {
		return
	}
	c.protocolErrors.Inc()
}
