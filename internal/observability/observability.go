// ============================================================================
// Observability - Prometheus Monitoring
// ============================================================================
//
// Package: internal/observability
// File: observability.go
// Purpose: Collect and expose Prometheus metrics for the SDK core, and (see
//   status_logger.go) periodically log a status snapshot.
//
// Metric Categories:
//
//  1. Counters (cumulative): polled, dispatched, submitted, retried, dropped,
//     unknown-handler drops.
//  2. Gauges (instantaneous): permits available/in-use per handler, submission
//     queue depth.
//  3. Histogram: handler execution latency, labeled by handler.
//
// Exposed via promhttp.HandlerFor on the Collector's own registry (see
// Handler), wired into cmd/workerhost the same way the teacher wires
// metrics.StartServer into its CLI's run command.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this SDK emits. A nil *Collector is valid and
// every method on it is a no-op, so components can be constructed without
// wiring metrics in tests.
type Collector struct {
	polledTotal         *prometheus.CounterVec
	dispatchedTotal     *prometheus.CounterVec
	unknownHandlerTotal *prometheus.CounterVec
	submittedTotal      prometheus.Counter
	retriedTotal        prometheus.Counter
	droppedTotal        prometheus.Counter

	permitsAvailable *prometheus.GaugeVec
	permitsInUse     *prometheus.GaugeVec
	queueDepth       prometheus.Gauge

	executionSeconds *prometheus.HistogramVec
}

// NewCollector builds and registers a Collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across test runs.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		polledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unmeshed_sdk_work_items_polled_total",
			Help: "Total work items received from poll responses.",
		}, []string{"handler"}),
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unmeshed_sdk_work_items_dispatched_total",
			Help: "Total work items handed to a registered handler.",
		}, []string{"handler"}),
		unknownHandlerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unmeshed_sdk_unknown_handler_total",
			Help: "Total work items dropped for lack of a registered handler.",
		}, []string{"handler"}),
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unmeshed_sdk_work_responses_submitted_total",
			Help: "Total work responses accepted by the engine.",
		}),
		retriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unmeshed_sdk_work_responses_retried_total",
			Help: "Total transient submission failures that were retried.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unmeshed_sdk_work_responses_dropped_total",
			Help: "Total work responses dropped permanently (permanent error or attempts exhausted).",
		}),
		permitsAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unmeshed_sdk_permits_available",
			Help: "Current free permits per handler.",
		}, []string{"handler"}),
		permitsInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unmeshed_sdk_permits_in_use",
			Help: "Current borrowed permits per handler.",
		}, []string{"handler"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unmeshed_sdk_submission_queue_depth",
			Help: "Current number of trackers awaiting submission.",
		}),
		executionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unmeshed_sdk_handler_execution_seconds",
			Help:    "Handler execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
	}

	reg.MustRegister(
		c.polledTotal, c.dispatchedTotal, c.unknownHandlerTotal,
		c.submittedTotal, c.retriedTotal, c.droppedTotal,
		c.permitsAvailable, c.permitsInUse, c.queueDepth,
		c.executionSeconds,
	)
	return c
}

func (c *Collector) RecordPolled(handler string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.polledTotal.WithLabelValues(handler).Add(float64(n))
}

func (c *Collector) RecordDispatched(handler string) {
	if c == nil {
		return
	}
	c.dispatchedTotal.WithLabelValues(handler).Inc()
}

func (c *Collector) RecordUnknownHandler(handler string) {
	if c == nil {
		return
	}
	c.unknownHandlerTotal.WithLabelValues(handler).Inc()
}

func (c *Collector) RecordSubmitted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.submittedTotal.Add(float64(n))
}

func (c *Collector) RecordRetried(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.retriedTotal.Add(float64(n))
}

func (c *Collector) RecordDropped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.droppedTotal.Add(float64(n))
}

func (c *Collector) SetPermitGauges(handler string, available, inUse int) {
	if c == nil {
		return
	}
	c.permitsAvailable.WithLabelValues(handler).Set(float64(available))
	c.permitsInUse.WithLabelValues(handler).Set(float64(inUse))
}

func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

func (c *Collector) ObserveExecution(handler string, seconds float64) {
	if c == nil {
		return
	}
	c.executionSeconds.WithLabelValues(handler).Observe(seconds)
}

// Handler returns an http.Handler serving these metrics in the Prometheus
// exposition format, for mounting at "/metrics" as the teacher's
// metrics.StartServer does.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
