package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type chainMetrics struct {
	calls       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	deferred    *prometheus.CounterVec
	period      prometheus.Gauge
	bookingFees prometheus.Counter
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	chainMetricsOnce sync.Once
	chainRegistry    *chainMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safedeal",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safedeal",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "safedeal",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safedeal",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Chain returns the metrics registry tracking executed calls and deal
// lifecycle transitions.
func Chain() *chainMetrics {
	chainMetricsOnce.Do(func() {
		chainRegistry = &chainMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safedeal",
				Subsystem: "chain",
				Name:      "calls_total",
				Help:      "Executed contract calls segmented by function and outcome.",
			}, []string{"function", "outcome"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safedeal",
				Subsystem: "chain",
				Name:      "deal_events_total",
				Help:      "Committed SafeDeal events segmented by type.",
			}, []string{"type"}),
			deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safedeal",
				Subsystem: "chain",
				Name:      "deferred_calls_total",
				Help:      "Deferred call executions segmented by outcome.",
			}, []string{"outcome"}),
			period: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "safedeal",
				Subsystem: "chain",
				Name:      "current_period",
				Help:      "Current chain period.",
			}),
			bookingFees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "safedeal",
				Subsystem: "chain",
				Name:      "booking_fees_burned_total",
				Help:      "Native coins burned as deferred call booking fees.",
			}),
		}
		prometheus.MustRegister(
			chainRegistry.calls,
			chainRegistry.transitions,
			chainRegistry.deferred,
			chainRegistry.period,
			chainRegistry.bookingFees,
		)
	})
	return chainRegistry
}

// RecordCall counts an executed call.
func (m *chainMetrics) RecordCall(function string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(normalizeLabel(function), outcome).Inc()
}

// RecordEvent counts committed SafeDeal events.
func (m *chainMetrics) RecordEvent(eventType string) {
	if m == nil || !strings.HasPrefix(eventType, "safedeal.") {
		return
	}
	m.transitions.WithLabelValues(eventType).Inc()
}

// RecordDeferred counts a deferred call execution.
func (m *chainMetrics) RecordDeferred(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.deferred.WithLabelValues(outcome).Inc()
}

// SetPeriod updates the current period gauge.
func (m *chainMetrics) SetPeriod(period uint64) {
	if m == nil {
		return
	}
	m.period.Set(float64(period))
}

// AddBookingFee adds a burned booking fee.
func (m *chainMetrics) AddBookingFee(fee uint64) {
	if m == nil {
		return
	}
	m.bookingFees.Add(float64(fee))
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
