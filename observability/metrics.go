package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nhblease"

type leaseMetrics struct {
	transitions     *prometheus.CounterVec
	repairs         *prometheus.CounterVec
	remoteErrors    *prometheus.CounterVec
	deliveryRetries *prometheus.CounterVec
	invocations     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

type alarmMetrics struct {
	dispatched prometheus.Counter
	failed     prometheus.Counter
	pending    prometheus.Gauge
}

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	leaseMetricsOnce sync.Once
	leaseRegistry    *leaseMetrics

	alarmMetricsOnce sync.Once
	alarmRegistry    *alarmMetrics

	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// Lease returns the lazily-initialised registry tracking lease state machine
// activity.
func Lease() *leaseMetrics {
	leaseMetricsOnce.Do(func() {
		leaseRegistry = &leaseMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lease",
				Name:      "transitions_total",
				Help:      "Lease state transitions segmented by source and target state.",
			}, []string{"from", "to"}),
			repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lease",
				Name:      "channel_repairs_total",
				Help:      "Remote timeouts answered by re-opening the interchain account channel.",
			}, []string{"step"}),
			remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lease",
				Name:      "remote_errors_total",
				Help:      "Remote operations rejected by the host chain and rescheduled.",
			}, []string{"step"}),
			deliveryRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lease",
				Name:      "delivery_retries_total",
				Help:      "Failed immediate response deliveries rescheduled through an alarm.",
			}, []string{"payload"}),
			invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lease",
				Name:      "invocations_total",
				Help:      "Contract invocations segmented by entry point and outcome.",
			}, []string{"entry", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lease",
				Name:      "invocation_duration_seconds",
				Help:      "Latency distribution of contract invocations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"entry"}),
		}
		prometheus.MustRegister(
			leaseRegistry.transitions,
			leaseRegistry.repairs,
			leaseRegistry.remoteErrors,
			leaseRegistry.deliveryRetries,
			leaseRegistry.invocations,
			leaseRegistry.latency,
		)
	})
	return leaseRegistry
}

// RecordTransition counts a state change. Staying in place is not recorded.
func (m *leaseMetrics) RecordTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *leaseMetrics) RecordChannelRepair(step string) {
	if m == nil {
		return
	}
	if step == "" {
		step = "unknown"
	}
	m.repairs.WithLabelValues(step).Inc()
}

func (m *leaseMetrics) RecordRemoteError(step string) {
	if m == nil {
		return
	}
	if step == "" {
		step = "unknown"
	}
	m.remoteErrors.WithLabelValues(step).Inc()
}

func (m *leaseMetrics) RecordDeliveryRetry(payload string) {
	if m == nil {
		return
	}
	m.deliveryRetries.WithLabelValues(payload).Inc()
}

// ObserveInvocation records the outcome and latency of one contract entry.
func (m *leaseMetrics) ObserveInvocation(entry string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.invocations.WithLabelValues(entry, outcome).Inc()
	m.latency.WithLabelValues(entry).Observe(duration.Seconds())
}

// Alarms returns the registry of the time alarm dispatcher.
func Alarms() *alarmMetrics {
	alarmMetricsOnce.Do(func() {
		alarmRegistry = &alarmMetrics{
			dispatched: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timealarms",
				Name:      "dispatched_total",
				Help:      "Alarms handed to subscribers.",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timealarms",
				Name:      "failed_total",
				Help:      "Alarm deliveries that failed and were re-queued.",
			}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "timealarms",
				Name:      "in_delivery",
				Help:      "Alarms dispatched but not yet acknowledged.",
			}),
		}
		prometheus.MustRegister(alarmRegistry.dispatched, alarmRegistry.failed, alarmRegistry.pending)
	})
	return alarmRegistry
}

func (m *alarmMetrics) RecordDispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dispatched.Add(float64(n))
	m.pending.Add(float64(n))
}

func (m *alarmMetrics) RecordDelivered() {
	if m == nil {
		return
	}
	m.pending.Dec()
}

func (m *alarmMetrics) RecordFailed() {
	if m == nil {
		return
	}
	m.failed.Inc()
	m.pending.Dec()
}

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
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

// Observe records the outcome of an API request. The status code should be
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
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
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
