// Package metrics provides Prometheus instrumentation for pgpool.
//
// Each pool owns a PoolMetrics bound to a prometheus.Registerer. Pools built
// without an explicit registerer get a private registry, so several pools
// (and tests) can coexist in one process without duplicate registration.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewPoolMetrics("primary", reg)
//	m.Checkouts.WithLabelValues(metrics.ResultOK).Inc()
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pgpool"

// Label values shared by the result-labelled counters.
const (
	ResultOK       = "ok"
	ResultTimeout  = "timeout"
	ResultClosed   = "closed"
	ResultError    = "error"
	ResultRejected = "rejected"
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultDropped  = "dropped"
	ResultNotice   = "notice"
)

// PoolMetrics groups every collector a pool and its sessions report to.
type PoolMetrics struct {
	registry prometheus.Registerer

	// Checkouts counts checkout attempts by result
	Checkouts *prometheus.CounterVec
	// CheckoutWait observes slot acquisition latency in seconds
	CheckoutWait prometheus.Histogram
	// SessionsCreated counts sessions established by the connector
	SessionsCreated prometheus.Counter
	// Recycles counts idle session validations by result
	Recycles *prometheus.CounterVec
	// Discards counts sessions that were closed instead of requeued
	Discards prometheus.Counter
	// IdleSessions is the idle queue length
	IdleSessions prometheus.Gauge
	// InUse is the number of outstanding checkouts holding a slot
	InUse prometheus.Gauge
	// ConnectAttempts counts connect attempts by result
	ConnectAttempts *prometheus.CounterVec
	// BreakerState is 0 closed, 1 open, 2 half-open
	BreakerState prometheus.Gauge
	// Notifications counts forwarded push messages by result
	Notifications *prometheus.CounterVec
	// StatementCache counts cached prepare lookups by result
	StatementCache *prometheus.CounterVec
}

// NewPoolMetrics registers a pool's collectors on reg. A nil reg uses a
// private registry.
func NewPoolMetrics(pool string, reg prometheus.Registerer) *PoolMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"pool": pool}

	return &PoolMetrics{
		registry: reg,
		Checkouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "checkouts_total",
			Help:        "Total number of checkout attempts",
			ConstLabels: labels,
		}, []string{"result"}),
		CheckoutWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "checkout_wait_seconds",
			Help:        "Time spent waiting for a slot",
			ConstLabels: labels,
			Buckets: []float64{
				0.0001, // 100µs - free slot
				0.001,  // 1ms
				0.01,   // 10ms
				0.1,    // 100ms - contended pool
				1,      // 1s
				10,     // 10s - starved pool
			},
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "sessions_created_total",
			Help:        "Total number of sessions established",
			ConstLabels: labels,
		}),
		Recycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "recycles_total",
			Help:        "Total number of idle session validations",
			ConstLabels: labels,
		}, []string{"result"}),
		Discards: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "sessions_discarded_total",
			Help:        "Total number of sessions closed instead of reused",
			ConstLabels: labels,
		}),
		IdleSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "idle_sessions",
			Help:        "Number of idle sessions waiting for reuse",
			ConstLabels: labels,
		}),
		InUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "in_use_slots",
			Help:        "Number of slots held by outstanding checkouts",
			ConstLabels: labels,
		}),
		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connect_attempts_total",
			Help:        "Total number of connect attempts",
			ConstLabels: labels,
		}, []string{"result"}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "breaker_state",
			Help:        "Connect circuit breaker state (0 closed, 1 open, 2 half-open)",
			ConstLabels: labels,
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "notifications_total",
			Help:        "Total number of asynchronous notifications handled",
			ConstLabels: labels,
		}, []string{"result"}),
		StatementCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "statement_cache_lookups_total",
			Help:        "Total number of cached prepare lookups",
			ConstLabels: labels,
		}, []string{"result"}),
	}
}

// Registry returns the registerer the collectors were registered on.
func (m *PoolMetrics) Registry() prometheus.Registerer {
	return m.registry
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveTo records the elapsed seconds on h and returns the elapsed duration.
func (t *Timer) ObserveTo(h prometheus.Observer) time.Duration {
	d := time.Since(t.start)
	h.Observe(d.Seconds())
	return d
}
