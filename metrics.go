package finagle

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the assembled client
// pipeline: request outcomes, retries, pool sizing and host health. It is
// safe for concurrent use, and every recording method tolerates a nil
// receiver so metrics stay strictly optional.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	retriesTotal *prometheus.CounterVec

	connectionPrepareDuration *prometheus.HistogramVec
	connectionsOpen           *prometheus.GaugeVec
	poolWaiters               *prometheus.GaugeVec
	dialFailuresTotal         *prometheus.CounterVec

	hostDead *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "finagle_requests_total",
				Help: "Total number of logical requests issued through the client",
			},
			[]string{"client", "result"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finagle_request_duration_seconds",
				Help:    "Caller-visible duration of logical requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"client"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "finagle_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"client", "attempt"},
		),
		connectionPrepareDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finagle_connection_prepare_duration_seconds",
				Help:    "Duration of codec connection preparation in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"client", "host"},
		),
		connectionsOpen: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finagle_connections_open",
				Help: "Live connections per host, established plus dialing",
			},
			[]string{"client", "host"},
		),
		poolWaiters: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finagle_pool_waiters",
				Help: "Acquisitions currently queued per host",
			},
			[]string{"client", "host"},
		),
		dialFailuresTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "finagle_dial_failures_total",
				Help: "Total number of failed physical connection attempts",
			},
			[]string{"client", "host"},
		),
		hostDead: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finagle_host_dead",
				Help: "Whether a host is marked dead (1) per health signal",
			},
			[]string{"client", "host", "signal"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "finagle_errors_total",
				Help: "Total number of errors surfaced to callers, by type",
			},
			[]string{"client", "type"},
		),
		registerer: registry,
	}
}

// RecordRequest records the outcome and duration of one logical request.
func (mc *MetricsCollector) RecordRequest(client string, err error, duration time.Duration) {
	if mc == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	mc.requestsTotal.WithLabelValues(client, result).Inc()
	mc.requestDuration.WithLabelValues(client).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(client string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(client, strconv.Itoa(attempt)).Inc()
}

// RecordConnectionPrepare observes the codec preparation latency for one
// freshly dialed connection.
func (mc *MetricsCollector) RecordConnectionPrepare(client, host string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.connectionPrepareDuration.WithLabelValues(client, host).Observe(duration.Seconds())
}

// RecordConnectionsOpen sets the live-connection gauge for a host.
func (mc *MetricsCollector) RecordConnectionsOpen(client, host string, n int) {
	if mc == nil {
		return
	}

	mc.connectionsOpen.WithLabelValues(client, host).Set(float64(n))
}

// RecordPoolWaiters sets the queued-acquisition gauge for a host.
func (mc *MetricsCollector) RecordPoolWaiters(client, host string, n int) {
	if mc == nil {
		return
	}

	mc.poolWaiters.WithLabelValues(client, host).Set(float64(n))
}

// RecordDialFailure increments the physical connection failure counter.
func (mc *MetricsCollector) RecordDialFailure(client, host string) {
	if mc == nil {
		return
	}

	mc.dialFailuresTotal.WithLabelValues(client, host).Inc()
}

// RecordHostDead sets the host-health gauge for one signal, either
// "accrual" or "failfast".
func (mc *MetricsCollector) RecordHostDead(client, host, signal string, dead bool) {
	if mc == nil {
		return
	}

	v := 0.0
	if dead {
		v = 1.0
	}
	mc.hostDead.WithLabelValues(client, host, signal).Set(v)
}

// RecordError increments the error counter by type.
func (mc *MetricsCollector) RecordError(client, errorType string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(client, errorType).Inc()
}

// GetRegistry exposes the underlying registry when the collector was built
// on one, otherwise nil.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if r, ok := mc.registerer.(*prometheus.Registry); ok {
		return r
	}
	return nil
}
