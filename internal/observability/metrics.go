package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	apiRequestsTotal   *prometheus.CounterVec
	apiLatencySeconds  *prometheus.HistogramVec
	apiErrorsTotal     *prometheus.CounterVec
	connectionsTotal   prometheus.Counter
	eventsPublished    *prometheus.CounterVec
	messagesFanned     *prometheus.CounterVec
	fanoutFailures     prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buddychat_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "buddychat_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buddychat_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buddychat_ws_connections_total",
			Help: "Total number of realtime connections accepted.",
		})

		eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buddychat_events_published_total",
			Help: "Total number of realtime events published, by operation.",
		}, []string{"operation"})

		messagesFanned = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buddychat_messages_fanout_total",
			Help: "Total number of mailbox copies created during message fanout.",
		}, []string{"kind"})

		fanoutFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buddychat_fanout_failures_total",
			Help: "Total number of mailboxes skipped due to fanout failures.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			connectionsTotal,
			eventsPublished,
			messagesFanned,
			fanoutFailures,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// ConnectionsTotal exposes the counter for accepted realtime connections.
func ConnectionsTotal() prometheus.Counter {
	RegisterMetrics()
	return connectionsTotal
}

// EventsPublished exposes the counter for published realtime events.
func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublished
}

// MessagesFanned exposes the counter for created mailbox copies.
func MessagesFanned() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesFanned
}

// FanoutFailures exposes the counter for skipped mailboxes.
func FanoutFailures() prometheus.Counter {
	RegisterMetrics()
	return fanoutFailures
}
