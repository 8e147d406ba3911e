// Package metrics exposes Prometheus collectors for the bond engine, the
// event relay, the archiver, and the HTTP API. A nil *Metrics is valid and
// records nothing.
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

const namespace = "bondvault"

// Outcome labels for operation counters.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Flow labels for amount counters.
const (
	FlowPurchased = "purchased"
	FlowDeposited = "deposited"
	FlowRedeemed  = "redeemed"
	FlowWithdrawn = "withdrawn"
)

// Metrics holds every collector the service records.
type Metrics struct {
	registry prometheus.Gatherer

	// Lifecycle operations by name and outcome
	Operations *prometheus.CounterVec
	// Lock-to-commit latency per operation
	OperationLatency *prometheus.HistogramVec
	// Base units moved per flow
	Amounts *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	RelayBacklog    prometheus.Gauge

	ArchiveRuns    *prometheus.CounterVec
	EventsArchived prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
	WSClients    prometheus.Gauge
}

// New creates a private registry with Go runtime and process collectors and
// registers every bondvault metric on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers every metric on reg and serves from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: gatherer,

		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of lifecycle operations from lock acquisition to commit",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		Amounts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_base_units_total",
			Help:      "Base units moved by committed operations",
		}, []string{"flow"}), // purchased, deposited, redeemed, withdrawn

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events delivered to the signal bus",
		}, []string{"source", "result"}),

		RelayBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_backlog_events",
			Help:      "Unpublished events seen by the last relay pass",
		}),

		ArchiveRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_runs_total",
			Help:      "Archive runs by outcome",
		}, []string{"outcome"}),

		EventsArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_archived_total",
			Help:      "Events written to cold storage",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status",
		}, []string{"method", "status"}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one lifecycle operation.
func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m != nil {
		m.Operations.WithLabelValues(operation, outcome).Inc()
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// AddAmount adds a committed amount to a flow.
func (m *Metrics) AddAmount(flow string, amount uint64) {
	if m != nil && amount > 0 {
		m.Amounts.WithLabelValues(flow).Add(float64(amount))
	}
}

// IncrementPublished records one event delivery attempt. Source is
// "service" for publish-after-commit and "relay" for redelivery.
func (m *Metrics) IncrementPublished(source string, ok bool) {
	if m == nil {
		return
	}
	result := OutcomeOK
	if !ok {
		result = OutcomeError
	}
	m.EventsPublished.WithLabelValues(source, result).Inc()
}

// SetRelayBacklog records the size of the last relay batch.
func (m *Metrics) SetRelayBacklog(n int) {
	if m != nil {
		m.RelayBacklog.Set(float64(n))
	}
}

// ObserveArchiveRun records one archive run.
func (m *Metrics) ObserveArchiveRun(archived int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ArchiveRuns.WithLabelValues(OutcomeError).Inc()
	} else {
		m.ArchiveRuns.WithLabelValues(OutcomeOK).Inc()
	}
	m.EventsArchived.Add(float64(archived))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
		m.HTTPLatency.WithLabelValues(method).Observe(d.Seconds())
	}
}

// SetWSClients records the number of connected websocket clients.
func (m *Metrics) SetWSClients(n int) {
	if m != nil {
		m.WSClients.Set(float64(n))
	}
}
