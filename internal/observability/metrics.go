package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. Every collector is
// registered on a private registry so several instances can coexist.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.ConnectionOpened()
//	mux.Handle("/metrics", metrics.Handler())
type Metrics struct {
	registry *prometheus.Registry

	// ActiveConnections is the number of open websocket connections.
	ActiveConnections prometheus.Gauge

	// ConnectionsTotal counts accepted websocket connections.
	ConnectionsTotal prometheus.Counter

	// AuthAttempts counts authenticate events.
	// Labels: result (success|failed|rejected)
	AuthAttempts *prometheus.CounterVec

	// EnvelopeCounter counts envelopes by direction and encryption mode.
	// Labels: direction (inbound|outbound), mode (aes|rsa|plaintext|debug)
	EnvelopeCounter *prometheus.CounterVec

	// DecryptFailures counts inbound envelopes that could not be opened.
	// Labels: reason (missing_field|crypto|parse)
	DecryptFailures *prometheus.CounterVec

	// CacheLookups counts router cache lookups.
	// Labels: result (hit|miss)
	CacheLookups *prometheus.CounterVec

	// ProcessorDuration measures downstream processor latency in seconds.
	// Labels: provider, mode
	ProcessorDuration *prometheus.HistogramVec

	// ProcessorRequests counts downstream calls.
	// Labels: provider, mode, status (success|error)
	ProcessorRequests *prometheus.CounterVec

	// InFlight is the number of requests holding a semaphore slot.
	InFlight prometheus.Gauge

	// LookupOutcomes counts record lookups.
	// Labels: outcome (rows|empty|unavailable)
	LookupOutcomes *prometheus.CounterVec

	// RateLimited counts rejected requests.
	// Labels: scope (token|client_request)
	RateLimited *prometheus.CounterVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hireranker_active_connections",
			Help: "Number of open websocket connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hireranker_connections_total",
			Help: "Total number of accepted websocket connections",
		}),
		AuthAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hireranker_auth_attempts_total",
			Help: "Authenticate events by result",
		}, []string{"result"}),
		EnvelopeCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hireranker_envelopes_total",
			Help: "Envelopes by direction and encryption mode",
		}, []string{"direction", "mode"}),
		DecryptFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hireranker_decrypt_failures_total",
			Help: "Inbound envelopes that could not be decrypted",
		}, []string{"reason"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hireranker_cache_lookups_total",
			Help: "Response cache lookups by result",
		}, []string{"result"}),
		ProcessorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hireranker_processor_duration_seconds",
			Help:    "Duration of downstream processor calls in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "mode"}),
		ProcessorRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hireranker_processor_requests_total",
			Help: "Downstream processor calls by provider, mode and status",
		}, []string{"provider", "mode", "status"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hireranker_router_in_flight",
			Help: "Requests currently holding a router semaphore slot",
		}),
		LookupOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hireranker_lookup_outcomes_total",
			Help: "Applicant lookups by outcome",
		}, []string{"outcome"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hireranker_rate_limited_total",
			Help: "Requests rejected by rate limiting",
		}, []string{"scope"}),
		HTTPRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hireranker_http_requests_total",
			Help: "HTTP requests by path and status code",
		}, []string{"path", "status_code"}),
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordAuth records an authenticate outcome.
func (m *Metrics) RecordAuth(result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(result).Inc()
}

// RecordEnvelope records one envelope in the given direction and mode.
func (m *Metrics) RecordEnvelope(direction, mode string) {
	if m == nil {
		return
	}
	m.EnvelopeCounter.WithLabelValues(direction, mode).Inc()
}

// RecordDecryptFailure records a failed inbound decrypt.
func (m *Metrics) RecordDecryptFailure(reason string) {
	if m == nil {
		return
	}
	m.DecryptFailures.WithLabelValues(reason).Inc()
}

// RecordCache records a cache hit or miss.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordProcessor records a downstream call.
func (m *Metrics) RecordProcessor(provider, mode, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ProcessorRequests.WithLabelValues(provider, mode, status).Inc()
	m.ProcessorDuration.WithLabelValues(provider, mode).Observe(durationSeconds)
}

// SlotAcquired and SlotReleased track semaphore occupancy.
func (m *Metrics) SlotAcquired() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) SlotReleased() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// RecordLookup records a lookup outcome.
func (m *Metrics) RecordLookup(outcome string) {
	if m == nil {
		return
	}
	m.LookupOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRateLimited records a rejected request.
func (m *Metrics) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}

// RecordHTTPRequest records an HTTP response.
func (m *Metrics) RecordHTTPRequest(path, statusCode string) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(path, statusCode).Inc()
}
