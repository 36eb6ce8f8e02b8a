package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nurpe/sealed-bids/internal/model"
)

// Metrics holds the collectors of one service instance. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// BidsSealed how many bids were accepted and sealed
	BidsSealed prometheus.Counter
	// BidsOpened how many bids were decrypted during an opening
	BidsOpened prometheus.Counter
	// OpenRejections how many open attempts were refused, by reason
	OpenRejections *prometheus.CounterVec
	// SealBreaches how many bids failed integrity verification
	SealBreaches prometheus.Counter
	// SessionTransitions session state changes, by target status
	SessionTransitions *prometheus.CounterVec
	// OpenLatency how long a single bid open takes
	OpenLatency prometheus.Histogram

	// HTTPCallCounter how many http requests, by code and method
	HTTPCallCounter *prometheus.CounterVec
	// HTTPLatency how long http request handling takes
	HTTPLatency *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BidsSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sealed_bids_sealed_total",
			Help: "Number of bids sealed at submission",
		}),
		BidsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sealed_bids_opened_total",
			Help: "Number of bids opened",
		}),
		OpenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sealed_bids_open_rejections_total",
			Help: "Number of refused open attempts",
		}, []string{"reason"}),
		SealBreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sealed_bids_seal_breaches_total",
			Help: "Number of bids that failed integrity verification on open",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opening_session_transitions_total",
			Help: "Number of opening session state transitions",
		}, []string{"status"}),
		OpenLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sealed_bids_open_duration_seconds",
			Help:    "Latency of a single bid open",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPCallCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_call_counter",
			Help: "Number of HTTP calls received",
		}, []string{"code", "method"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_duration",
			Help:    "histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.BidsSealed,
		m.BidsOpened,
		m.OpenRejections,
		m.SealBreaches,
		m.SessionTransitions,
		m.OpenLatency,
		m.HTTPCallCounter,
		m.HTTPLatency,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Sealed() {
	if m == nil {
		return
	}
	m.BidsSealed.Inc()
}

func (m *Metrics) Opened(seconds float64) {
	if m == nil {
		return
	}
	m.BidsOpened.Inc()
	m.OpenLatency.Observe(seconds)
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.OpenRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Transition(status model.SessionStatus) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(string(status)).Inc()
}

// Notify counts seal breaches; it lets Metrics act as an incident notifier.
func (m *Metrics) Notify(_ context.Context, _ model.Incident, _ model.AuditEvent) {
	if m == nil {
		return
	}
	m.SealBreaches.Inc()
}

func (m *Metrics) ObserveHTTP(code, method string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPCallCounter.WithLabelValues(code, method).Inc()
	m.HTTPLatency.WithLabelValues(method).Observe(seconds)
}
