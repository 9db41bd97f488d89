// File: internal/observability/metrics.go
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the prometheus collectors for the scan pipeline. Each
// instance owns a private registry so tests and embedders never collide on
// the default one. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal       *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	injectionsTotal  *prometheus.CounterVec
	relayFramesTotal *prometheus.CounterVec
	unmatchedReplies prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "a11y_scans_total",
			Help: "Scans executed, by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "a11y_scan_duration_seconds",
			Help:    "Wall time of the instrument+evaluate+await+project pipeline.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		injectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "a11y_injections_total",
			Help: "Instrumentation checks, by result (skipped, injected, unconfirmed, failed).",
		}, []string{"result"}),
		relayFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "a11y_relay_frames_total",
			Help: "Frames moved by the channel relay, by direction.",
		}, []string{"direction"}),
		unmatchedReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "a11y_cdp_unmatched_replies_total",
			Help: "Debug protocol replies that matched no outstanding command.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.scansTotal,
		m.scanDuration,
		m.injectionsTotal,
		m.relayFramesTotal,
		m.unmatchedReplies,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveScan records one finished scan.
func (m *Metrics) ObserveScan(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(d.Seconds())
}

// ObserveInjection records the result of one ensure-instrumented call.
func (m *Metrics) ObserveInjection(result string) {
	if m == nil {
		return
	}
	m.injectionsTotal.WithLabelValues(result).Inc()
}

// ObserveRelayFrame records one frame moved in the given direction.
func (m *Metrics) ObserveRelayFrame(direction string) {
	if m == nil {
		return
	}
	m.relayFramesTotal.WithLabelValues(direction).Inc()
}

// ObserveUnmatchedReply records a reply nobody was waiting for.
func (m *Metrics) ObserveUnmatchedReply() {
	if m == nil {
		return
	}
	m.unmatchedReplies.Inc()
}
