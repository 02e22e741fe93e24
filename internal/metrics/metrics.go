// Package metrics exposes Prometheus collectors for the HTTP surface.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTP holds request-level collectors scoped to one registry, so tests and
// the service can each own an isolated set.
type HTTP struct {
	requestsTotal   *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
}

// NewHTTP registers the HTTP collectors with reg.
func NewHTTP(reg prometheus.Registerer) (*HTTP, error) {
	m := &HTTP{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelarc_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		durationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "novelarc_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.durationSeconds} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register http collector: %w", err)
		}
	}
	return m, nil
}
