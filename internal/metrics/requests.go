package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestLabels        = []string{"endpoint", "status"}
	requestLatencyLabels = []string{"endpoint"}
)

// RequestMetrics instruments an HTTP service.
type RequestMetrics struct {
	requestCounts    *prometheus.CounterVec
	requestLatencies *prometheus.HistogramVec
}

// NewDefaultRequestMetrics creates (or reuses) request counters and latency
// histograms prefixed with pkg.
func NewDefaultRequestMetrics(pkg string) RequestMetrics {
	m := RequestMetrics{
		requestCounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_requests", pkg),
				Help: "How many requests were served, partitioned by endpoint and status.",
			},
			requestLabels,
		),
		requestLatencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_request_latencies", pkg),
				Help: "How long requests take to serve, partitioned by endpoint.",
			},
			requestLatencyLabels,
		),
	}
	m.requestCounts = registerOnce(m.requestCounts).(*prometheus.CounterVec)
	m.requestLatencies = registerOnce(m.requestLatencies).(*prometheus.HistogramVec)
	return m
}

// RequestCounter returns the counter for endpoint and status.
func (m *RequestMetrics) RequestCounter(endpoint, status string) prometheus.Counter {
	return m.requestCounts.WithLabelValues(endpoint, status)
}

// RequestTimer starts a latency timer for endpoint.
func (m *RequestMetrics) RequestTimer(endpoint string) *prometheus.Timer {
	return prometheus.NewTimer(m.requestLatencies.WithLabelValues(endpoint))
}
