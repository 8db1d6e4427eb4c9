package api

import (
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeError   = "error"
	outcomeCached  = "cached"
)

// Metrics counts outbound requests by endpoint and outcome.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

// NewMetrics creates the request collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openet_api_requests_total",
				Help: "Raster API requests by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "openet_api_request_duration_seconds",
				Help:    "Raster API request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
	for _, c := range []prometheus.Collector{m.Requests, m.Latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	name := path.Base(endpoint)
	m.Requests.WithLabelValues(name, outcome).Inc()
	if outcome != outcomeCached {
		m.Latency.WithLabelValues(name).Observe(d.Seconds())
	}
}
