package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts rate limit decisions. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	hits     *prometheus.CounterVec
}

// NewMetrics creates and registers the rate limit counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octohub",
			Subsystem: "rate_limit",
			Name:      "requests_total",
			Help:      "Requests checked by the rate limiter.",
		}, []string{"rule", "client_type"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octohub",
			Subsystem: "rate_limit",
			Name:      "hits_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"rule", "client_type"}),
	}
	reg.MustRegister(m.requests, m.hits)
	return m
}

func (m *Metrics) request(rule, clientType string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(rule, clientType).Inc()
}

func (m *Metrics) hit(rule, clientType string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(rule, clientType).Inc()
}
