package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's Prometheus collectors.
type Metrics struct {
	Checkouts      *prometheus.CounterVec
	Webhooks       *prometheus.CounterVec
	Attributions   *prometheus.CounterVec
	GatewayLatency prometheus.Histogram
	LateApprovals  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg skips
// registration, which keeps tests independent of the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamvault",
			Name:      "checkout_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamvault",
			Name:      "webhook_total",
			Help:      "Gateway callbacks by outcome.",
		}, []string{"outcome"}),
		Attributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamvault",
			Name:      "attribution_total",
			Help:      "Attribution sends by channel, stage and result.",
		}, []string{"channel", "stage", "result"}),
		GatewayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamvault",
			Name:      "gateway_request_seconds",
			Help:      "Latency of Pix charge creation calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		LateApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamvault",
			Name:      "late_approval_total",
			Help:      "Gateway approvals received for sessions already closed locally.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Checkouts, m.Webhooks, m.Attributions, m.GatewayLatency, m.LateApprovals)
	}
	return m
}
