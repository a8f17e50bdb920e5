package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookLatencyMs,
	)
}

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Inbound payment notifications by provider, event and outcome.",
		},
		[]string{"provider", "event", "outcome"}, // outcome: granted, replay, ignored, rejected, error
	)

	webhookLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_webhook_latency_ms",
			Help:    "Webhook handling latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"provider"},
	)
)

func IncWebhookEvent(provider, event, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(provider), norm(event), norm(outcome)).Inc()
}

func ObserveWebhookLatency(provider string, ms float64) {
	webhookLatencyMs.WithLabelValues(norm(provider)).Observe(ms)
}
