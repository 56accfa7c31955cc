package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loudthoughts_webhooks_total",
			Help: "Webhook deliveries by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)
	consumeCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loudthoughts_consume_total",
			Help: "Consume calls by outcome.",
		},
		[]string{"outcome"},
	)
	feedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loudthoughts_feed_subscribers",
			Help: "Open buffer feed websocket connections.",
		},
	)
)
