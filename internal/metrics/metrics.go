// Package metrics exposes Prometheus collectors replacing the teacher's
// hand-rolled atomic-counter /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capdocs_http_requests_total",
		Help: "Total HTTP requests by route and status.",
	}, []string{"route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "capdocs_http_request_duration_seconds",
		Help: "HTTP request duration in seconds.",
	}, []string{"route"})

	ClaimContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capdocs_claim_outcomes_total",
		Help: "Task claim attempts by outcome (won, already_claimed, rejected).",
	}, []string{"outcome"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capdocs_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome (delivered, failed).",
	}, []string{"outcome"})

	WebhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capdocs_webhook_queue_depth",
		Help: "Current depth of the webhook delivery queue.",
	})
)
