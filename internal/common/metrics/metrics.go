package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Total number of /predict requests by classified intent",
		},
		[]string{"intent"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "chat_request_duration_seconds",
			Help: "Duration of /predict handling in seconds",
		},
		[]string{"intent"},
	)

	ClassifierRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_retries_total",
			Help: "Total number of retried classification calls",
		},
	)

	ClassifierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_failures_total",
			Help: "Total number of failed classification calls by kind",
		},
		[]string{"kind"},
	)

	OrdersPlaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Total number of confirmed orders",
		},
	)

	OrdersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Total number of rejected orders by reason",
		},
		[]string{"reason"},
	)
)
