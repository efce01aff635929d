// Package metrics provides Prometheus metrics for the transaction dispatcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch outcomes per category; outcome is accepted or rejected
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_dispatch_total",
			Help: "Total number of dispatch requests by outcome",
		},
		[]string{"category", "outcome"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_events_total",
			Help: "Total number of lifecycle events emitted",
		},
		[]string{"event_code"},
	)

	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assist_queue_size",
			Help: "Number of transactions currently tracked",
		},
	)

	ConfirmationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assist_confirmation_duration_seconds",
			Help:    "Time from dispatch to first confirmation",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300, 600},
		},
	)

	ProviderReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_provider_read_failures_total",
			Help: "Total number of failed provider reads",
		},
		[]string{"operation"},
	)

	NotifierDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_notifier_dropped_total",
			Help: "Events dropped by a notifier because its buffer was full",
		},
		[]string{"notifier"},
	)

	ProviderBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assist_provider_breaker_open",
			Help: "1 while the provider read circuit breaker is open",
		},
		[]string{"breaker"},
	)
)
