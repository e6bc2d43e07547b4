/*
Package metrics exposes the engine's Prometheus instrumentation.

Collectors register on the default registry; the API server serves them at
/metrics via promhttp.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BillsGenerated counts successfully persisted bills.
	BillsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "bills_generated_total",
		Help:      "Bills successfully priced and persisted.",
	})

	// ReadingsRejected counts readings rejected by the monotonicity rule.
	ReadingsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "readings_rejected_total",
		Help:      "Meter readings rejected as non-monotonic.",
	})

	// JobsProcessed counts job executions by type and outcome
	// (completed, retried, failed).
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "jobs_processed_total",
		Help:      "Job executions by type and outcome.",
	}, []string{"type", "outcome"})

	// JobsReaped counts stale PROCESSING jobs requeued by the reaper.
	JobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "jobs_reaped_total",
		Help:      "Stale PROCESSING jobs requeued after a worker crash.",
	})

	// NotifyFailures counts notification publishes that had to be requeued.
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "notification_failures_total",
		Help:      "Notification publishes that failed and were queued for redelivery.",
	})

	// HTTPDuration observes request latency per route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "billing",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)
