// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts API requests by method, route, and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatchery",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by method, route, and status code.",
	}, []string{"method", "route", "code"})

	// HTTPDuration observes API request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hatchery",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// ActiveDeployments tracks pending plus in-progress deployment jobs.
	ActiveDeployments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hatchery",
		Name:      "active_deployments",
		Help:      "Deployment jobs currently pending or in progress.",
	})

	// ReconcileConflicts counts invalid machine status edges observed
	// while a deployment was active.
	ReconcileConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hatchery",
		Name:      "reconcile_conflicts_total",
		Help:      "Machine status transitions rejected by the transition table.",
	})

	// ImagePromotions counts images promoted to active after validation.
	ImagePromotions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hatchery",
		Name:      "image_promotions_total",
		Help:      "Images promoted to active after a passing validation deployment.",
	})
)
