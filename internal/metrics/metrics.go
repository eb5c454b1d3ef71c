package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangenie_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plangenie_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plangenie_messages_sent_total",
			Help: "Total user messages sent",
		},
	)

	StreamsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plangenie_streams_cancelled_total",
			Help: "Total plan streams cancelled before completion",
		},
	)

	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangenie_stream_events_total",
			Help: "Total stream events received",
		},
		[]string{"event"},
	)

	StreamUnknownEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plangenie_stream_unknown_events_total",
			Help: "Total stream events of unrecognized kind",
		},
	)

	// Plan metrics
	PlanUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangenie_plan_updates_total",
			Help: "Total plan store slice updates",
		},
		[]string{"slice"},
	)

	PlanReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangenie_plan_reconciliations_total",
			Help: "Total backend plan reconciliation fetches",
		},
		[]string{"outcome"}, // "applied", "empty", "failed"
	)

	// Thread metrics
	ThreadOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangenie_thread_ops_total",
			Help: "Total thread collection operations",
		},
		[]string{"op"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plangenie_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
