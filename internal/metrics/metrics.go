package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krishimitra_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "krishimitra_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	// ModelSelections counts selections by the rule that produced them
	// (priority, flash, first, default, cache).
	ModelSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krishimitra_model_selections_total",
			Help: "Model selections by resolving rule",
		},
		[]string{"rule"},
	)

	AIInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krishimitra_ai_invocations_total",
			Help: "AI invocations by call shape and outcome",
		},
		[]string{"shape", "kind"},
	)

	AILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "krishimitra_ai_latency_seconds",
			Help:    "Generation call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	WeatherLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krishimitra_weather_lookups_total",
			Help: "Weather lookups by outcome",
		},
		[]string{"outcome"},
	)
)
