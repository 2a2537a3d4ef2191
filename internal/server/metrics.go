package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowseq",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route, method and status code",
	}, []string{"route", "method", "code"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowseq",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"route"})

	// regenerations counts diagram builds requested through the API.
	// Labels: outcome (ok, invalid_handle, stale, cancelled, error)
	regenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowseq",
		Subsystem: "sessions",
		Name:      "regenerations_total",
		Help:      "Diagram regenerations by outcome",
	}, []string{"outcome"})

	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowseq",
		Subsystem: "sessions",
		Name:      "open",
		Help:      "Number of open diagram sessions",
	})
)
