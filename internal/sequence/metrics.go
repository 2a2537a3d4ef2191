package sequence

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("flowseq.sequence")
	meter  = otel.Meter("flowseq.sequence")
)

var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter
	buildNodes   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"sequence_build_duration_seconds",
			metric.WithDescription("Duration of call tree builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"sequence_build_total",
			metric.WithDescription("Total number of call tree builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildNodes, err = meter.Int64Histogram(
			"sequence_build_nodes",
			metric.WithDescription("Number of call tree nodes per successful build"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuildMetrics(ctx context.Context, d time.Duration, nodes int, err error) {
	if initMetrics() != nil {
		return
	}

	outcome := "success"
	switch {
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	case errors.Is(err, ErrStaleTarget):
		outcome = "stale"
	case errors.Is(err, ErrInvalidHandle):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	buildLatency.Record(ctx, d.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if err == nil {
		buildNodes.Record(ctx, int64(nodes))
	}
}
