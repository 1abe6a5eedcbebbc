package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/na2hiro/kifubuild"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	BuildDuration    metric.Float64Histogram
	BuildErrorsTotal metric.Int64Counter
	RebuildsTotal    metric.Int64Counter

	CompressedBytesTotal metric.Int64Counter
	CompressSkippedTotal metric.Int64Counter

	BundleBytes metric.Int64Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.BuildDuration, _ = meter.Float64Histogram(
		"kifubuild.build.duration",
		metric.WithDescription("Duration of a target build"),
		metric.WithUnit("ms"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"kifubuild.build.errors.total",
		metric.WithDescription("Total number of failed target builds"),
		metric.WithUnit("{build}"),
	)

	m.RebuildsTotal, _ = meter.Int64Counter(
		"kifubuild.rebuilds.total",
		metric.WithDescription("Total number of watch mode rebuilds"),
		metric.WithUnit("{build}"),
	)

	m.CompressedBytesTotal, _ = meter.Int64Counter(
		"kifubuild.compress.bytes.total",
		metric.WithDescription("Total bytes written by compression passes"),
		metric.WithUnit("By"),
	)

	m.CompressSkippedTotal, _ = meter.Int64Counter(
		"kifubuild.compress.skipped.total",
		metric.WithDescription("Total number of assets a compression pass skipped"),
		metric.WithUnit("{asset}"),
	)

	m.BundleBytes, _ = meter.Int64Gauge(
		"kifubuild.bundle.bytes",
		metric.WithDescription("Size of the most recent bundle output"),
		metric.WithUnit("By"),
	)

	return m
}

// RecordBuild records the duration and outcome of one target build
func (m *Metrics) RecordBuild(ctx context.Context, target string, started time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("target", target))
	m.BuildDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	if err != nil {
		m.BuildErrorsTotal.Add(ctx, 1, attrs)
	}
}
