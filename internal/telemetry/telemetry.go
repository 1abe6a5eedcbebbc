package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Resource attribute keys describing the build being measured
const (
	CommandKey        = attribute.Key("kifubuild.command")
	ModeKey           = attribute.Key("kifubuild.mode")
	PackageNameKey    = attribute.Key("kifubuild.package.name")
	PackageVersionKey = attribute.Key("kifubuild.package.version")
)

// Build identifies the tool run that telemetry is exported for
type Build struct {
	// Version of kifubuild itself
	Version string
	// Command is the CLI command, e.g. build or serve
	Command string
	// Mode is the resolved flags, e.g. production+analyze
	Mode           string
	PackageName    string
	PackageVersion string
}

// Shutdown flushes pending telemetry
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Resource describes b. OTEL_RESOURCE_ATTRIBUTES and OTEL_SERVICE_NAME are
// merged on top.
func Resource(ctx context.Context, serviceName string, b Build) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(b.Version),
		CommandKey.String(b.Command),
		ModeKey.String(b.Mode),
	}
	if b.PackageName != "" {
		attrs = append(attrs, PackageNameKey.String(b.PackageName))
	}
	if b.PackageVersion != "" {
		attrs = append(attrs, PackageVersionKey.String(b.PackageVersion))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithOSType(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// InitTelemetry exports build metrics and traces over OTLP/gRPC, configured
// through the standard OTEL_EXPORTER_OTLP_* variables. A provider that cannot
// be created is skipped with a warning.
//
// The returned function must be called before exit, a one-shot build is
// usually shorter than the metric export interval.
func InitTelemetry(ctx context.Context, serviceName string, b Build) (Shutdown, error) {
	res, err := Resource(ctx, serviceName, b)
	if err != nil {
		return nil, err
	}

	traceShutdown, err := initTraceProvider(ctx, res)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize trace provider, continuing without tracing")
		traceShutdown = noop
	}

	metricShutdown, err := initMeterProvider(ctx, res)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize meter provider, continuing without metrics")
		metricShutdown = noop
	}

	log.Info().
		Str("service", serviceName).
		Str("command", b.Command).
		Str("mode", b.Mode).
		Str("package_version", b.PackageVersion).
		Msg("OpenTelemetry initialized")

	return func(ctx context.Context) error {
		// metrics last so the final build duration is included
		return errors.Join(
			wrap("trace shutdown", traceShutdown(ctx)),
			wrap("metric shutdown", metricShutdown(ctx)),
		)
	}, nil
}

func wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func initTraceProvider(ctx context.Context, res *resource.Resource) (Shutdown, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func initMeterProvider(ctx context.Context, res *resource.Resource) (Shutdown, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	// watch mode runs for hours, one-shot builds rely on the shutdown flush
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
