package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the instruments the dag/scheduler/flowcontrol/workerpool
// packages record against. internal/resilience instruments itself
// directly off the global meter provider instead of through this
// struct, the same way the reference circuit breaker does.
type Metrics struct {
	DAGBuildDuration     metric.Float64Histogram
	PhaseDuration        metric.Float64Histogram
	FlowLimitedTotal     metric.Int64Counter
	FlowAdmittedTotal    metric.Int64Counter
	WorkerPoolQueueDepth metric.Int64UpDownCounter
}

// InitMetrics sets up a global OTLP metrics exporter (push). Returns shutdown function.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, promHandler any, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, nil, createCommonInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, nil, createCommonInstruments()
}

func createCommonInstruments() Metrics {
	meter := otel.Meter("dagflow")
	dagBuild, _ := meter.Float64Histogram("dagflow_dag_build_duration_ms")
	phaseDuration, _ := meter.Float64Histogram("dagflow_phase_duration_ms")
	flowLimited, _ := meter.Int64Counter("dagflow_flowcontrol_limited_total")
	flowAdmitted, _ := meter.Int64Counter("dagflow_flowcontrol_admitted_total")
	queueDepth, _ := meter.Int64UpDownCounter("dagflow_workerpool_queue_depth")
	return Metrics{
		DAGBuildDuration:     dagBuild,
		PhaseDuration:        phaseDuration,
		FlowLimitedTotal:     flowLimited,
		FlowAdmittedTotal:    flowAdmitted,
		WorkerPoolQueueDepth: queueDepth,
	}
}
