package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all launcher metrics implementing the golden 4 signals:
// - Latency: How long launches take
// - Traffic: Launch throughput per operation
// - Errors: Stage and platform failures
// - Saturation: Launches currently in flight
//
// A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	// Launch metrics (Latency, Traffic, Errors, Saturation)
	LaunchDuration    metric.Float64Histogram
	LaunchesTotal     metric.Int64Counter
	LaunchStageErrors metric.Int64Counter
	LaunchesActive    metric.Int64UpDownCounter

	// Platform metrics (Errors)
	PlatformErrors  metric.Int64Counter
	PlatformRetries metric.Int64Counter

	// Config transfer metrics
	ConfigTransferFiles      metric.Int64Counter
	ConfigTransferAbruptExit metric.Int64Counter

	// Spec build and teardown metrics
	ResourceRequestClamped metric.Int64Counter
	PodsDeleted            metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("workload-launcher"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// NewMetricsWithReader creates metrics backed by the given reader without
// touching the global meter provider.
func NewMetricsWithReader(reader sdkmetric.Reader) (*Metrics, error) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return newMetrics(provider.Meter("workload-launcher"))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	// Launch metrics
	m.LaunchDuration, err = meter.Float64Histogram(
		"launch_duration_seconds",
		metric.WithDescription("Workload launch duration in seconds, from spec build to ready"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, err
	}

	m.LaunchesTotal, err = meter.Int64Counter(
		"launches_total",
		metric.WithDescription("Total number of workload launches"),
	)
	if err != nil {
		return nil, err
	}

	m.LaunchStageErrors, err = meter.Int64Counter(
		"launch_stage_errors_total",
		metric.WithDescription("Total number of launches that failed, by stage"),
	)
	if err != nil {
		return nil, err
	}

	m.LaunchesActive, err = meter.Int64UpDownCounter(
		"launches_active",
		metric.WithDescription("Number of launches in flight (saturation)"),
	)
	if err != nil {
		return nil, err
	}

	// Platform metrics
	m.PlatformErrors, err = meter.Int64Counter(
		"platform_errors_total",
		metric.WithDescription("Total number of backend platform errors, by operation"),
	)
	if err != nil {
		return nil, err
	}

	m.PlatformRetries, err = meter.Int64Counter(
		"platform_retries_total",
		metric.WithDescription("Total number of retried transient platform errors"),
	)
	if err != nil {
		return nil, err
	}

	// Config transfer metrics
	m.ConfigTransferFiles, err = meter.Int64Counter(
		"config_transfer_files_total",
		metric.WithDescription("Total number of config files copied into pods, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.ConfigTransferAbruptExit, err = meter.Int64Counter(
		"config_transfer_abrupt_exit_total",
		metric.WithDescription("Marker copies reported as failed because the init container exited mid-copy"),
	)
	if err != nil {
		return nil, err
	}

	m.ResourceRequestClamped, err = meter.Int64Counter(
		"resource_request_clamped_total",
		metric.WithDescription("Resource requests lowered to their limit"),
	)
	if err != nil {
		return nil, err
	}

	m.PodsDeleted, err = meter.Int64Counter(
		"pods_deleted_total",
		metric.WithDescription("Total number of pods or containers deleted by label"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordLaunchStarted records a launch entering the pipeline.
func (m *Metrics) RecordLaunchStarted(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.LaunchesActive.Add(ctx, 1, metric.WithAttributes(operationAttr(operation)))
}

// RecordLaunchCompleted records a launch leaving the pipeline (success or failure).
func (m *Metrics) RecordLaunchCompleted(ctx context.Context, operation, backend string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(operationAttr(operation), backendAttr(backend), successAttr(success))
	m.LaunchDuration.Record(ctx, durationSeconds, attrs)
	m.LaunchesTotal.Add(ctx, 1, attrs)
	m.LaunchesActive.Add(ctx, -1, metric.WithAttributes(operationAttr(operation)))
}

// RecordStageError records a launch failing in the given stage.
func (m *Metrics) RecordStageError(ctx context.Context, operation, stage string) {
	if m == nil {
		return
	}
	m.LaunchStageErrors.Add(ctx, 1, metric.WithAttributes(operationAttr(operation), stageAttr(stage)))
}

// RecordPlatformError records a backend error for the named operation.
func (m *Metrics) RecordPlatformError(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.PlatformErrors.Add(ctx, 1, metric.WithAttributes(operationAttr(operation)))
}

// RecordPlatformRetry records a transient backend error that will be retried.
func (m *Metrics) RecordPlatformRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.PlatformRetries.Add(ctx, 1, metric.WithAttributes(operationAttr(operation)))
}

// RecordConfigFileCopied records the outcome of one config file copy.
func (m *Metrics) RecordConfigFileCopied(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.ConfigTransferFiles.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordAbruptExit records a marker copy tolerated as success.
func (m *Metrics) RecordAbruptExit(ctx context.Context) {
	if m == nil {
		return
	}
	m.ConfigTransferAbruptExit.Add(ctx, 1)
}

// RecordRequestClamped records a resource request lowered to its limit.
func (m *Metrics) RecordRequestClamped(ctx context.Context, resourceName string) {
	if m == nil {
		return
	}
	m.ResourceRequestClamped.Add(ctx, 1, metric.WithAttributes(resourceAttr(resourceName)))
}

// RecordPodsDeleted records units deleted by label on a backend.
func (m *Metrics) RecordPodsDeleted(ctx context.Context, backend string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.PodsDeleted.Add(ctx, int64(count), metric.WithAttributes(backendAttr(backend)))
}
