package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. A nil or
// disabled Telemetry is valid and records nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *prometheus.Registry

	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	attemptsTotal    metric.Int64Counter
	bytesTotal       metric.Int64Counter
	lockWaitDuration metric.Float64Histogram
	batchesTotal     metric.Int64Counter
	tokenChecks      metric.Int64Counter

	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, also pushes metrics and logs over OTLP/gRPC.
	OTLPEndpoint string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	var loggerProvider *sdklog.LoggerProvider

	if cfg.OTLPEndpoint != "" {
		otlp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlp)))

		logExporter, err := otlploggrpc.New(ctx,
			otlploggrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlploggrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp log exporter: %w", err)
		}

		loggerProvider = sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider()

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		loggerProvider: loggerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:          meterProvider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		registry:       registry,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	return t, nil
}

// Enabled reports whether instruments are recording.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.meter != nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}

	return t.tracer
}

// Transport wraps base with client-side HTTP spans and metrics.
func (t *Telemetry) Transport(base http.RoundTripper) http.RoundTripper {
	if !t.Enabled() {
		return base
	}

	return otelhttp.NewTransport(base,
		otelhttp.WithMeterProvider(t.meterProvider),
		otelhttp.WithTracerProvider(t.tracerProvider),
	)
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}

	errs := []error{t.meterProvider.Shutdown(ctx), t.tracerProvider.Shutdown(ctx)}

	if t.loggerProvider != nil {
		errs = append(errs, t.loggerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// LogHandler returns a slog handler exporting records over OTLP, or nil when
// no OTLP endpoint is configured.
func (t *Telemetry) LogHandler(name string) slog.Handler {
	if t == nil || t.loggerProvider == nil {
		return nil
	}

	return otelslog.NewHandler(name, otelslog.WithLoggerProvider(t.loggerProvider))
}

// RecordDownload records the final status of one acquisition.
func (t *Telemetry) RecordDownload(ctx context.Context, kind, status string, duration time.Duration) {
	if !t.Enabled() {
		return
	}

	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("status", status))

	t.downloadsTotal.Add(ctx, 1, attrs)
	t.downloadDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *Telemetry) incrementActiveDownloads(ctx context.Context, delta int64) {
	if !t.Enabled() {
		return
	}

	t.downloadsActive.Add(ctx, delta)
}

// RecordAttempt records one transfer attempt.
func (t *Telemetry) RecordAttempt(ctx context.Context, kind, status string) {
	if !t.Enabled() {
		return
	}

	t.attemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("status", status)))
}

// RecordBytes records bytes written to a destination.
func (t *Telemetry) RecordBytes(ctx context.Context, kind string, n int64) {
	if !t.Enabled() || n <= 0 {
		return
	}

	t.bytesTotal.Add(ctx, n, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordLockWait records how long an acquisition waited for its lock.
func (t *Telemetry) RecordLockWait(ctx context.Context, status string, d time.Duration) {
	if !t.Enabled() {
		return
	}

	t.lockWaitDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordBatch records the aggregate status of a provider batch.
func (t *Telemetry) RecordBatch(ctx context.Context, kind, status string) {
	if !t.Enabled() {
		return
	}

	t.batchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("status", status)))
}

// RecordTokenCheck records the result of a credential validation.
func (t *Telemetry) RecordTokenCheck(ctx context.Context, provider string, valid bool) {
	if !t.Enabled() {
		return
	}

	status := "valid"
	if !valid {
		status = "invalid"
	}

	t.tokenChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider), attribute.String("status", status)))
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if !t.Enabled() {
		return
	}

	attrs := metric.WithAttributes(attribute.String("operation", operation), attribute.String("status", status))

	t.dbOperationsTotal.Add(ctx, 1, attrs)
	t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of acquisitions by final status"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	if t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of acquisitions in flight"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	if t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Acquisition duration in seconds, lock wait and retries included"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	if t.attemptsTotal, err = t.meter.Int64Counter(
		"download_attempts_total",
		metric.WithDescription("Total number of transfer attempts"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create download_attempts_total counter: %w", err)
	}

	if t.bytesTotal, err = t.meter.Int64Counter(
		"downloaded_bytes_total",
		metric.WithDescription("Bytes promoted to their destination"),
		metric.WithUnit("By"),
	); err != nil {
		return fmt.Errorf("failed to create downloaded_bytes_total counter: %w", err)
	}

	if t.lockWaitDuration, err = t.meter.Float64Histogram(
		"lock_wait_seconds",
		metric.WithDescription("Time spent waiting for the destination lock"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create lock_wait histogram: %w", err)
	}

	if t.batchesTotal, err = t.meter.Int64Counter(
		"batches_total",
		metric.WithDescription("Total number of provider batches by status"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create batches_total counter: %w", err)
	}

	if t.tokenChecks, err = t.meter.Int64Counter(
		"token_checks_total",
		metric.WithDescription("Provider token validations by result"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create token_checks_total counter: %w", err)
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	if t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}
