package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay low cardinality: kind, operation and status only.
// URLs and paths belong in the logs, which carry the trace id.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if !t.Enabled() {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("status", status))

	return err
}

// InstrumentDownload traces one acquisition and tracks it as in flight.
// The final status metric is recorded by the caller, which knows whether
// the destination was skipped.
func (t *Telemetry) InstrumentDownload(ctx context.Context, kind string, fn InstrumentedFunc) error {
	if !t.Enabled() {
		return fn(ctx)
	}

	t.incrementActiveDownloads(ctx, 1)
	defer t.incrementActiveDownloads(ctx, -1)

	return t.InstrumentOperation(ctx, "download", "downloader", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "download_"+kind)
		defer span.End()

		span.SetAttributes(attribute.String("download.kind", kind))

		return fn(ctx)
	})
}

// InstrumentBatch traces a provider batch.
func (t *Telemetry) InstrumentBatch(ctx context.Context, kind string, fn InstrumentedFunc) error {
	return t.InstrumentOperation(ctx, "batch_"+kind, "orchestrator", fn)
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if !t.Enabled() {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(ctx, operation, status, time.Since(start))

	return err
}
