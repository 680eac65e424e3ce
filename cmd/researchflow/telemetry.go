package main

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// telemetry installs in-process OTel providers. Metrics are collected by a
// manual reader and logged once at exit; finished spans are logged at
// debug level.
type telemetry struct {
	logger *slog.Logger
	reader *sdkmetric.ManualReader
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

func setupTelemetry(logger *slog.Logger, metrics, tracing bool) *telemetry {
	t := &telemetry{logger: logger}
	if metrics {
		t.reader = sdkmetric.NewManualReader()
		t.meters = sdkmetric.NewMeterProvider(sdkmetric.WithReader(t.reader))
		otel.SetMeterProvider(t.meters)
	}
	if tracing {
		t.traces = sdktrace.NewTracerProvider(sdktrace.WithSyncer(&spanLogger{logger: logger}))
		otel.SetTracerProvider(t.traces)
	}
	return t
}

// Shutdown logs the collected metrics and stops the providers.
func (t *telemetry) Shutdown(ctx context.Context) {
	if t.reader != nil {
		var rm metricdata.ResourceMetrics
		if err := t.reader.Collect(ctx, &rm); err != nil {
			t.logger.Warn("collect metrics failed", "error", err)
		} else {
			logMetrics(t.logger, &rm)
		}
		_ = t.meters.Shutdown(ctx)
	}
	if t.traces != nil {
		_ = t.traces.Shutdown(ctx)
	}
}

func logMetrics(logger *slog.Logger, rm *metricdata.ResourceMetrics) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				logger.Info("metric", "name", m.Name, "total", total)
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				logger.Info("metric", "name", m.Name, "count", count, "sum", sum)
			}
		}
	}
}

// spanLogger is a SpanExporter writing finished spans to slog.
type spanLogger struct {
	logger *slog.Logger
}

func (s *spanLogger) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		s.logger.Debug("span",
			"name", span.Name(),
			"trace_id", span.SpanContext().TraceID().String(),
			"duration_ms", float64(span.EndTime().Sub(span.StartTime()).Microseconds())/1000,
			"status", span.Status().Code.String(),
		)
	}
	return nil
}

func (s *spanLogger) Shutdown(context.Context) error {
	return nil
}
