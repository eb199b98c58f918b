package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records event pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEmit records an event admitted into the pipeline.
	RecordEmit(ctx context.Context, eventType string)

	// RecordProcessing records a settled processing attempt with its
	// duration and error status.
	RecordProcessing(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordRetry records a scheduled retry.
	RecordRetry(ctx context.Context, eventType string, attempt int)

	// RecordBufferDepth records the overflow buffer occupancy.
	RecordBufferDepth(ctx context.Context, depth int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	emitted           metric.Int64Counter
	processingLatency metric.Float64Histogram
	processingErrors  metric.Int64Counter
	retries           metric.Int64Counter
	bufferDepth       metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the default OTel metrics.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventkit")

	emitted, err := meter.Int64Counter("eventkit.events.emitted",
		metric.WithDescription("Number of events admitted into the bus"),
	)
	if err != nil {
		return nil, err
	}

	processingLatency, err := meter.Float64Histogram("eventkit.processing.latency_ms",
		metric.WithDescription("Event processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	processingErrors, err := meter.Int64Counter("eventkit.processing.errors",
		metric.WithDescription("Number of failed processing attempts"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter("eventkit.retries",
		metric.WithDescription("Number of scheduled retries"),
	)
	if err != nil {
		return nil, err
	}

	bufferDepth, err := meter.Int64Gauge("eventkit.buffer.depth",
		metric.WithDescription("Overflow buffer occupancy"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		emitted:           emitted,
		processingLatency: processingLatency,
		processingErrors:  processingErrors,
		retries:           retries,
		bufferDepth:       bufferDepth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEmit records an admitted event.
func (m *otelMetrics) RecordEmit(ctx context.Context, eventType string) {
	m.emitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordProcessing records a settled attempt.
func (m *otelMetrics) RecordProcessing(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.Bool("success", err == nil),
	}

	m.processingLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.processingErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRetry records a scheduled retry.
func (m *otelMetrics) RecordRetry(ctx context.Context, eventType string, attempt int) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Int("attempt", attempt),
	))
}

// RecordBufferDepth records buffer occupancy.
func (m *otelMetrics) RecordBufferDepth(ctx context.Context, depth int) {
	m.bufferDepth.Record(ctx, int64(depth))
}
