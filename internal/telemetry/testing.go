package telemetry

import (
	"context"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry wires in-memory exporters so tests can assert on recorded
// spans and collected metrics without a collector.
type TestTelemetry struct {
	*Telemetry

	Recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
}

// NewTestTelemetry builds an enabled instance backed by a span recorder and
// a manual metric reader.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	return &TestTelemetry{
		Telemetry: &Telemetry{
			cfg:     cfg,
			traces:  sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
			metrics: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		Recorder: recorder,
		reader:   reader,
	}
}

// Spans returns every ended span.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.Recorder.Ended()
}

// SpanByName returns the first ended span with the given name, or nil.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// CollectMetrics drains the manual reader into rm.
func (t *TestTelemetry) CollectMetrics(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	return t.reader.Collect(ctx, rm)
}
