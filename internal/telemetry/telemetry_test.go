package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNew_Disabled(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.Nil(t, tel.LoggerProvider())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledLocalEndpoint(t *testing.T) {
	// Exporters connect lazily, so New succeeds without a collector.
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tel.LoggerProvider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Shutdown flushes to a collector that isn't there; only the error
	// path matters here, not its content.
	_ = tel.Shutdown(ctx)
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	tracer := tt.Tracer("patternd.test")
	_, span := tracer.Start(ctx, "attribute")
	span.End()

	require.Len(t, tt.Spans(), 1)
	assert.NotNil(t, tt.SpanByName("attribute"))
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestTestTelemetry_CollectsMetrics(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	meter := tt.Meter("patternd.test")
	counter, err := meter.Int64Counter("patternd.test.events_total")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, tt.CollectMetrics(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "patternd.test.events_total", rm.ScopeMetrics[0].Metrics[0].Name)
}
