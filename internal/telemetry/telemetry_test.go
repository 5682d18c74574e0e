package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"droid-pilot/internal/config"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw      string
		endpoint string
		insecure bool
		wantErr  bool
	}{
		{raw: "", endpoint: "127.0.0.1:4318", insecure: true},
		{raw: "http://collector:4318", endpoint: "collector:4318", insecure: true},
		{raw: "https://otel.example.com", endpoint: "otel.example.com"},
		{raw: "collector:4318", endpoint: "collector:4318"},
		{raw: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			endpoint, insecure, err := parseEndpoint(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.endpoint, endpoint)
			assert.Equal(t, tt.insecure, insecure)
		})
	}
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{}, "droid-pilot", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_RequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), config.TelemetryConfig{Enabled: true}, "", "test")
	assert.Error(t, err)
}

func TestNewTracerProvider_ExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(exporter, "droid-pilot", "1.2.3")
	require.NoError(t, err)

	_, span := tp.Tracer("droid-pilot/agent").Start(context.Background(), "agent.step")
	span.SetAttributes(attribute.Int("step", 3))
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "agent.step", spans[0].Name)
	assert.Contains(t, spans[0].Resource.Attributes(), attribute.String("service.version", "1.2.3"))
	require.NoError(t, tp.Shutdown(context.Background()))
}
