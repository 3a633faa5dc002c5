package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func TestNormalizeOTLPEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hostport string
		urlPath  string
		insecure bool
		resolved string
		wantErr  bool
	}{
		{"default localhost", "http://localhost:4318", "localhost:4318", "/v1/traces", true, "http://localhost:4318/v1/traces", false},
		{"trailing slash base", "http://collector:4318/", "collector:4318", "/v1/traces", true, "http://collector:4318/v1/traces", false},
		{"already traces path", "http://collector:4318/v1/traces", "collector:4318", "/v1/traces", true, "http://collector:4318/v1/traces", false},
		{"custom base path", "https://otlp.example.com:4318/otlp", "otlp.example.com:4318", "/otlp/v1/traces", false, "https://otlp.example.com:4318/otlp/v1/traces", false},
		{"invalid no scheme", "collector:4318", "", "", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hp, path, insecure, resolved, err := normalizeOTLPEndpoint(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeOTLPEndpoint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if hp != tt.hostport {
				t.Errorf("hostport = %q, want %q", hp, tt.hostport)
			}
			if path != tt.urlPath {
				t.Errorf("urlPath = %q, want %q", path, tt.urlPath)
			}
			if insecure != tt.insecure {
				t.Errorf("insecure = %v, want %v", insecure, tt.insecure)
			}
			if resolved != tt.resolved {
				t.Errorf("resolved = %q, want %q", resolved, tt.resolved)
			}
		})
	}
}

// Test DefaultConfig function
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.NotNil(t, config)
	assert.True(t, config.Enabled)
	assert.Equal(t, "http://localhost:4318", config.OTLPEndpoint)
	assert.Equal(t, ServiceName, config.ServiceName)
	assert.Equal(t, ServiceVersion, config.ServiceVersion)
	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, 1.0, config.SampleRate)
	assert.Equal(t, 5*time.Second, config.BatchTimeout)
	assert.Equal(t, 512, config.MaxExportBatch)
	assert.Equal(t, 2048, config.MaxQueueSize)
	assert.Equal(t, "info", config.LogLevel)
}

// Test tracer getter functions
func TestTracerGetters(t *testing.T) {
	tracer := GetTracer("test-tracer")
	assert.NotNil(t, tracer)

	httpTracer := GetHTTPTracer()
	assert.NotNil(t, httpTracer)

	dbTracer := GetDatabaseTracer()
	assert.NotNil(t, dbTracer)

	cacheTracer := GetCacheTracer()
	assert.NotNil(t, cacheTracer)

	oracleTracer := GetOracleTracer()
	assert.NotNil(t, oracleTracer)

	pipelineTracer := GetPipelineTracer()
	assert.NotNil(t, pipelineTracer)
}

// Test span helper functions
func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()
	tracer := GetTracer("test")

	newCtx, span := StartSpan(ctx, tracer, "test-span")
	assert.NotNil(t, newCtx)
	assert.NotNil(t, span)

	attrs := []attribute.KeyValue{
		attribute.String("test-key", "test-value"),
		attribute.Int64("test-int", 42),
	}
	SetSpanAttributes(span, attrs...)

	RecordError(span, assert.AnError)

	SetSpanStatus(span, codes.Ok, "success")

	span.End()
}

// Test attribute helper functions
func TestAttributeHelpers(t *testing.T) {
	strAttr := StringAttribute("key", "value")
	assert.Equal(t, attribute.Key("key"), strAttr.Key)
	assert.Equal(t, attribute.STRING, strAttr.Value.Type())
	assert.Equal(t, "value", strAttr.Value.AsString())

	sliceAttr := StringSliceAttribute("key", []string{"a", "b"})
	assert.Equal(t, attribute.Key("key"), sliceAttr.Key)
	assert.Equal(t, attribute.STRINGSLICE, sliceAttr.Value.Type())
	assert.Equal(t, []string{"a", "b"}, sliceAttr.Value.AsStringSlice())

	intAttr := Int64Attribute("key", 42)
	assert.Equal(t, attribute.Key("key"), intAttr.Key)
	assert.Equal(t, attribute.INT64, intAttr.Value.Type())
	assert.Equal(t, int64(42), intAttr.Value.AsInt64())

	floatAttr := Float64Attribute("key", 3.14)
	assert.Equal(t, attribute.Key("key"), floatAttr.Key)
	assert.Equal(t, attribute.FLOAT64, floatAttr.Value.Type())
	assert.Equal(t, 3.14, floatAttr.Value.AsFloat64())

	boolAttr := BoolAttribute("key", true)
	assert.Equal(t, attribute.Key("key"), boolAttr.Key)
	assert.Equal(t, attribute.BOOL, boolAttr.Value.Type())
	assert.Equal(t, true, boolAttr.Value.AsBool())
}

// Test Logger function
func TestLogger(t *testing.T) {
	globalLogger = nil

	logger := Logger()
	assert.NotNil(t, logger)
	assert.Equal(t, slog.Default(), logger)
}

// Test InitTelemetry with disabled config
func TestInitTelemetryDisabled(t *testing.T) {
	config := TelemetryConfig{
		Enabled: false,
	}

	err := InitTelemetry(config)
	assert.NoError(t, err)
}

// Test GetLogger function
func TestGetLogger(t *testing.T) {
	globalLogger = nil

	logger := GetLogger()
	// When telemetry is not initialized, this should return nil
	assert.Nil(t, logger)

	config := TelemetryConfig{
		Enabled: false,
	}
	err := InitTelemetry(config)
	assert.NoError(t, err)

	// Still should be nil when telemetry is disabled
	logger = GetLogger()
	assert.Nil(t, logger)
}

// Test Shutdown function
func TestShutdown(t *testing.T) {
	globalProvider = nil

	err := Shutdown()
	assert.NoError(t, err)
}

// Test InitTelemetryWithProvider with disabled config
func TestInitTelemetryWithProviderDisabled(t *testing.T) {
	config := &TelemetryConfig{
		Enabled: false,
	}
	logger := slog.Default()

	provider, err := InitTelemetryWithProvider(context.Background(), config, logger)
	assert.NoError(t, err)
	assert.NotNil(t, provider)
	assert.NotNil(t, provider.Shutdown)
	assert.NotNil(t, provider.logger)
}

// Test InitTelemetryWithProvider with invalid endpoint
func TestInitTelemetryWithProviderInvalidEndpoint(t *testing.T) {
	config := &TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "invalid-url://[invalid",
	}
	logger := slog.Default()

	provider, err := InitTelemetryWithProvider(context.Background(), config, logger)
	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "invalid OTLPEndpoint")
}
