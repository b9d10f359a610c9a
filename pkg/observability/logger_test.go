package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"INFO", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"bogus", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, &buf)

	logger.WithField("organization_id", "org-1").Info("conversion started")
	logger.Debug("hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "conversion started", entry["msg"])
	assert.Equal(t, "org-1", entry["organization_id"])
	assert.Equal(t, "info", entry["level"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetRunID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithRunID(ctx, "run-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "run-1", GetRunID(ctx))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, &buf)

	ctx := WithRunID(WithRequestID(context.Background(), "req-9"), "run-9")
	FromContext(ctx, logger).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-9", entry["request_id"])
	assert.Equal(t, "run-9", entry["run_id"])

	t.Run("context logger wins", func(t *testing.T) {
		var other bytes.Buffer
		stored := NewLogger(logrus.InfoLevel, &other)
		buf.Reset()

		FromContext(WithLogger(context.Background(), stored), logger).Info("routed")
		assert.Empty(t, buf.String())
		assert.Contains(t, other.String(), "routed")
	})

	t.Run("trace ids from active span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())
		spanCtx, span := tp.Tracer("test").Start(ctx, "op")
		defer span.End()
		buf.Reset()

		FromContext(spanCtx, logger).Info("traced")

		var traced map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &traced))
		assert.Equal(t, span.SpanContext().TraceID().String(), traced["trace_id"])
		assert.Equal(t, "req-9", traced["request_id"])
	})
}
