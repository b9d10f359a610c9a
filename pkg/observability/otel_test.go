package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	var buf bytes.Buffer
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewLogger(logrus.InfoLevel, &buf))
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.Contains(t, buf.String(), "OpenTelemetry is disabled")
}

func TestShutdownOTel_Nil(t *testing.T) {
	assert.NoError(t, ShutdownOTel(context.Background(), nil, NewDiscardLogger()))
}

func TestWithTraceContext(t *testing.T) {
	logger := NewDiscardLogger()
	entry := logrus.NewEntry(logger)

	t.Run("no active span", func(t *testing.T) {
		got := WithTraceContext(context.Background(), entry)
		assert.NotContains(t, got.Data, "trace_id")
	})

	t.Run("recording span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())

		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		got := WithTraceContext(ctx, entry)
		assert.Equal(t, span.SpanContext().TraceID().String(), got.Data["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), got.Data["span_id"])
	})
}

func TestTracer_NoopByDefault(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "noop")
	defer span.End()
	assert.NotNil(t, span)
}
