package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/leadflow/pkg/observability"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestLogDispatcher(t *testing.T) {
	var buf bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d := NewLogDispatcher(observability.NewLogger(logrus.InfoLevel, &buf), metrics)

	ok := d.Send(context.Background(), "joe@acme.io", TemplateCustomerWelcome, map[string]any{"password": "Ab1cd@#e2"})

	assert.True(t, ok)
	assert.Contains(t, buf.String(), "joe@acme.io")
	assert.Contains(t, buf.String(), TemplateCustomerWelcome)
	assert.NotContains(t, buf.String(), "Ab1cd@#e2")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(TemplateCustomerWelcome, "success")))
}

func TestWebhookDispatcher_Delivers(t *testing.T) {
	var received Message
	var signature string
	var rawBody []byte
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		require.NoError(t, json.Unmarshal(rawBody, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer relay.Close()

	d, err := NewWebhookDispatcher(WebhookConfig{URL: relay.URL, Secret: "s3cret"}, nil, nil)
	require.NoError(t, err)

	ok := d.Send(context.Background(), "joe@acme.io", TemplateCustomerWelcome, map[string]any{"username": "joe"})

	assert.True(t, ok)
	assert.Equal(t, "joe@acme.io", received.Recipient)
	assert.Equal(t, TemplateCustomerWelcome, received.Template)
	assert.Equal(t, "joe", received.Data["username"])
	assert.NotEmpty(t, received.ID)
	assert.False(t, received.Timestamp.IsZero())
	assert.True(t, VerifySignature(rawBody, signature, "s3cret"))
	assert.False(t, VerifySignature(rawBody, signature, "other"))
}

func TestWebhookDispatcher_NoSecretNoSignature(t *testing.T) {
	var signature atomic.Value
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature.Store(r.Header.Get(SignatureHeader))
	}))
	defer relay.Close()

	d, err := NewWebhookDispatcher(WebhookConfig{URL: relay.URL}, nil, nil)
	require.NoError(t, err)

	assert.True(t, d.Send(context.Background(), "joe@acme.io", TemplateCustomerWelcome, nil))
	assert.Equal(t, "", signature.Load())
}

func TestWebhookDispatcher_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	d, err := NewWebhookDispatcher(WebhookConfig{URL: relay.URL, Retry: fastRetry(3)}, nil, nil)
	require.NoError(t, err)

	assert.True(t, d.Send(context.Background(), "joe@acme.io", TemplateCustomerWelcome, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookDispatcher_GivesUp(t *testing.T) {
	var calls atomic.Int32
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer relay.Close()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d, err := NewWebhookDispatcher(WebhookConfig{URL: relay.URL, Retry: fastRetry(2)}, nil, metrics)
	require.NoError(t, err)

	assert.False(t, d.Send(context.Background(), "joe@acme.io", TemplateCustomerWelcome, nil))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(TemplateCustomerWelcome, "failure")))
}

func TestWebhookDispatcher_StopsOnCancel(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer relay.Close()

	d, err := NewWebhookDispatcher(WebhookConfig{
		URL:   relay.URL,
		Retry: RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour},
	}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.False(t, d.Send(ctx, "joe@acme.io", TemplateCustomerWelcome, nil))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewWebhookDispatcher_RequiresURL(t *testing.T) {
	_, err := NewWebhookDispatcher(WebhookConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestRetryConfig_Defaults(t *testing.T) {
	assert.Equal(t, DefaultRetryConfig(), RetryConfig{}.withDefaults())

	partial := RetryConfig{MaxAttempts: 7, InitialDelay: time.Second}.withDefaults()
	assert.Equal(t, 7, partial.MaxAttempts)
	assert.Equal(t, time.Second, partial.InitialDelay)
	assert.Equal(t, DefaultRetryConfig().MaxDelay, partial.MaxDelay)
	assert.Equal(t, DefaultRetryConfig().BackoffMultiplier, partial.BackoffMultiplier)
}

func TestRetryConfig_BackOffSchedule(t *testing.T) {
	config := RetryConfig{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: 3 * time.Second}.withDefaults()
	b := config.newBackOff()

	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff(), "capped at max delay")
	assert.Equal(t, 3*time.Second, b.NextBackOff())
}
