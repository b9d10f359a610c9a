package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/observability"
)

const (
	// SignatureHeader carries the HMAC-SHA256 of the request body
	SignatureHeader = "X-Leadflow-Signature"

	defaultWebhookTimeout = 10 * time.Second
)

// WebhookConfig configures the relay a WebhookDispatcher posts to
type WebhookConfig struct {
	URL string

	// Secret signs each body when set
	Secret string

	// Timeout bounds each attempt
	Timeout time.Duration

	Retry      RetryConfig
	HTTPClient *http.Client
}

// WebhookDispatcher posts notifications to an HTTP relay that renders and
// delivers them
type WebhookDispatcher struct {
	config  WebhookConfig
	logger  *logrus.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewWebhookDispatcher creates a WebhookDispatcher
func NewWebhookDispatcher(config WebhookConfig, logger *logrus.Logger, metrics *observability.Metrics) (*WebhookDispatcher, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultWebhookTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	config.Retry = config.Retry.withDefaults()

	return &WebhookDispatcher{
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Send delivers the notification, retrying failed attempts with
// exponential delay. It returns false once attempts are exhausted or ctx
// is done.
func (d *WebhookDispatcher) Send(ctx context.Context, recipient, templateKey string, data map[string]any) bool {
	msg := Message{
		ID:        uuid.New().String(),
		Template:  templateKey,
		Recipient: recipient,
		Data:      data,
		Timestamp: d.now().UTC(),
	}
	logger := observability.FromContext(ctx, d.logger).WithFields(logrus.Fields{
		"notification_id": msg.ID,
		"recipient":       recipient,
		"template":        templateKey,
	})

	payload, err := json.Marshal(msg)
	if err != nil {
		logger.WithError(err).Error("Failed to encode notification")
		d.metrics.RecordNotification(templateKey, false)
		return false
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		return struct{}{}, d.post(ctx, msg.ID, payload)
	}
	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(d.config.Retry.newBackOff()),
		backoff.WithMaxTries(uint(d.config.Retry.MaxAttempts)), // #nosec G115 -- MaxAttempts is positive after withDefaults
		backoff.WithNotify(func(err error, delay time.Duration) {
			logger.WithError(err).Warnf("Notification attempt %d failed, retrying in %s", attempt, delay)
		}),
	)
	if err != nil {
		logger.WithError(err).WithField("attempts", attempt).Error("Notification delivery failed")
		d.metrics.RecordNotification(templateKey, false)
		return false
	}

	logger.WithField("attempts", attempt).Info("Notification delivered")
	d.metrics.RecordNotification(templateKey, true)
	return true
}

func (d *WebhookDispatcher) post(ctx context.Context, id string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Leadflow-Notification-ID", id)
	if d.config.Secret != "" {
		req.Header.Set(SignatureHeader, generateSignature(payload, d.config.Secret))
	}

	resp, err := d.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// VerifySignature verifies a relay request signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
