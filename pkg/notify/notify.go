// Package notify delivers templated notifications, such as the welcome
// message carrying a new customer's credentials. Template rendering and
// mail delivery happen outside this service.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/observability"
)

// TemplateCustomerWelcome is sent to the contact of a converted organization
const TemplateCustomerWelcome = "customer_welcome"

// Dispatcher sends a notification and reports whether it was accepted
type Dispatcher interface {
	Send(ctx context.Context, recipient, templateKey string, data map[string]any) bool
}

// Message is the envelope handed to the delivery relay
type Message struct {
	ID        string         `json:"id"`
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogDispatcher records notifications in the log instead of delivering
// them. Only the recipient and template are logged.
type LogDispatcher struct {
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// NewLogDispatcher creates a LogDispatcher
func NewLogDispatcher(logger *logrus.Logger, metrics *observability.Metrics) *LogDispatcher {
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	return &LogDispatcher{logger: logger, metrics: metrics}
}

// Send logs the notification and always succeeds
func (d *LogDispatcher) Send(ctx context.Context, recipient, templateKey string, data map[string]any) bool {
	observability.FromContext(ctx, d.logger).WithFields(logrus.Fields{
		"recipient": recipient,
		"template":  templateKey,
	}).Info("Notification recorded without delivery")
	d.metrics.RecordNotification(templateKey, true)
	return true
}
