package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/observability"
)

// reportTimeout bounds one scheduled report
const reportTimeout = 30 * time.Second

// OrphanLister lists runs that left a user behind
type OrphanLister interface {
	ListOrphaned(ctx context.Context, limit int) ([]*Entry, error)
}

// OrphanReporter periodically logs the users that failed conversions left
// behind so operators can clean them up
type OrphanReporter struct {
	store   OrphanLister
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// NewOrphanReporter creates an OrphanReporter
func NewOrphanReporter(store OrphanLister, logger *logrus.Logger, metrics *observability.Metrics) *OrphanReporter {
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	return &OrphanReporter{store: store, logger: logger, metrics: metrics}
}

// Report logs every orphaned user on record and returns how many there are
func (r *OrphanReporter) Report(ctx context.Context) (int, error) {
	entries, err := r.store.ListOrphaned(ctx, maxLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned runs: %w", err)
	}

	for _, e := range entries {
		r.logger.WithFields(logrus.Fields{
			"run_id":          e.RunID,
			"organization_id": e.OrganizationID,
			"user_id":         e.UserID,
			"username":        e.Username,
			"failed_step":     e.FailedStep,
			"created_at":      e.CreatedAt.UTC().Format(time.RFC3339),
		}).Warn("Orphaned user awaiting manual cleanup")
	}
	r.metrics.SetOrphanedRuns(len(entries))
	return len(entries), nil
}

// Schedule registers the report on c using a standard five-field cron spec
func (r *OrphanReporter) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		defer observability.RecoverPanic(r.logger, "orphaned user report")

		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()

		n, err := r.Report(ctx)
		if err != nil {
			r.logger.WithError(err).Error("Orphaned user report failed")
			return
		}
		r.logger.WithField("count", n).Info("Orphaned user report completed")
	})
	if err != nil {
		return 0, fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}
	return id, nil
}
