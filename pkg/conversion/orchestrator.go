package conversion

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/audit"
	"github.com/platinummonkey/leadflow/pkg/directory"
	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/notify"
	"github.com/platinummonkey/leadflow/pkg/observability"
	"github.com/platinummonkey/leadflow/pkg/provisioning"
	"github.com/platinummonkey/leadflow/pkg/saga"
)

const (
	// DefaultLockTTL bounds how long one organization stays locked
	DefaultLockTTL = 5 * time.Minute

	// SystemActor is recorded when the request names no actor
	SystemActor = "system"

	descriptionFormat = "Customer organization for %s"
	lockKeyPrefix     = "conversion:"
)

// Directory is the part of the directory client the orchestrator uses
type Directory interface {
	Get(ctx context.Context, id string) (*directory.Organization, error)
	Exists(ctx context.Context, name string) (bool, error)
	Patch(ctx context.Context, id string, ops []directory.PatchOperation) error
	PatchAttributes(ctx context.Context, id string, snapshot, updates map[string]string) error
}

// Provisioner creates the first user of an organization
type Provisioner interface {
	Provision(ctx context.Context, org *directory.Organization, contact provisioning.Contact) (*provisioning.Result, error)
}

// Config configures the orchestrator
type Config struct {
	LockTTL time.Duration
}

// Orchestrator converts lead organizations into customers
type Orchestrator struct {
	config      Config
	directory   Directory
	provisioner Provisioner
	notifier    notify.Dispatcher
	audit       audit.Store
	locker      Locker
	logger      *logrus.Logger
	metrics     *observability.Metrics
	saga        *saga.Saga
	now         func() time.Time
}

// NewOrchestrator creates an orchestrator. A nil store disables the audit
// trail and a nil locker falls back to a process-local lock.
func NewOrchestrator(
	config Config,
	dir Directory,
	provisioner Provisioner,
	notifier notify.Dispatcher,
	store audit.Store,
	locker Locker,
	logger *logrus.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if store == nil {
		store = audit.NopStore{}
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	return &Orchestrator{
		config:      config,
		directory:   dir,
		provisioner: provisioner,
		notifier:    notifier,
		audit:       store,
		locker:      locker,
		logger:      logger,
		metrics:     metrics,
		saga:        saga.New("conversion", logger, metrics),
		now:         time.Now,
	}
}

// run holds the state one conversion carries between steps
type run struct {
	req     ConvertRequest
	actor   string
	org     *directory.Organization
	attrs   map[string]string
	contact provisioning.Contact

	oldName        string
	oldDescription string
	newName        string

	priorStatus statusSnapshot
	release     ReleaseFunc
	provisioned *provisioning.Result
	emailSentTo string
}

// Convert runs the conversion of one lead organization. It never returns
// an error or panics; the outcome is described by the result. The run is
// detached from the caller's cancellation so compensations are not cut
// short by a disconnected client.
func (o *Orchestrator) Convert(ctx context.Context, req ConvertRequest) (result *SagaResult) {
	start := time.Now()
	runID := uuid.New().String()

	ctx = context.WithoutCancel(ctx)
	ctx = observability.WithRunID(ctx, runID)
	logger := observability.FromContext(ctx, o.logger).WithField("organization_id", req.OrganizationID)

	result = &SagaResult{OrganizationID: req.OrganizationID, RunID: runID}

	defer func() {
		if err := observability.MustRecover(recover()); err != nil {
			logger.WithError(err).Error("Conversion panicked")
			result.Success = false
			result.Err = err
			result.Reason = ReasonInternal
			result.Message = "internal error during conversion"
		}
		o.metrics.RecordConversion(result.Success, time.Since(start))
		o.recordAudit(ctx, logger, req, result)
	}()

	r := &run{req: req, actor: actorName(req)}

	if strings.TrimSpace(req.OrganizationID) == "" {
		o.fail(result, StepLoad, errs.NewValidationError("organization_id", "organization id is required"))
		return result
	}

	org, err := o.directory.Get(ctx, req.OrganizationID)
	if err != nil {
		o.fail(result, StepLoad, fmt.Errorf("failed to load organization: %w", err))
		logger.WithError(err).Error("Failed to load organization")
		return result
	}
	r.setOrganization(org)
	result.OldName = org.Name

	logger.WithField("organization_name", org.Name).Info("Starting lead conversion")

	outcome := o.saga.Run(ctx,
		saga.Step{Name: StepValidate, Action: func(ctx context.Context) error { return o.validate(ctx, r) }},
		saga.Step{Name: StepLock, Action: func(ctx context.Context) error { return o.lock(ctx, r) }},
		saga.Step{
			Name:       StepMarkInProgress,
			Action:     func(ctx context.Context) error { return o.markInProgress(ctx, r) },
			Compensate: func(ctx context.Context) error { return o.restoreStatus(ctx, r) },
		},
		saga.Step{
			Name:       StepRename,
			Action:     func(ctx context.Context) error { return o.rename(ctx, r) },
			Compensate: func(ctx context.Context) error { return o.restoreName(ctx, r) },
		},
		saga.Step{Name: StepProvision, Action: func(ctx context.Context) error { return o.provision(ctx, r) }},
		saga.Step{Name: StepNotify, Action: func(ctx context.Context) error { return o.notify(ctx, r) }},
		saga.Step{Name: StepFinalize, Action: func(ctx context.Context) error { return nil }},
	)

	if r.release != nil {
		if err := r.release(ctx); err != nil {
			logger.WithError(err).Warn("Failed to release conversion lock")
		}
	}

	result.OldName = r.oldName
	result.NewName = r.newName
	result.EmailSentTo = r.emailSentTo
	if r.provisioned != nil {
		result.UserID = r.provisioned.UserID
		result.Username = r.provisioned.Credential.Username
		result.RoleAssigned = r.provisioned.RoleAssigned
	}

	if outcome.Succeeded() {
		result.Success = true
		result.Message = fmt.Sprintf("organization %s converted to %s", result.OldName, result.NewName)
		logger.WithFields(logrus.Fields{
			"new_name": result.NewName,
			"user_id":  result.UserID,
		}).Info("Lead conversion completed")
		return result
	}

	o.fail(result, outcome.FailedStep, outcome.Err)
	if result.FailedStep == StepValidate || result.FailedStep == StepLock {
		// Nothing was changed remotely
		result.NewName = ""
	}

	if r.provisioned != nil {
		warning := errs.OrphanedResourceWarning{
			OrganizationID: org.ID,
			UserID:         r.provisioned.UserID,
			Username:       r.provisioned.Credential.Username,
			FailedStep:     outcome.FailedStep,
			Message:        "user was created but the conversion failed; manual cleanup required",
		}
		result.Warnings = append(result.Warnings, warning)
		o.metrics.RecordOrphanedUser()
		logger.WithError(&warning).Error("Orphaned user left behind by failed conversion")
	}

	return result
}

// fail fills the failure fields of result from err
func (o *Orchestrator) fail(result *SagaResult, step string, err error) {
	result.Success = false
	result.FailedStep = step
	result.Err = err

	var validationErr *errs.ValidationError
	switch {
	case errors.Is(err, ErrLocked):
		result.Reason = ReasonConflict
		result.Message = MessageInProgress
	case errors.As(err, &validationErr):
		result.Reason = ReasonValidation
		result.Message = validationErr.Error()
	default:
		result.Reason = ReasonRemote
		result.Message = fmt.Sprintf("conversion failed at %s: %v", step, err)
	}
}

func (o *Orchestrator) recordAudit(ctx context.Context, logger *logrus.Entry, req ConvertRequest, result *SagaResult) {
	entry := &audit.Entry{
		RunID:          result.RunID,
		OrganizationID: result.OrganizationID,
		OldName:        result.OldName,
		NewName:        result.NewName,
		Status:         audit.StatusSuccess,
		UserID:         result.UserID,
		Username:       result.Username,
		Orphaned:       len(result.Warnings) > 0,
		ActorID:        req.ActorID,
	}
	if !result.Success {
		entry.Status = audit.StatusFailed
		entry.FailedStep = result.FailedStep
		entry.Message = result.Message
	}
	if err := o.audit.Record(ctx, entry); err != nil {
		logger.WithError(err).Error("Failed to record conversion audit entry")
	}
}

func (r *run) setOrganization(org *directory.Organization) {
	r.org = org
	r.attrs = org.AttributeMap()
	r.oldName = org.Name
	r.oldDescription = org.Description
}

// applyAttributes mirrors a successful attribute patch into the local copy
// so later patches choose ADD or REPLACE correctly
func (r *run) applyAttributes(updates map[string]string) {
	for key, value := range updates {
		if _, ok := r.attrs[key]; ok {
			for i := range r.org.Attributes {
				if r.org.Attributes[i].Key == key {
					r.org.Attributes[i].Value = value
				}
			}
		} else {
			r.org.Attributes = append(r.org.Attributes, directory.Attribute{Key: key, Value: value})
		}
		r.attrs[key] = value
	}
}

func actorName(req ConvertRequest) string {
	switch {
	case strings.TrimSpace(req.ActorName) != "":
		return strings.TrimSpace(req.ActorName)
	case strings.TrimSpace(req.ActorID) != "":
		return strings.TrimSpace(req.ActorID)
	default:
		return SystemActor
	}
}

// CustomerName derives the customer name from a lead name or an explicit
// override: the lead prefix and underscores are removed and the result
// lowercased.
func CustomerName(leadName, override string) string {
	name := strings.TrimSpace(override)
	if name == "" {
		name = strings.TrimPrefix(leadName, directory.LeadPrefix)
	}
	name = strings.ReplaceAll(name, "_", "")
	return strings.ToLower(strings.TrimSpace(name))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errs.NewValidationError(directory.KeyContactEmail, fmt.Sprintf("contact email %q is not a valid address", email))
	}
	return nil
}
