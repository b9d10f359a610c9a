package conversion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/directory"
	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/notify"
	"github.com/platinummonkey/leadflow/pkg/observability"
	"github.com/platinummonkey/leadflow/pkg/provisioning"
)

// validate checks the organization is a convertible lead. It makes no
// remote mutation.
func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	if !r.org.IsLead() {
		return errs.NewValidationError("name", fmt.Sprintf("organization %q is not a lead", r.org.Name))
	}
	if err := r.derive(); err != nil {
		return err
	}

	taken, err := o.directory.Exists(ctx, r.newName)
	if err != nil {
		return fmt.Errorf("failed to check name availability: %w", err)
	}
	if taken {
		return errs.NewValidationError("new_name", fmt.Sprintf("organization name %q is already in use", r.newName))
	}
	return nil
}

// derive sets the contact and the customer name from the current
// organization record
func (r *run) derive() error {
	lead := r.org.Lead()
	email := strings.TrimSpace(lead.ContactEmail)
	name := strings.TrimSpace(lead.ContactPerson)
	if email == "" {
		return errs.NewValidationError(directory.KeyContactEmail, "contact email is required")
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if name == "" {
		return errs.NewValidationError(directory.KeyContactPerson, "contact name is required")
	}
	r.contact = provisioning.Contact{Email: email, Name: name}

	r.newName = CustomerName(r.org.Name, r.req.NewName)
	if r.newName == "" {
		return errs.NewValidationError("new_name", "customer name is empty")
	}
	if strings.HasPrefix(r.newName, directory.LeadPrefix) {
		return errs.NewValidationError("new_name", "customer name must not carry the lead prefix")
	}
	return nil
}

// lock takes the per-organization lock, then reloads the organization so
// a conversion that finished while we waited is noticed
func (o *Orchestrator) lock(ctx context.Context, r *run) error {
	release, err := o.locker.Acquire(ctx, lockKeyPrefix+r.org.ID, o.config.LockTTL)
	if err != nil {
		return err
	}
	r.release = release

	fresh, err := o.directory.Get(ctx, r.org.ID)
	if err != nil {
		return fmt.Errorf("failed to reload organization: %w", err)
	}
	if !fresh.IsLead() {
		return errs.NewValidationError("name", fmt.Sprintf("organization %q is no longer a lead", fresh.Name))
	}
	r.setOrganization(fresh)

	// The lead may have been renamed or re-contacted since validate
	previous := r.newName
	if err := r.derive(); err != nil {
		return err
	}
	if r.newName != previous {
		taken, err := o.directory.Exists(ctx, r.newName)
		if err != nil {
			return fmt.Errorf("failed to check name availability: %w", err)
		}
		if taken {
			return errs.NewValidationError("new_name", fmt.Sprintf("organization name %q is already in use", r.newName))
		}
	}
	return nil
}

func (o *Orchestrator) markInProgress(ctx context.Context, r *run) error {
	now := o.timestamp()
	assignee := r.actor
	if r.req.ActorID != "" {
		assignee = r.req.ActorID
	}
	updates := map[string]string{
		directory.KeyLeadStatus:            directory.LeadStatusConverted,
		directory.KeyCustomerStatus:        directory.CustomerStatusInvitationSent,
		directory.KeyOnboardingStatus:      directory.OnboardingStatusAwaitingRegistration,
		directory.KeyConvertedAt:           now,
		directory.KeyConvertedBy:           r.actor,
		directory.KeyApprovedAt:            now,
		directory.KeyApprovedBy:            r.actor,
		directory.KeyAssignedTo:            assignee,
		directory.KeyAccountSetupCompleted: directory.AccountSetupPendingPasswordChange,
	}

	// Prior values are read before the local copy is updated
	prior := r.org.Lead()

	if err := o.directory.PatchAttributes(ctx, r.org.ID, r.attrs, updates); err != nil {
		return fmt.Errorf("failed to mark organization as converting: %w", err)
	}
	r.applyAttributes(updates)
	r.priorStatus = statusSnapshot{
		lead:       valueOr(prior.LeadStatus, directory.LeadStatusQualified),
		customer:   valueOr(prior.CustomerStatus, directory.CustomerStatusPending),
		onboarding: valueOr(prior.OnboardingStatus, directory.OnboardingStatusLead),
	}
	return nil
}

func (o *Orchestrator) restoreStatus(ctx context.Context, r *run) error {
	updates := map[string]string{
		directory.KeyLeadStatus:       r.priorStatus.lead,
		directory.KeyCustomerStatus:   r.priorStatus.customer,
		directory.KeyOnboardingStatus: r.priorStatus.onboarding,
	}
	if err := o.directory.PatchAttributes(ctx, r.org.ID, r.attrs, updates); err != nil {
		return fmt.Errorf("failed to restore lead status: %w", err)
	}
	r.applyAttributes(updates)
	return nil
}

func (o *Orchestrator) rename(ctx context.Context, r *run) error {
	ops := []directory.PatchOperation{
		{Operation: directory.OperationReplace, Path: directory.PathName, Value: r.newName},
		{Operation: directory.OperationReplace, Path: directory.PathDescription, Value: fmt.Sprintf(descriptionFormat, r.newName)},
	}
	if err := o.directory.Patch(ctx, r.org.ID, ops); err != nil {
		return fmt.Errorf("failed to rename organization: %w", err)
	}
	r.org.Name = r.newName
	r.org.Description = fmt.Sprintf(descriptionFormat, r.newName)
	return nil
}

func (o *Orchestrator) restoreName(ctx context.Context, r *run) error {
	ops := []directory.PatchOperation{
		{Operation: directory.OperationReplace, Path: directory.PathName, Value: r.oldName},
		{Operation: directory.OperationReplace, Path: directory.PathDescription, Value: r.oldDescription},
	}
	if err := o.directory.Patch(ctx, r.org.ID, ops); err != nil {
		return fmt.Errorf("failed to restore organization name: %w", err)
	}
	r.org.Name = r.oldName
	r.org.Description = r.oldDescription
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, r *run) error {
	result, err := o.provisioner.Provision(ctx, r.org, r.contact)
	if err != nil {
		return err
	}
	r.provisioned = result
	if result.TrackingUpdated {
		r.applyAttributes(map[string]string{directory.KeyPrimaryUserID: result.UserID})
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, r *run) error {
	cred := r.provisioned.Credential
	data := map[string]any{
		"organization_name":  r.newName,
		"contact_name":       r.contact.Name,
		"username":           cred.Username,
		"temporary_password": cred.TemporaryPassword,
		"email":              r.contact.Email,
	}
	if !o.notifier.Send(ctx, r.contact.Email, notify.TemplateCustomerWelcome, data) {
		return fmt.Errorf("failed to send welcome notification to %s", r.contact.Email)
	}
	r.emailSentTo = r.contact.Email

	now := o.timestamp()
	updates := map[string]string{
		directory.KeyAccountCreatedAt:   now,
		directory.KeyAccountCreatedBy:   r.actor,
		directory.KeyWelcomeEmailSentAt: now,
	}
	if err := o.directory.PatchAttributes(ctx, r.org.ID, r.attrs, updates); err != nil {
		observability.FromContext(ctx, o.logger).WithFields(logrus.Fields{
			"organization_id": r.org.ID,
		}).WithError(err).Warn("Failed to record account creation attributes")
		return nil
	}
	r.applyAttributes(updates)
	return nil
}

func (o *Orchestrator) timestamp() string {
	return o.now().UTC().Format(time.RFC3339)
}

// statusSnapshot holds the status attributes to restore on rollback
type statusSnapshot struct {
	lead       string
	customer   string
	onboarding string
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
