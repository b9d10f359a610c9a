package conversion

import (
	"github.com/platinummonkey/leadflow/pkg/errs"
)

// Step names
const (
	StepLoad           = "load"
	StepValidate       = "validate"
	StepLock           = "acquire_lock"
	StepMarkInProgress = "mark_in_progress"
	StepRename         = "rename"
	StepProvision      = "provision"
	StepNotify         = "notify"
	StepFinalize       = "finalize"
)

// Failure reasons, used by callers to pick a response status
const (
	ReasonValidation = "validation"
	ReasonConflict   = "conflict"
	ReasonRemote     = "remote"
	ReasonInternal   = "internal"
)

// MessageInProgress is the result message when the organization is locked
const MessageInProgress = "conversion already in progress"

// ConvertRequest asks for one organization to be converted
type ConvertRequest struct {
	OrganizationID string

	// NewName overrides the name derived from the lead name
	NewName string

	// ActorID and ActorName identify who approved the conversion
	ActorID   string
	ActorName string
}

// SagaResult is the outcome of a conversion run. It is always returned,
// successful or not.
type SagaResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	FailedStep string `json:"failed_step,omitempty"`
	Reason     string `json:"reason,omitempty"`

	OrganizationID string `json:"organization_id"`
	OldName        string `json:"old_name,omitempty"`
	NewName        string `json:"new_name,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	RoleAssigned   bool   `json:"role_assigned"`
	EmailSentTo    string `json:"email_sent_to,omitempty"`

	// Warnings lists users created by a run that failed afterwards
	Warnings []errs.OrphanedResourceWarning `json:"warnings,omitempty"`

	RunID string `json:"run_id"`

	// Err is the failure that stopped the run
	Err error `json:"-"`
}
