// Package errs defines the error taxonomy shared by the conversion
// pipeline. Every remote failure is converted into one of these types at
// its call site so callers can classify failures with errors.As.
package errs

import (
	"fmt"
	"strings"
)

// ValidationError reports a failed precondition. No remote state was
// touched when one of these is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AuthError reports a failed token request at either exchange hop.
type AuthError struct {
	Grant       string
	StatusCode  int
	OAuthCode   string
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s grant failed", e.Grant)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.OAuthCode != "" {
		fmt.Fprintf(&b, " (%s)", e.OAuthCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RemoteAPIError reports a non-2xx response or a transport failure from
// the directory or SCIM endpoints. StatusCode is zero for transport
// failures.
type RemoteAPIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: request failed: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// Transport reports whether the failure happened before a response was received
func (e *RemoteAPIError) Transport() bool {
	return e.StatusCode == 0
}

// ProvisioningError wraps an AuthError or RemoteAPIError raised while
// creating a user.
type ProvisioningError struct {
	Stage string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("user provisioning failed at %s: %v", e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// CompensationError reports a rollback call that itself failed. It is
// logged and never returned to the saga's caller.
type CompensationError struct {
	Step string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for step %s failed: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// OrphanedResourceWarning describes a user that was created by a saga
// run which later failed. The user is left in place and needs manual
// remediation.
type OrphanedResourceWarning struct {
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	FailedStep     string `json:"failed_step"`
	Message        string `json:"message"`
}

func (w *OrphanedResourceWarning) Error() string {
	return fmt.Sprintf("user %s (%s) in organization %s survives failed step %s: manual cleanup required",
		w.Username, w.UserID, w.OrganizationID, w.FailedStep)
}
