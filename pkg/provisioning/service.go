// Package provisioning creates the first user of a converted organization:
// credentials, the user itself, its administrative role and the tracking
// attributes on the organization.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/leadflow/pkg/credentials"
	"github.com/platinummonkey/leadflow/pkg/directory"
	"github.com/platinummonkey/leadflow/pkg/errs"
	"github.com/platinummonkey/leadflow/pkg/observability"
	"github.com/platinummonkey/leadflow/pkg/scim"
)

const (
	// DefaultUserStorePrefix namespaces usernames in the organization's
	// local user store
	DefaultUserStorePrefix = "PRIMARY"

	// DefaultRoleName is the role granted to the first user
	DefaultRoleName = "superadmin"

	// ProvisioningMethod is recorded in the user_provisioning_method attribute
	ProvisioningMethod = "scim_token_exchange"
)

// Stages reported in ProvisioningError
const (
	StageCredentials   = "credentials"
	StageTokenExchange = "token_exchange"
	StageCreateUser    = "create_user"
)

// TokenSource issues organization-scoped tokens
type TokenSource interface {
	OrganizationToken(ctx context.Context, organizationID string) (*oauth2.Token, error)
}

// UserStore is the organization-scoped user and role API
type UserStore interface {
	CreateUser(ctx context.Context, token *oauth2.Token, req scim.CreateUserRequest) (*scim.User, error)
	FindRoleID(ctx context.Context, token *oauth2.Token, organizationID, displayName string) (string, error)
	AddUserToRole(ctx context.Context, token *oauth2.Token, roleID, userID string) error
}

// AttributePatcher updates organization attributes
type AttributePatcher interface {
	PatchAttributes(ctx context.Context, id string, snapshot, updates map[string]string) error
}

// Contact is the person the first user is created for
type Contact struct {
	Email string
	Name  string
}

// Result describes a provisioned user. RoleAssigned and TrackingUpdated
// report the best-effort steps; the user exists whenever a Result is
// returned.
type Result struct {
	Credential      credentials.Credential
	UserID          string
	RoleAssigned    bool
	TrackingUpdated bool
}

// Config configures the provisioning service
type Config struct {
	UserStorePrefix string
	RoleName        string
}

// Service provisions users into organizations
type Service struct {
	config     Config
	tokens     TokenSource
	users      UserStore
	attributes AttributePatcher
	logger     *logrus.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewService creates a provisioning service
func NewService(config Config, tokens TokenSource, users UserStore, attributes AttributePatcher, logger *logrus.Logger, metrics *observability.Metrics) *Service {
	if config.UserStorePrefix == "" {
		config.UserStorePrefix = DefaultUserStorePrefix
	}
	if config.RoleName == "" {
		config.RoleName = DefaultRoleName
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	return &Service{
		config:     config,
		tokens:     tokens,
		users:      users,
		attributes: attributes,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Provision creates the contact's user inside org.
//
// Failing validation returns a *errs.ValidationError and makes no remote
// call. Failing to obtain a token or to create the user returns a
// *errs.ProvisioningError; no user exists in that case. Role assignment and
// the tracking patch are best effort and only logged when they fail.
func (s *Service) Provision(ctx context.Context, org *directory.Organization, contact Contact) (*Result, error) {
	if org == nil || org.ID == "" {
		return nil, errs.NewValidationError("organization", "organization is required")
	}
	contact.Email = strings.TrimSpace(contact.Email)
	contact.Name = strings.TrimSpace(contact.Name)
	if contact.Email == "" {
		return nil, errs.NewValidationError(directory.KeyContactEmail, "contact email is required")
	}
	if contact.Name == "" {
		return nil, errs.NewValidationError(directory.KeyContactPerson, "contact name is required")
	}

	logger := observability.FromContext(ctx, s.logger).WithField("organization_id", org.ID)

	username, err := credentials.GenerateUsername(contact.Email, contact.Name)
	if err != nil {
		return nil, &errs.ProvisioningError{Stage: StageCredentials, Err: err}
	}
	password, err := credentials.GeneratePassword()
	if err != nil {
		return nil, &errs.ProvisioningError{Stage: StageCredentials, Err: err}
	}
	cred := credentials.Credential{
		Username:          username,
		TemporaryPassword: password,
		Email:             contact.Email,
		FullName:          contact.Name,
	}

	givenName, familyName := credentials.SplitName(contact.Name)
	req := scim.CreateUserRequest{
		Emails:   []scim.Email{{Primary: true, Value: contact.Email}},
		Name:     scim.Name{GivenName: givenName, FamilyName: familyName},
		Password: password,
		UserName: s.config.UserStorePrefix + "/" + username,
	}

	token, err := s.tokens.OrganizationToken(ctx, org.ID)
	if err != nil {
		return nil, &errs.ProvisioningError{Stage: StageTokenExchange, Err: err}
	}
	user, err := s.users.CreateUser(ctx, token, req)
	if err != nil {
		return nil, &errs.ProvisioningError{Stage: StageCreateUser, Err: err}
	}
	logger = logger.WithFields(logrus.Fields{"user_id": user.ID, "username": username})
	logger.Info("Created organization user")

	result := &Result{Credential: cred, UserID: user.ID}

	if err := s.assignRole(ctx, org.ID, user.ID); err != nil {
		logger.WithError(err).WithField("role", s.config.RoleName).Warn("Role assignment failed; user was created without it")
	} else {
		result.RoleAssigned = true
	}
	s.metrics.RecordRoleAssignment(result.RoleAssigned)

	tracking := map[string]string{
		directory.KeyPrimaryUserID:          user.ID,
		directory.KeyUserProvisioningMethod: ProvisioningMethod,
		directory.KeyUserSetupPending:       "true",
		directory.KeyUserCreatedAt:          s.now().UTC().Format(time.RFC3339),
	}
	if err := s.attributes.PatchAttributes(ctx, org.ID, org.AttributeMap(), tracking); err != nil {
		logger.WithError(err).Warn("Failed to record user tracking attributes")
	} else {
		result.TrackingUpdated = true
	}

	return result, nil
}

// assignRole grants the configured role using a fresh organization token
func (s *Service) assignRole(ctx context.Context, organizationID, userID string) error {
	token, err := s.tokens.OrganizationToken(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	roleID, err := s.users.FindRoleID(ctx, token, organizationID, s.config.RoleName)
	if err != nil {
		if errors.Is(err, scim.ErrRoleNotFound) {
			return err
		}
		return fmt.Errorf("role search: %w", err)
	}
	if err := s.users.AddUserToRole(ctx, token, roleID, userID); err != nil {
		return fmt.Errorf("role membership: %w", err)
	}
	return nil
}
