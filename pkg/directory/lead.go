package directory

// Well-known attribute keys read or written during conversion
const (
	KeyLeadStatus             = "lead_status"
	KeyCustomerStatus         = "customer_status"
	KeyOnboardingStatus       = "onboarding_status"
	KeyContactEmail           = "contact_email"
	KeyContactPerson          = "contact_person"
	KeyConvertedAt            = "converted_at"
	KeyConvertedBy            = "converted_by"
	KeyApprovedAt             = "approved_at"
	KeyApprovedBy             = "approved_by"
	KeyAssignedTo             = "assigned_to"
	KeyAccountSetupCompleted  = "account_setup_completed"
	KeyPrimaryUserID          = "primary_user_id"
	KeyUserProvisioningMethod = "user_provisioning_method"
	KeyUserSetupPending       = "user_setup_pending"
	KeyUserCreatedAt          = "user_created_at"
	KeyAccountCreatedAt       = "account_created_at"
	KeyAccountCreatedBy       = "account_created_by"
	KeyWelcomeEmailSentAt     = "welcome_email_sent_at"
)

// Status values
const (
	LeadStatusQualified = "qualified"
	LeadStatusConverted = "converted"

	CustomerStatusPending        = "pending"
	CustomerStatusInvitationSent = "invitation_sent"

	OnboardingStatusLead                 = "lead"
	OnboardingStatusAwaitingRegistration = "awaiting_registration"

	AccountSetupPendingPasswordChange = "pending_password_change"
)

// LeadAttributes is the typed view of the attribute keys this service
// works with. Keys it does not know about are kept in Extra so that a
// round trip through ToMap loses nothing.
type LeadAttributes struct {
	LeadStatus       string
	CustomerStatus   string
	OnboardingStatus string

	ContactEmail  string
	ContactPerson string

	ConvertedAt           string
	ConvertedBy           string
	ApprovedAt            string
	ApprovedBy            string
	AssignedTo            string
	AccountSetupCompleted string

	PrimaryUserID          string
	UserProvisioningMethod string
	UserSetupPending       string
	UserCreatedAt          string

	AccountCreatedAt   string
	AccountCreatedBy   string
	WelcomeEmailSentAt string

	Extra map[string]string
}

func (l *LeadAttributes) fields() map[string]*string {
	return map[string]*string{
		KeyLeadStatus:             &l.LeadStatus,
		KeyCustomerStatus:         &l.CustomerStatus,
		KeyOnboardingStatus:       &l.OnboardingStatus,
		KeyContactEmail:           &l.ContactEmail,
		KeyContactPerson:          &l.ContactPerson,
		KeyConvertedAt:            &l.ConvertedAt,
		KeyConvertedBy:            &l.ConvertedBy,
		KeyApprovedAt:             &l.ApprovedAt,
		KeyApprovedBy:             &l.ApprovedBy,
		KeyAssignedTo:             &l.AssignedTo,
		KeyAccountSetupCompleted:  &l.AccountSetupCompleted,
		KeyPrimaryUserID:          &l.PrimaryUserID,
		KeyUserProvisioningMethod: &l.UserProvisioningMethod,
		KeyUserSetupPending:       &l.UserSetupPending,
		KeyUserCreatedAt:          &l.UserCreatedAt,
		KeyAccountCreatedAt:       &l.AccountCreatedAt,
		KeyAccountCreatedBy:       &l.AccountCreatedBy,
		KeyWelcomeEmailSentAt:     &l.WelcomeEmailSentAt,
	}
}

// ParseLeadAttributes splits a raw attribute map into known fields and Extra
func ParseLeadAttributes(attrs map[string]string) LeadAttributes {
	var l LeadAttributes
	fields := l.fields()
	for key, value := range attrs {
		if field, ok := fields[key]; ok {
			*field = value
			continue
		}
		if l.Extra == nil {
			l.Extra = make(map[string]string)
		}
		l.Extra[key] = value
	}
	return l
}

// ToMap flattens the attributes back into a raw map. Known fields that are
// empty are omitted.
func (l LeadAttributes) ToMap() map[string]string {
	m := make(map[string]string, len(l.Extra)+8)
	for key, value := range l.Extra {
		m[key] = value
	}
	for key, field := range l.fields() {
		if *field != "" {
			m[key] = *field
		}
	}
	return m
}
