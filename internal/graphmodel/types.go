// Package graphmodel defines the node and edge shapes the graph
// synchronization engine writes into the versioned snapshot store.
package graphmodel

import "time"

// GroupSourceType enumerates the provenance of an Okta group.
type GroupSourceType string

const (
	GroupSourceAD        GroupSourceType = "AD"
	GroupSourceLDAP      GroupSourceType = "LDAP"
	GroupSourceOktaNative GroupSourceType = "OKTA_NATIVE"
	GroupSourceAppGroup  GroupSourceType = "APP_GROUP"
	GroupSourceBuiltIn   GroupSourceType = "BUILT_IN"
)

// PolicyType enumerates the Okta policy families the fetcher requests.
type PolicyType string

const (
	PolicyTypeOktaSignOn   PolicyType = "OKTA_SIGN_ON"
	PolicyTypePassword     PolicyType = "PASSWORD"
	PolicyTypeMFAEnroll    PolicyType = "MFA_ENROLL"
	PolicyTypeAccessPolicy PolicyType = "ACCESS_POLICY"
)

// AllPolicyTypes is the fixed set of policy families EntityFetcher requests,
// one GET per type.
var AllPolicyTypes = []PolicyType{PolicyTypeOktaSignOn, PolicyTypePassword, PolicyTypeMFAEnroll, PolicyTypeAccessPolicy}

// User is the User node. CustomAttributes holds values for whatever
// tenant-configured profile fields were requested, keyed by sanitized
// column name.
type User struct {
	TenantID         string
	OktaID           string
	Login            string
	Email            string
	FirstName        string
	LastName         string
	Status           string
	ManagerLogin     string // drives the REPORTS_TO edge
	Created          *time.Time
	LastUpdated      *time.Time
	PasswordChanged  *time.Time
	StatusChanged    *time.Time
	CustomAttributes map[string]string
	LastSyncedAt     time.Time
	IsDeleted        bool
}

// Group is the OktaGroup node.
type Group struct {
	TenantID    string
	OktaID      string
	Name        string
	Description string
	SourceType  GroupSourceType
	Created     *time.Time
	LastUpdated *time.Time
}

// SAMLAttributeStatement is one entry of an Application's ordered SAML
// attribute-statement sequence.
type SAMLAttributeStatement struct {
	Name      string
	Namespace string
	Type      string
	Values    []string
}

// Application is the Application node.
type Application struct {
	TenantID       string
	OktaID         string
	Label          string
	Status         string
	SignOnMode     string
	PolicyOktaID   string // GOVERNED_BY target, exactly one per application
	SAMLAttributes []SAMLAttributeStatement
	Created        *time.Time
	LastUpdated    *time.Time
}

// Policy is the Policy node.
type Policy struct {
	TenantID string
	OktaID   string
	Name     string
	Type     PolicyType
	Status   string
	Priority int
}

// Factor is the Factor node (an MFA enrollment).
type Factor struct {
	TenantID   string
	OktaID     string
	FactorType string // sms, push, webauthn, ...
	Provider   string
	Status     string
}

// Device is the Device node.
type Device struct {
	TenantID        string
	OktaID          string
	Platform        string
	Model           string
	DisplayName     string
	Encrypted       bool
	ManagementStatus string
	ScreenLockType   string
}

// MemberOfEdge is User --MEMBER_OF--> Group.
type MemberOfEdge struct {
	TenantID string
	UserID   string
	GroupID  string
}

// HasAccessEdge is User --HAS_ACCESS--> Application (direct assignment).
type HasAccessEdge struct {
	TenantID         string
	UserID           string
	ApplicationID    string
	Scope            string
	Hidden           bool
	CredentialsSetup bool
}

// GroupHasAccessEdge is Group --GROUP_HAS_ACCESS--> Application.
type GroupHasAccessEdge struct {
	TenantID      string
	GroupID       string
	ApplicationID string
	Priority      int
}

// EnrolledEdge is User --ENROLLED--> Factor.
type EnrolledEdge struct {
	TenantID string
	UserID   string
	FactorID string
}

// OwnsEdge is User --OWNS--> Device.
type OwnsEdge struct {
	TenantID         string
	UserID           string
	DeviceID         string
	ManagementStatus string
	ScreenLockType   string
}

// GovernedByEdge is Application --GOVERNED_BY--> Policy.
type GovernedByEdge struct {
	TenantID      string
	ApplicationID string
	PolicyID      string
}

// ReportsToEdge is User --REPORTS_TO--> User, derived from the manager login field.
type ReportsToEdge struct {
	TenantID     string
	UserID       string
	ManagerID    string
}

// NetworkZone is the NetworkZone node, a named IP/location gate a policy
// rule's network condition can reference.
type NetworkZone struct {
	TenantID string
	OktaID   string
	Name     string
	Type     string // IP, DYNAMIC, DYNAMIC_V2
	Status   string
}

// PolicyRule is the PolicyRule node, one ordered rule belonging to exactly
// one Policy.
type PolicyRule struct {
	TenantID  string
	OktaID    string
	PolicyID  string // CONTAINS_RULE source, the owning policy
	Name      string
	Status    string
	Priority  int
	FactorMode string // conditions.people excluded here; factor requirements live on the rule body
}

// ContainsRuleEdge is Policy --CONTAINS_RULE--> PolicyRule.
type ContainsRuleEdge struct {
	TenantID string
	PolicyID string
	RuleID   string
}

// AppliesToUserEdge is PolicyRule --APPLIES_TO_USER--> User, derived from a
// rule's conditions.people.users include/exclude lists.
type AppliesToUserEdge struct {
	TenantID string
	RuleID   string
	UserID   string
	Excluded bool
}

// AppliesToGroupEdge is PolicyRule --APPLIES_TO_GROUP--> Group, derived from
// a rule's conditions.people.groups include/exclude lists.
type AppliesToGroupEdge struct {
	TenantID string
	RuleID   string
	GroupID  string
	Excluded bool
}

// AppliesToZoneEdge is PolicyRule --APPLIES_TO_ZONE--> NetworkZone, derived
// from a rule's conditions.network include/exclude zone lists.
type AppliesToZoneEdge struct {
	TenantID string
	RuleID   string
	ZoneID   string
	Excluded bool
}
