package tenant

import (
	"errors"
	"strings"
	"time"

	"softphone-platform/internal/telephony"
)

// Tenant is an isolation boundary owning numbers, agents and provider credentials.
//
// Credential invariant: the provider credentials are either fully present
// (account sid + auth token + key pair) or treated as absent by every consumer.
// Secrets never serialize.
type Tenant struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	AccountSID   string `json:"account_sid,omitempty" db:"account_sid"`
	AuthToken    string `json:"-" db:"auth_token"`
	APIKeySID    string `json:"api_key_sid,omitempty" db:"api_key_sid"`
	APIKeySecret string `json:"-" db:"api_key_secret"`
	AppSID       string `json:"app_sid,omitempty" db:"app_sid"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Credentials is the resolved provider credential set of a configured tenant.
type Credentials struct {
	AccountSID string
	AuthToken  string
	KeySID     string
	KeySecret  string
	AppSID     string
}

// Credentials returns the tenant's provider credentials. ok is false when any
// required field is blank; partial configuration counts as unconfigured.
func (t Tenant) Credentials() (Credentials, bool) {
	c := Credentials{
		AccountSID: strings.TrimSpace(t.AccountSID),
		AuthToken:  strings.TrimSpace(t.AuthToken),
		KeySID:     strings.TrimSpace(t.APIKeySID),
		KeySecret:  strings.TrimSpace(t.APIKeySecret),
		AppSID:     strings.TrimSpace(t.AppSID),
	}
	if c.AccountSID == "" || c.AuthToken == "" || c.KeySID == "" || c.KeySecret == "" {
		return Credentials{}, false
	}
	return c, true
}

// Account is the provider REST account for these credentials.
func (c Credentials) Account() telephony.Account {
	return telephony.Account{AccountSID: c.AccountSID, AuthToken: c.AuthToken, KeySID: c.KeySID, KeySecret: c.KeySecret}
}

// ProviderNumber is a provider-leased number owned by exactly one tenant.
// Number is always stored normalized and is unique across tenants.
type ProviderNumber struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	Number       string    `json:"number" db:"number"`
	ProviderSID  string    `json:"provider_sid,omitempty" db:"provider_sid"`
	FriendlyName string    `json:"friendly_name,omitempty" db:"friendly_name"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Agent is a tenant user that receives calls under its provider client identity.
type Agent struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Identity string `json:"identity" db:"identity"`
	Name     string `json:"name,omitempty" db:"name"`
	Active   bool   `json:"active" db:"active"`
}

var (
	ErrNotFound        = errors.New("tenant: not found")
	ErrUnconfigured    = errors.New("tenant: provider credentials not configured")
	ErrConflict        = errors.New("tenant: number owned by another tenant")
	ErrInvalidArgument = errors.New("tenant: invalid argument")
)
