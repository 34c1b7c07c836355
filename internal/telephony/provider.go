package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Provider defines the provider-agnostic capabilities used by business logic.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Every call is made on behalf of one tenant account.
// - Calls are bounded by a client-side timeout; a timeout is a *ProviderError.
type Provider interface {
	Name() string

	// VerifyCredentials returns ErrInvalidCredentials when the provider rejects the account.
	VerifyCredentials(ctx context.Context, acct Account) error

	ListNumbers(ctx context.Context, acct Account) ([]Number, error)
	PurchaseNumber(ctx context.Context, acct Account, number string, hooks NumberWebhooks) (Number, error)
	ConfigureNumber(ctx context.Context, acct Account, numberSID string, hooks NumberWebhooks) error

	// EnsureApplication finds the application by friendly name, updates its URLs, or creates it.
	EnsureApplication(ctx context.Context, acct Account, app Application) (string, error)
	CreateAPIKey(ctx context.Context, acct Account, friendlyName string) (APIKey, error)

	SendMessage(ctx context.Context, acct Account, req SendMessageRequest) (SentMessage, error)
}

// Account authenticates provider REST calls.
// When KeySID/KeySecret are set they are used instead of the auth token.
type Account struct {
	AccountSID string
	AuthToken  string
	KeySID     string
	KeySecret  string
}

// Number is a provider-side phone number.
type Number struct {
	SID          string `json:"sid"`
	PhoneNumber  string `json:"phone_number"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// NumberWebhooks points a number at this system's endpoints.
type NumberWebhooks struct {
	// VoiceApplicationSID routes inbound voice through the application when set.
	VoiceApplicationSID string
	VoiceURL            string
	SMSURL              string
	SMSStatusURL        string
}

// Application is the provider call-routing registration used by browser devices.
type Application struct {
	FriendlyName      string
	VoiceURL          string
	StatusCallbackURL string
}

type APIKey struct {
	SID    string
	Secret string
}

type SendMessageRequest struct {
	From           string
	To             string
	Body           string
	StatusCallback string
}

type SentMessage struct {
	SID    string
	Status string
}

var (
	ErrInvalidCredentials = errors.New("telephony: invalid provider credentials")
	ErrNotConfigured      = errors.New("telephony: provider not configured")
)

// ProviderError is a failed provider call. Code and Status carry the provider's
// error code and HTTP status when known.
type ProviderError struct {
	Op      string
	Code    int
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("telephony: %s failed (code %d, status %d): %s", e.Op, e.Code, e.Status, msg)
	}
	return fmt.Sprintf("telephony: %s failed: %s", e.Op, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }
