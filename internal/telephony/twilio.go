package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioProvider implements Provider with the twilio-go REST client.
//
// A client is built per call from the tenant account; no client is shared
// across tenants.
type TwilioProvider struct {
	timeout   time.Duration
	newClient func(acct Account) *twilio.RestClient
}

func NewTwilioProvider(timeout time.Duration) *TwilioProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TwilioProvider{timeout: timeout, newClient: restClient}
}

func restClient(acct Account) *twilio.RestClient {
	params := twilio.ClientParams{
		Username:   acct.AccountSID,
		Password:   acct.AuthToken,
		AccountSid: acct.AccountSID,
	}
	if acct.KeySID != "" && acct.KeySecret != "" {
		params.Username = acct.KeySID
		params.Password = acct.KeySecret
	}
	return twilio.NewRestClientWithParams(params)
}

func (p *TwilioProvider) Name() string { return "twilio" }

// call runs fn with a fresh client and bounds it by the provider timeout.
// The SDK does not take a context, so a timed-out call is abandoned, not cancelled.
func (p *TwilioProvider) call(ctx context.Context, op string, acct Account, fn func(c *twilio.RestClient) error) error {
	if strings.TrimSpace(acct.AccountSID) == "" {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(p.newClient(acct)) }()

	select {
	case err := <-done:
		return providerError(op, err)
	case <-ctx.Done():
		return &ProviderError{Op: op, Message: "request timed out", Err: ctx.Err()}
	}
}

func providerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *client.TwilioRestError
	if errors.As(err, &rest) {
		return &ProviderError{Op: op, Code: rest.Code, Status: rest.Status, Message: rest.Message, Err: err}
	}
	return &ProviderError{Op: op, Err: err}
}

func (p *TwilioProvider) VerifyCredentials(ctx context.Context, acct Account) error {
	err := p.call(ctx, "verify_credentials", acct, func(c *twilio.RestClient) error {
		_, err := c.Api.FetchAccount(acct.AccountSID)
		return err
	})
	var pe *ProviderError
	if errors.As(err, &pe) && (pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden || pe.Status == http.StatusNotFound) {
		return ErrInvalidCredentials
	}
	return err
}

func (p *TwilioProvider) ListNumbers(ctx context.Context, acct Account) ([]Number, error) {
	var out []Number
	err := p.call(ctx, "list_numbers", acct, func(c *twilio.RestClient) error {
		params := &api.ListIncomingPhoneNumberParams{}
		params.SetPageSize(100)
		recs, err := c.Api.ListIncomingPhoneNumber(params)
		if err != nil {
			return err
		}
		for _, r := range recs {
			out = append(out, Number{SID: deref(r.Sid), PhoneNumber: deref(r.PhoneNumber), FriendlyName: deref(r.FriendlyName)})
		}
		return nil
	})
	return out, err
}

func (p *TwilioProvider) PurchaseNumber(ctx context.Context, acct Account, number string, hooks NumberWebhooks) (Number, error) {
	var out Number
	err := p.call(ctx, "purchase_number", acct, func(c *twilio.RestClient) error {
		params := &api.CreateIncomingPhoneNumberParams{}
		params.SetPhoneNumber(number)
		if hooks.VoiceApplicationSID != "" {
			params.SetVoiceApplicationSid(hooks.VoiceApplicationSID)
		} else if hooks.VoiceURL != "" {
			params.SetVoiceUrl(hooks.VoiceURL)
			params.SetVoiceMethod(http.MethodPost)
		}
		if hooks.SMSURL != "" {
			params.SetSmsUrl(hooks.SMSURL)
			params.SetSmsMethod(http.MethodPost)
		}
		r, err := c.Api.CreateIncomingPhoneNumber(params)
		if err != nil {
			return err
		}
		out = Number{SID: deref(r.Sid), PhoneNumber: deref(r.PhoneNumber), FriendlyName: deref(r.FriendlyName)}
		return nil
	})
	return out, err
}

func (p *TwilioProvider) ConfigureNumber(ctx context.Context, acct Account, numberSID string, hooks NumberWebhooks) error {
	return p.call(ctx, "configure_number", acct, func(c *twilio.RestClient) error {
		params := &api.UpdateIncomingPhoneNumberParams{}
		if hooks.VoiceApplicationSID != "" {
			params.SetVoiceApplicationSid(hooks.VoiceApplicationSID)
		} else if hooks.VoiceURL != "" {
			params.SetVoiceUrl(hooks.VoiceURL)
			params.SetVoiceMethod(http.MethodPost)
		}
		if hooks.SMSURL != "" {
			params.SetSmsUrl(hooks.SMSURL)
			params.SetSmsMethod(http.MethodPost)
		}
		_, err := c.Api.UpdateIncomingPhoneNumber(numberSID, params)
		return err
	})
}

func (p *TwilioProvider) EnsureApplication(ctx context.Context, acct Account, app Application) (string, error) {
	var sid string
	err := p.call(ctx, "ensure_application", acct, func(c *twilio.RestClient) error {
		list := &api.ListApplicationParams{}
		list.SetFriendlyName(app.FriendlyName)
		existing, err := c.Api.ListApplication(list)
		if err != nil {
			return err
		}

		if len(existing) > 0 && deref(existing[0].Sid) != "" {
			sid = deref(existing[0].Sid)
			params := &api.UpdateApplicationParams{}
			params.SetVoiceUrl(app.VoiceURL)
			params.SetVoiceMethod(http.MethodPost)
			params.SetStatusCallback(app.StatusCallbackURL)
			params.SetStatusCallbackMethod(http.MethodPost)
			_, err := c.Api.UpdateApplication(sid, params)
			return err
		}

		params := &api.CreateApplicationParams{}
		params.SetFriendlyName(app.FriendlyName)
		params.SetVoiceUrl(app.VoiceURL)
		params.SetVoiceMethod(http.MethodPost)
		params.SetStatusCallback(app.StatusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
		created, err := c.Api.CreateApplication(params)
		if err != nil {
			return err
		}
		sid = deref(created.Sid)
		return nil
	})
	return sid, err
}

func (p *TwilioProvider) CreateAPIKey(ctx context.Context, acct Account, friendlyName string) (APIKey, error) {
	var out APIKey
	err := p.call(ctx, "create_api_key", acct, func(c *twilio.RestClient) error {
		params := &api.CreateNewKeyParams{}
		params.SetFriendlyName(friendlyName)
		k, err := c.Api.CreateNewKey(params)
		if err != nil {
			return err
		}
		out = APIKey{SID: deref(k.Sid), Secret: deref(k.Secret)}
		return nil
	})
	return out, err
}

func (p *TwilioProvider) SendMessage(ctx context.Context, acct Account, req SendMessageRequest) (SentMessage, error) {
	var out SentMessage
	err := p.call(ctx, "send_message", acct, func(c *twilio.RestClient) error {
		params := &api.CreateMessageParams{}
		params.SetTo(req.To)
		params.SetFrom(req.From)
		params.SetBody(req.Body)
		if req.StatusCallback != "" {
			params.SetStatusCallback(req.StatusCallback)
		}
		m, err := c.Api.CreateMessage(params)
		if err != nil {
			return err
		}
		out = SentMessage{SID: deref(m.Sid), Status: deref(m.Status)}
		return nil
	})
	return out, err
}

// ValidateSignature checks an X-Twilio-Signature header against the full request
// URL and the posted form parameters.
func ValidateSignature(authToken, url string, params map[string]string, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	v := client.NewRequestValidator(authToken)
	return v.Validate(url, params, signature)
}

func deref[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}
