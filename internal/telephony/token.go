package telephony

import (
	"errors"
	"time"

	twjwt "github.com/twilio/twilio-go/client/jwt"
)

// Capability tokens let a browser device open a media session with the provider
// directly. They are Twilio AccessTokens with a voice grant, signed with the
// tenant's API key secret.

// TokenParams describe one capability token.
type TokenParams struct {
	AccountSID string
	KeySID     string
	KeySecret  string
	// AppSID is the outgoing application; empty disables outgoing calls.
	AppSID   string
	Identity string
	TTL      time.Duration
}

// Token is a minted capability token and its expiry.
type Token struct {
	JWT       string
	ExpiresAt time.Time
}

var ErrInvalidTokenParams = errors.New("telephony: account sid, key pair and identity are required")

// MintToken signs a voice capability token for identity.
func MintToken(now time.Time, p TokenParams) (Token, error) {
	if p.AccountSID == "" || p.KeySID == "" || p.KeySecret == "" || p.Identity == "" {
		return Token{}, ErrInvalidTokenParams
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	exp := now.Add(ttl).Truncate(time.Second)

	// ValidUntil pins exp; the library's own Ttl never goes below one hour.
	at := twjwt.CreateAccessToken(twjwt.AccessTokenParams{
		AccountSid:    p.AccountSID,
		SigningKeySid: p.KeySID,
		Secret:        p.KeySecret,
		Identity:      p.Identity,
		Nbf:           float64(now.Unix()),
		ValidUntil:    float64(exp.Unix()),
	})
	grant := &twjwt.VoiceGrant{Incoming: twjwt.Incoming{Allow: true}}
	if p.AppSID != "" {
		grant.Outgoing = twjwt.Outgoing{ApplicationSid: p.AppSID}
	}
	at.AddGrant(grant)

	signed, err := at.ToJwt()
	if err != nil {
		return Token{}, err
	}
	return Token{JWT: signed, ExpiresAt: exp}, nil
}
