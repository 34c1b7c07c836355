package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"softphone-platform/internal/calls"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/logger"
	"softphone-platform/pkg/phone"
)

// StatusCallbackPath receives status events for every dialed leg.
const StatusCallbackPath = "/webhooks/twilio/voice/status"

// RecordingCallbackPath receives recording status events when recording is on.
const RecordingCallbackPath = "/webhooks/twilio/voice/recording"

// DefaultDialTimeout is the ring timeout in seconds for every dial.
const DefaultDialTimeout = 30

var (
	ErrValidation = errors.New("routing: validation failed")
	// ErrNoNumber means the tenant has no active number to call from.
	ErrNoNumber = errors.New("routing: tenant has no active number")
)

// Directory is the subset of tenant.Directory the router needs.
type Directory interface {
	ResolveByNumber(ctx context.Context, number string) (tenant.Tenant, tenant.ProviderNumber, error)
	ResolveByAccount(ctx context.Context, accountSID string) (tenant.Tenant, error)
	Credentials(ctx context.Context, tenantID string) (tenant.Credentials, error)
}

// Numbers reads number assignments and agents.
type Numbers interface {
	AssignedAgents(ctx context.Context, numberID string) ([]tenant.Agent, error)
	ActiveNumber(ctx context.Context, tenantID string) (tenant.ProviderNumber, error)
	FindAgentByIdentity(ctx context.Context, tenantID, identity string) (tenant.Agent, error)
}

// CallStore persists the outbound call rows the correlator later matches.
type CallStore interface {
	InsertCall(ctx context.Context, c calls.VoiceCall) (calls.VoiceCall, error)
	UpdateStatus(ctx context.Context, id string, status calls.CallStatus, durationSeconds int) error
	FindOpenByIdentity(ctx context.Context, tenantID, identity, to string) (calls.VoiceCall, error)
}

type Options struct {
	// PublicBaseURL is this service's externally reachable origin, without a trailing slash.
	PublicBaseURL string
	// TokenTTL bounds capability token lifetime. Defaults to 1h.
	TokenTTL time.Duration
	// DialTimeout is the ring timeout in seconds. Defaults to 30.
	DialTimeout int
	// Record turns on dual-channel recording for every bridged call.
	Record bool
}

// Router decides how inbound calls are delivered and prepares outbound calls.
//
// Webhook paths never return errors: every failure becomes a decline, which the
// boundary renders as an apology document with HTTP 200.
type Router struct {
	dir     Directory
	numbers Numbers
	calls   CallStore
	opts    Options
	now     func() time.Time
}

func NewRouter(dir Directory, numbers Numbers, store CallStore, opts Options) *Router {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Router{dir: dir, numbers: numbers, calls: store, opts: opts, now: time.Now}
}

// StatusCallbackURL is the callback registered on every dial. It never carries a query string.
func (r *Router) StatusCallbackURL() string {
	return r.opts.PublicBaseURL + StatusCallbackPath
}

func (r *Router) recordingCallbackURL() string {
	if !r.opts.Record {
		return ""
	}
	return r.opts.PublicBaseURL + RecordingCallbackPath
}

type InboundCall struct {
	CallSID string
	From    string
	To      string
}

// RouteInbound rings every live agent assigned to the dialed number at once.
func (r *Router) RouteInbound(ctx context.Context, in InboundCall) Decision {
	log := logger.From(ctx).With("call_sid", logger.Redact(in.CallSID))

	t, num, err := r.dir.ResolveByNumber(ctx, in.To)
	if err != nil {
		if !errors.Is(err, tenant.ErrNotFound) {
			log.Error("inbound tenant lookup failed", "err", err)
			return decline("", ReasonInternalError)
		}
		log.Info("inbound call to unowned number", "to", phone.Normalize(in.To))
		return decline("", ReasonUnroutable)
	}
	if !num.Active {
		log.Info("inbound call to inactive number", "tenant_id", t.ID)
		return decline(t.ID, ReasonUnroutable)
	}

	agents, err := r.numbers.AssignedAgents(ctx, num.ID)
	if err != nil {
		log.Error("assigned agents lookup failed", "tenant_id", t.ID, "err", err)
		return decline(t.ID, ReasonInternalError)
	}

	identities := liveIdentities(agents)
	if len(identities) == 0 {
		log.Info("no agent available", "tenant_id", t.ID, "assigned", len(agents))
		return decline(t.ID, ReasonNoAgent)
	}

	return Decision{
		TenantID:          t.ID,
		Action:            ActionDial,
		CallerID:          num.Number,
		Clients:           identities,
		TimeoutSeconds:    r.opts.DialTimeout,
		StatusCallback:    r.StatusCallbackURL(),
		RecordingCallback: r.recordingCallbackURL(),
	}
}

// liveIdentities drops inactive agents and agents without an identity, keeping order.
func liveIdentities(agents []tenant.Agent) []string {
	seen := make(map[string]struct{}, len(agents))
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		id := strings.TrimSpace(a.Identity)
		if !a.Active || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// OutboundLeg is the voice request the provider sends when a browser device
// places a call through the tenant's TwiML application.
type OutboundLeg struct {
	CallSID    string
	AccountSID string
	From       string
	To         string
}

// RouteOutboundLeg dials the PSTN destination for a browser-originated call.
// Caller id comes from the identity's open call, falling back to the tenant's
// first active number.
func (r *Router) RouteOutboundLeg(ctx context.Context, leg OutboundLeg) Decision {
	log := logger.From(ctx).With("call_sid", logger.Redact(leg.CallSID))

	t, err := r.dir.ResolveByAccount(ctx, leg.AccountSID)
	if err != nil {
		if !errors.Is(err, tenant.ErrNotFound) {
			log.Error("outbound leg tenant lookup failed", "err", err)
			return decline("", ReasonInternalError)
		}
		log.Info("outbound leg for unknown account", "account_sid", logger.Redact(leg.AccountSID))
		return decline("", ReasonUnroutable)
	}

	to := phone.Normalize(leg.To)
	if !phone.IsDialable(to) {
		return decline(t.ID, ReasonInvalidDestination)
	}

	callerID := ""
	if identity := phone.ClientIdentity(leg.From); identity != "" {
		if open, err := r.calls.FindOpenByIdentity(ctx, t.ID, identity, to); err == nil {
			callerID = open.From
		} else if !errors.Is(err, calls.ErrNotFound) {
			log.Warn("open call lookup failed", "tenant_id", t.ID, "err", err)
		}
	}
	if callerID == "" {
		n, err := r.numbers.ActiveNumber(ctx, t.ID)
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				return decline(t.ID, ReasonUnroutable)
			}
			log.Error("active number lookup failed", "tenant_id", t.ID, "err", err)
			return decline(t.ID, ReasonInternalError)
		}
		callerID = n.Number
	}

	return Decision{
		TenantID:          t.ID,
		Action:            ActionDial,
		CallerID:          callerID,
		Numbers:           []string{to},
		TimeoutSeconds:    r.opts.DialTimeout,
		StatusCallback:    r.StatusCallbackURL(),
		RecordingCallback: r.recordingCallbackURL(),
	}
}

type OutboundRequest struct {
	TenantID string
	Identity string
	// From is optional; blank uses the tenant's first active number.
	From string
	To   string
}

type OutboundResult struct {
	CallID         string    `json:"call_id"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires"`
	ApplicationSID string    `json:"application_sid"`
	Identity       string    `json:"identity"`
	From           string    `json:"from"`
	To             string    `json:"to"`
}

// StartOutbound records an open outbound call and returns the capability
// token the browser device uses to place it. The row exists before the device
// can reach the provider, so the first status callback has something to match.
func (r *Router) StartOutbound(ctx context.Context, req OutboundRequest) (OutboundResult, error) {
	to := phone.Normalize(req.To)
	if to == "" {
		return OutboundResult{}, fmt.Errorf("%w: to is required", ErrValidation)
	}
	if !phone.IsDialable(to) {
		return OutboundResult{}, fmt.Errorf("%w: to is not a dialable number", ErrValidation)
	}
	identity := strings.TrimSpace(req.Identity)
	if identity == "" || strings.TrimSpace(req.TenantID) == "" {
		return OutboundResult{}, fmt.Errorf("%w: tenant and identity are required", ErrValidation)
	}

	creds, err := r.dir.Credentials(ctx, req.TenantID)
	if err != nil {
		return OutboundResult{}, err
	}
	if creds.AppSID == "" {
		return OutboundResult{}, fmt.Errorf("%w: no outgoing application", tenant.ErrUnconfigured)
	}
	if err := r.requireAgent(ctx, req.TenantID, identity); err != nil {
		return OutboundResult{}, err
	}

	from, err := r.callerID(ctx, req.TenantID, req.From)
	if err != nil {
		return OutboundResult{}, err
	}

	call, err := r.calls.InsertCall(ctx, calls.VoiceCall{
		TenantID: req.TenantID,
		Identity: identity,
		Type:     calls.CallTypeOutbound,
		From:     from,
		To:       to,
		Status:   calls.CallStatusQueued,
	})
	if err != nil {
		return OutboundResult{}, err
	}

	tok, err := telephony.MintToken(r.now(), tokenParams(creds, identity, r.opts.TokenTTL))
	if err != nil {
		// The device will never dial; keep the row out of the open set.
		if uerr := r.calls.UpdateStatus(ctx, call.ID, calls.CallStatusFailed, 0); uerr != nil {
			logger.From(ctx).Error("mark outbound call failed", "call_id", call.ID, "err", uerr)
		}
		return OutboundResult{}, err
	}

	return OutboundResult{
		CallID:         call.ID,
		Token:          tok.JWT,
		ExpiresAt:      tok.ExpiresAt,
		ApplicationSID: creds.AppSID,
		Identity:       identity,
		From:           from,
		To:             to,
	}, nil
}

// MintToken issues a capability token for one of the tenant's agents.
func (r *Router) MintToken(ctx context.Context, tenantID, identity string) (telephony.Token, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || strings.TrimSpace(tenantID) == "" {
		return telephony.Token{}, fmt.Errorf("%w: tenant and identity are required", ErrValidation)
	}
	creds, err := r.dir.Credentials(ctx, tenantID)
	if err != nil {
		return telephony.Token{}, err
	}
	if err := r.requireAgent(ctx, tenantID, identity); err != nil {
		return telephony.Token{}, err
	}
	return telephony.MintToken(r.now(), tokenParams(creds, identity, r.opts.TokenTTL))
}

func (r *Router) requireAgent(ctx context.Context, tenantID, identity string) error {
	a, err := r.numbers.FindAgentByIdentity(ctx, tenantID, identity)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return fmt.Errorf("%w: unknown identity", ErrValidation)
		}
		return err
	}
	if !a.Active {
		return fmt.Errorf("%w: identity is inactive", ErrValidation)
	}
	return nil
}

// callerID validates a requested from number against the tenant, or picks the first active one.
func (r *Router) callerID(ctx context.Context, tenantID, requested string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		n, err := r.numbers.ActiveNumber(ctx, tenantID)
		if errors.Is(err, tenant.ErrNotFound) {
			return "", ErrNoNumber
		}
		if err != nil {
			return "", err
		}
		return n.Number, nil
	}

	t, num, err := r.dir.ResolveByNumber(ctx, requested)
	if errors.Is(err, tenant.ErrNotFound) || (err == nil && t.ID != tenantID) {
		return "", fmt.Errorf("%w: from number is not owned by the tenant", ErrValidation)
	}
	if err != nil {
		return "", err
	}
	if !num.Active {
		return "", fmt.Errorf("%w: from number is inactive", ErrValidation)
	}
	return num.Number, nil
}

func tokenParams(c tenant.Credentials, identity string, ttl time.Duration) telephony.TokenParams {
	return telephony.TokenParams{
		AccountSID: c.AccountSID,
		KeySID:     c.KeySID,
		KeySecret:  c.KeySecret,
		AppSID:     c.AppSID,
		Identity:   identity,
		TTL:        ttl,
	}
}
