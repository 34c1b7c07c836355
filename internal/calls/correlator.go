package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"softphone-platform/internal/metrics"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/logger"
	"softphone-platform/pkg/phone"
)

// TenantResolver is the subset of tenant.Directory used to scope a callback search.
type TenantResolver interface {
	ResolveByNumber(ctx context.Context, number string) (tenant.Tenant, tenant.ProviderNumber, error)
	ResolveByAccount(ctx context.Context, accountSID string) (tenant.Tenant, error)
}

// Publisher delivers live updates to EventBus rooms.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any)
}

// StatusCallback is a call status callback as reported by the provider.
type StatusCallback struct {
	CallSID         string
	AccountSID      string
	Status          string
	From            string
	To              string
	DurationSeconds int
	Raw             string
}

// RecordingCallback is a recording status callback.
type RecordingCallback struct {
	CallSID         string
	AccountSID      string
	RecordingSID    string
	RecordingStatus string
	RecordingURL    string
	DurationSeconds int
	Raw             string
}

// Correlator matches provider callbacks, which carry no caller-chosen token,
// back to the VoiceCall rows that spawned them.
//
// Matching is a heuristic: the most recently created open call for the
// (from,to) or (identity,to) pair wins. Two concurrent calls between the same
// endpoints can therefore be mis-correlated. This is a known limitation of the
// provider contract and is covered by tests.
type Correlator struct {
	repo    Repository
	tenants TenantResolver
	pub     Publisher
	metrics *metrics.Metrics
}

func NewCorrelator(repo Repository, tenants TenantResolver, pub Publisher, m *metrics.Metrics) *Correlator {
	return &Correlator{repo: repo, tenants: tenants, pub: pub, metrics: m}
}

// stampAttempts bounds how often a lost stamp race is retried through the repeat lookup.
const stampAttempts = 2

// HandleStatus records one status callback. Unmatched callbacks are kept as
// orphaned audit entries and are not an error.
func (c *Correlator) HandleStatus(ctx context.Context, cb StatusCallback) (Outcome, error) {
	cb.CallSID = strings.TrimSpace(cb.CallSID)
	if cb.CallSID == "" || strings.TrimSpace(cb.Status) == "" {
		return "", fmt.Errorf("%w: CallSid and CallStatus are required", ErrInvalidArgument)
	}
	from, to := phone.Normalize(cb.From), phone.Normalize(cb.To)
	ev := CallStatusEvent{
		Kind:            EventKindStatus,
		CallSID:         cb.CallSID,
		Status:          strings.TrimSpace(cb.Status),
		From:            from,
		To:              to,
		DurationSeconds: cb.DurationSeconds,
		Payload:         cb.Raw,
	}

	outcome, err := c.correlateStatus(ctx, cb.AccountSID, ev)
	if err != nil {
		return "", err
	}
	c.metrics.Correlation(string(EventKindStatus), string(outcome))
	return outcome, nil
}

func (c *Correlator) correlateStatus(ctx context.Context, accountSID string, ev CallStatusEvent) (Outcome, error) {
	var scope string
	for attempt := 0; attempt < stampAttempts; attempt++ {
		call, err := c.repo.FindByCallbackID(ctx, ev.CallSID)
		if err == nil {
			return c.linked(ctx, call, ev, OutcomeRepeat)
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}

		if attempt == 0 {
			scope = c.scope(ctx, accountSID, ev.From, ev.To)
		}
		if identity := phone.ClientIdentity(ev.From); identity != "" {
			call, err = c.repo.FindOpenByIdentity(ctx, scope, identity, ev.To)
		} else {
			call, err = c.repo.FindOpenByNumbers(ctx, scope, ev.From, ev.To)
		}
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return "", err
		}

		ok, err := c.repo.StampCallback(ctx, call.ID, ev.CallSID)
		if err != nil {
			return "", err
		}
		if ok {
			call.CallbackCallID = ev.CallSID
			return c.linked(ctx, call, ev, OutcomeCorrelated)
		}
		logger.From(ctx).Debug("callback stamp lost race", "call_id", call.ID, "call_sid", logger.Redact(ev.CallSID))
	}
	ev.TenantID = scope
	return c.orphan(ctx, ev)
}

// HandleRecording correlates a recording callback through the call that owns
// the CallSid, then onto the most recent call of that identity with an empty
// recording slot.
func (c *Correlator) HandleRecording(ctx context.Context, cb RecordingCallback) (Outcome, error) {
	cb.CallSID = strings.TrimSpace(cb.CallSID)
	if cb.CallSID == "" {
		return "", fmt.Errorf("%w: CallSid is required", ErrInvalidArgument)
	}
	status := strings.TrimSpace(cb.RecordingStatus)
	if status == "" {
		status = "completed"
	}
	ev := CallStatusEvent{
		Kind:            EventKindRecording,
		CallSID:         cb.CallSID,
		Status:          status,
		DurationSeconds: cb.DurationSeconds,
		RecordingSID:    strings.TrimSpace(cb.RecordingSID),
		RecordingURL:    strings.TrimSpace(cb.RecordingURL),
		Payload:         cb.Raw,
	}

	outcome, err := c.correlateRecording(ctx, cb.AccountSID, ev)
	if err != nil {
		return "", err
	}
	c.metrics.Correlation(string(EventKindRecording), string(outcome))
	return outcome, nil
}

func (c *Correlator) correlateRecording(ctx context.Context, accountSID string, ev CallStatusEvent) (Outcome, error) {
	for attempt := 0; attempt < stampAttempts; attempt++ {
		call, err := c.repo.FindByRecordingID(ctx, ev.CallSID)
		if err == nil {
			return c.linked(ctx, call, ev, OutcomeRepeat)
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}

		src, err := c.repo.FindByCallbackID(ctx, ev.CallSID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return "", err
		}
		ev.TenantID = src.TenantID

		candidate := src
		if src.Identity != "" {
			candidate, err = c.repo.FindRecordingCandidate(ctx, src.TenantID, src.Identity)
			if errors.Is(err, ErrNotFound) {
				break
			}
			if err != nil {
				return "", err
			}
		} else if src.RecordingCallID != "" {
			break
		}

		ok, err := c.repo.StampRecording(ctx, candidate.ID, ev.CallSID, ev.RecordingSID, ev.RecordingURL)
		if err != nil {
			return "", err
		}
		if ok {
			candidate.RecordingCallID = ev.CallSID
			candidate.RecordingSID = ev.RecordingSID
			candidate.RecordingURL = ev.RecordingURL
			return c.linked(ctx, candidate, ev, OutcomeCorrelated)
		}
	}
	if ev.TenantID == "" {
		ev.TenantID = c.scope(ctx, accountSID, "", "")
	}
	return c.orphan(ctx, ev)
}

// linked appends ev against call and applies the reported status.
func (c *Correlator) linked(ctx context.Context, call VoiceCall, ev CallStatusEvent, outcome Outcome) (Outcome, error) {
	ev.TenantID = call.TenantID
	ev.VoiceCallID = call.ID

	inserted, err := c.repo.AppendEvent(ctx, ev)
	if err != nil {
		return "", err
	}
	if !inserted && outcome == OutcomeRepeat {
		return OutcomeDuplicate, nil
	}

	if ev.Kind == EventKindStatus {
		next := CallStatus(ev.Status)
		// Late progress callbacks must not reopen a finished call.
		if !call.Status.Terminal() || next.Terminal() {
			if err := c.repo.UpdateStatus(ctx, call.ID, next, ev.DurationSeconds); err != nil {
				return "", err
			}
			call.Status = next
			if ev.DurationSeconds > 0 {
				call.DurationSeconds = ev.DurationSeconds
			}
		}
	}

	if c.pub != nil {
		c.pub.Publish(ctx, call.TenantID, "call_status", map[string]any{
			"call_id":       call.ID,
			"call_sid":      ev.CallSID,
			"kind":          ev.Kind,
			"status":        call.Status,
			"event_status":  ev.Status,
			"type":          call.Type,
			"identity":      call.Identity,
			"from":          call.From,
			"to":            call.To,
			"duration":      call.DurationSeconds,
			"recording_url": call.RecordingURL,
		})
	}
	return outcome, nil
}

func (c *Correlator) orphan(ctx context.Context, ev CallStatusEvent) (Outcome, error) {
	inserted, err := c.repo.AppendEvent(ctx, ev)
	if err != nil {
		return "", err
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}
	logger.From(ctx).Info("callback not correlated",
		"kind", ev.Kind,
		"call_sid", logger.Redact(ev.CallSID),
		"status", ev.Status,
		"tenant_id", ev.TenantID,
	)
	return OutcomeOrphaned, nil
}

// scope picks the tenant a callback belongs to: the owner of a PSTN endpoint
// first, then the provider account. "" searches across tenants.
func (c *Correlator) scope(ctx context.Context, accountSID, from, to string) string {
	if c.tenants == nil {
		return ""
	}
	for _, n := range []string{from, to} {
		if n == "" || phone.IsClient(n) {
			continue
		}
		t, _, err := c.tenants.ResolveByNumber(ctx, n)
		if err == nil {
			return t.ID
		}
		if !errors.Is(err, tenant.ErrNotFound) {
			logger.From(ctx).Warn("callback tenant lookup failed", "err", err)
		}
	}
	if accountSID != "" {
		if t, err := c.tenants.ResolveByAccount(ctx, accountSID); err == nil {
			return t.ID
		}
	}
	return ""
}
