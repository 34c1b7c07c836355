package routing

import "softphone-platform/internal/telephony"

// Decision is the provider-agnostic output of the router.
//
// It carries only what the call-control boundary needs to answer the provider.
// Conversion to a telephony.Document happens in Document.
type Decision struct {
	TenantID string `json:"tenant_id,omitempty"`

	Action Action `json:"action"`
	// Reason is set on declines and intended for logs/metrics.
	Reason Reason `json:"reason,omitempty"`

	CallerID       string   `json:"caller_id,omitempty"`
	Clients        []string `json:"clients,omitempty"`
	Numbers        []string `json:"numbers,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	StatusCallback string   `json:"status_callback,omitempty"`

	// RecordingCallback is set when the tenant's calls are recorded.
	RecordingCallback string `json:"recording_callback,omitempty"`
}

type Action string

const (
	ActionDial    Action = "dial"
	ActionDecline Action = "decline"
)

type Reason string

const (
	ReasonUnroutable         Reason = "unroutable"
	ReasonNoAgent            Reason = "no_agent"
	ReasonInvalidDestination Reason = "invalid_destination"
	ReasonInternalError      Reason = "internal_error"
)

// Spoken messages for declines. The caller never learns why beyond these.
const (
	sayUnroutable    = "We're sorry, the number you have called is not in service. Goodbye."
	sayNoAgent       = "We're sorry, no one is available to take your call right now. Please try again later."
	sayInvalidDest   = "We're sorry, that number cannot be dialed. Goodbye."
	sayInternalError = "We're sorry, we are unable to connect your call right now. Please try again later."
)

func decline(tenantID string, r Reason) Decision {
	return Decision{TenantID: tenantID, Action: ActionDecline, Reason: r}
}

// Document converts the decision into a call-control document.
// Declines always become a spoken apology followed by a hangup.
func (d Decision) Document() telephony.Document {
	if d.Action == ActionDial {
		return telephony.Document{Dial: &telephony.Dial{
			CallerID:          d.CallerID,
			TimeoutSeconds:    d.TimeoutSeconds,
			Clients:           d.Clients,
			Numbers:           d.Numbers,
			StatusCallback:    d.StatusCallback,
			RecordingCallback: d.RecordingCallback,
		}}
	}

	say := sayInternalError
	switch d.Reason {
	case ReasonUnroutable:
		say = sayUnroutable
	case ReasonNoAgent:
		say = sayNoAgent
	case ReasonInvalidDestination:
		say = sayInvalidDest
	}
	return telephony.Document{Say: say, Hangup: true}
}
