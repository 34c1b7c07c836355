package calls

import (
	"errors"
	"time"
)

// VoiceCall represents a tenant-scoped phone call.
//
// Correlation slots: CallbackCallID is filled once the provider's status-callback
// call id becomes known; RecordingCallID once a recording callback arrives.
// A call with both slots empty is open and can still be matched.
//
// Multi-tenant invariant: TenantID is required on every row.
type VoiceCall struct {
	ID       string   `json:"id" db:"id"`
	TenantID string   `json:"tenant_id" db:"tenant_id"`
	Identity string   `json:"identity,omitempty" db:"identity"`
	Type     CallType `json:"type" db:"type"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	CallbackCallID  string `json:"callback_call_id,omitempty" db:"callback_call_id"`
	RecordingCallID string `json:"recording_call_id,omitempty" db:"recording_call_id"`

	Status CallStatus `json:"status" db:"status"`

	// DurationSeconds is the call duration in seconds as last reported by the provider.
	DurationSeconds int `json:"duration" db:"duration_seconds"`

	RecordingSID string `json:"recording_sid,omitempty" db:"recording_sid"`
	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Open reports whether the call can still be matched by a first status callback.
// Failed calls never left the building and are excluded.
func (c VoiceCall) Open() bool {
	return c.CallbackCallID == "" && c.RecordingCallID == "" && c.Status != CallStatusFailed
}

type CallType string

const (
	CallTypeInbound  CallType = "inbound"
	CallTypeOutbound CallType = "outbound"
)

// CallStatus values follow the provider's vocabulary.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// CallStatusEvent is an immutable append-only record of one callback delivery.
// VoiceCallID is empty for orphaned callbacks, which are kept for audit only.
type CallStatusEvent struct {
	ID          string    `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id,omitempty" db:"tenant_id"`
	VoiceCallID string    `json:"voice_call_id,omitempty" db:"voice_call_id"`
	Kind        EventKind `json:"kind" db:"kind"`

	CallSID string `json:"call_sid" db:"call_sid"`
	Status  string `json:"status" db:"status"`
	From    string `json:"from,omitempty" db:"from_number"`
	To      string `json:"to,omitempty" db:"to_number"`

	DurationSeconds int    `json:"duration,omitempty" db:"duration_seconds"`
	RecordingSID    string `json:"recording_sid,omitempty" db:"recording_sid"`
	RecordingURL    string `json:"recording_url,omitempty" db:"recording_url"`

	// Payload is the raw callback form as JSON.
	Payload string `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventKind string

const (
	EventKindStatus    EventKind = "status"
	EventKindRecording EventKind = "recording"
)

// Outcome is the result of correlating one callback.
type Outcome string

const (
	// OutcomeRepeat: the CallSid was already bound to a call.
	OutcomeRepeat Outcome = "repeat"
	// OutcomeCorrelated: an open call was matched and stamped.
	OutcomeCorrelated Outcome = "correlated"
	// OutcomeOrphaned: nothing matched; the payload was kept for audit.
	OutcomeOrphaned Outcome = "orphaned"
	// OutcomeDuplicate: the same kind/CallSid/status was already recorded.
	OutcomeDuplicate Outcome = "duplicate"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Terminal reports whether the provider will send no further progress for the call.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return true
	}
	return false
}
