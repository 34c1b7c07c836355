package telephony

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Twilio sends application/x-www-form-urlencoded webhooks.
// Ref: https://www.twilio.com/docs/usage/webhooks
//
// The parsers below only extract fields; no business decision is made here.
// Numbers are trimmed, not normalized; normalization belongs to the consumers.

// VoiceForm is an inbound call or TwiML-application voice request.
type VoiceForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
}

func ParseVoice(r *http.Request) (VoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceForm{}, err
	}
	return VoiceForm{
		CallSid:    field(r, "CallSid"),
		AccountSid: field(r, "AccountSid"),
		From:       field(r, "From"),
		To:         field(r, "To"),
		Direction:  field(r, "Direction"),
		CallStatus: field(r, "CallStatus"),
	}, nil
}

// CallStatusForm is a call status callback.
type CallStatusForm struct {
	CallSid         string
	AccountSid      string
	CallStatus      string
	From            string
	To              string
	Direction       string
	DurationSeconds int
	// Raw is the full posted form as JSON, kept for the audit trail.
	Raw string
}

func ParseCallStatus(r *http.Request) (CallStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return CallStatusForm{}, err
	}
	dur := field(r, "CallDuration")
	if dur == "" {
		dur = field(r, "Duration")
	}
	return CallStatusForm{
		CallSid:         field(r, "CallSid"),
		AccountSid:      field(r, "AccountSid"),
		CallStatus:      field(r, "CallStatus"),
		From:            field(r, "From"),
		To:              field(r, "To"),
		Direction:       field(r, "Direction"),
		DurationSeconds: atoi(dur),
		Raw:             rawForm(r),
	}, nil
}

// RecordingForm is a recording status callback.
type RecordingForm struct {
	CallSid           string
	AccountSid        string
	RecordingSid      string
	RecordingStatus   string
	RecordingURL      string
	RecordingDuration int
	Raw               string
}

func ParseRecording(r *http.Request) (RecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingForm{}, err
	}
	return RecordingForm{
		CallSid:           field(r, "CallSid"),
		AccountSid:        field(r, "AccountSid"),
		RecordingSid:      field(r, "RecordingSid"),
		RecordingStatus:   field(r, "RecordingStatus"),
		RecordingURL:      field(r, "RecordingUrl"),
		RecordingDuration: atoi(field(r, "RecordingDuration")),
		Raw:               rawForm(r),
	}, nil
}

// SMSForm is an inbound message.
type SMSForm struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
	// bodyPresent distinguishes an empty body from a missing field.
	bodyPresent bool
}

func ParseSMS(r *http.Request) (SMSForm, error) {
	if err := r.ParseForm(); err != nil {
		return SMSForm{}, err
	}
	sid := field(r, "MessageSid")
	if sid == "" {
		sid = field(r, "SmsSid")
	}
	_, hasBody := r.PostForm["Body"]
	return SMSForm{
		MessageSid:  sid,
		AccountSid:  field(r, "AccountSid"),
		From:        field(r, "From"),
		To:          field(r, "To"),
		Body:        r.PostFormValue("Body"),
		bodyPresent: hasBody,
	}, nil
}

// HasBody reports whether the Body field was posted at all.
func (f SMSForm) HasBody() bool { return f.bodyPresent }

// MessageStatusForm is an outbound message status callback.
type MessageStatusForm struct {
	MessageSid    string
	AccountSid    string
	MessageStatus string
	ErrorCode     string
}

func ParseMessageStatus(r *http.Request) (MessageStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return MessageStatusForm{}, err
	}
	status := field(r, "MessageStatus")
	if status == "" {
		status = field(r, "SmsStatus")
	}
	return MessageStatusForm{
		MessageSid:    field(r, "MessageSid"),
		AccountSid:    field(r, "AccountSid"),
		MessageStatus: status,
		ErrorCode:     field(r, "ErrorCode"),
	}, nil
}

// FormParams flattens the posted form to the single-valued map used for signature checks.
func FormParams(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func field(r *http.Request, key string) string {
	return strings.TrimSpace(r.PostFormValue(key))
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func rawForm(r *http.Request) string {
	b, err := json.Marshal(FormParams(r))
	if err != nil {
		return "{}"
	}
	return string(b)
}
