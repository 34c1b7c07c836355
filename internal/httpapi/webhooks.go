package httpapi

import (
	"context"
	"errors"
	"net/http"

	"softphone-platform/internal/calls"
	"softphone-platform/internal/messaging"
	"softphone-platform/internal/metrics"
	"softphone-platform/internal/routing"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// VoiceRouter produces call-control decisions for voice webhooks.
type VoiceRouter interface {
	RouteInbound(ctx context.Context, in routing.InboundCall) routing.Decision
	RouteOutboundLeg(ctx context.Context, leg routing.OutboundLeg) routing.Decision
}

// CallCorrelator records call and recording status callbacks.
type CallCorrelator interface {
	HandleStatus(ctx context.Context, cb calls.StatusCallback) (calls.Outcome, error)
	HandleRecording(ctx context.Context, cb calls.RecordingCallback) (calls.Outcome, error)
}

// InboundMessages handles provider-originated message webhooks.
type InboundMessages interface {
	HandleInbound(ctx context.Context, in messaging.InboundSMS) (messaging.Message, error)
	HandleStatus(ctx context.Context, cb messaging.MessageStatusCallback) (messaging.Message, error)
}

// Webhooks serves the provider callbacks. Signature checks run in middleware
// before these handlers.
type Webhooks struct {
	Voice    VoiceRouter
	Calls    CallCorrelator
	Messages InboundMessages
	Metrics  *metrics.Metrics
}

// VoiceInbound answers an inbound PSTN call. The provider always gets a 200 and a document.
func (h Webhooks) VoiceInbound(c *gin.Context) {
	form, err := telephony.ParseVoice(c.Request)
	if err != nil {
		h.Metrics.Webhook("voice_inbound", "invalid")
		telephony.WriteTwiML(c, routing.Decision{Action: routing.ActionDecline, Reason: routing.ReasonInternalError}.Document())
		return
	}
	d := h.Voice.RouteInbound(c.Request.Context(), routing.InboundCall{CallSID: form.CallSid, From: form.From, To: form.To})
	h.Metrics.Webhook("voice_inbound", decisionResult(d))
	telephony.WriteTwiML(c, d.Document())
}

// VoiceOutbound answers the leg a browser device opens through the TwiML application.
func (h Webhooks) VoiceOutbound(c *gin.Context) {
	form, err := telephony.ParseVoice(c.Request)
	if err != nil {
		h.Metrics.Webhook("voice_outbound", "invalid")
		telephony.WriteTwiML(c, routing.Decision{Action: routing.ActionDecline, Reason: routing.ReasonInternalError}.Document())
		return
	}
	d := h.Voice.RouteOutboundLeg(c.Request.Context(), routing.OutboundLeg{
		CallSID:    form.CallSid,
		AccountSID: form.AccountSid,
		From:       form.From,
		To:         form.To,
	})
	h.Metrics.Webhook("voice_outbound", decisionResult(d))
	telephony.WriteTwiML(c, d.Document())
}

func decisionResult(d routing.Decision) string {
	if d.Action == routing.ActionDial {
		return string(routing.ActionDial)
	}
	return string(d.Reason)
}

// VoiceStatus records a call status callback. Unmatched callbacks are still a 200.
func (h Webhooks) VoiceStatus(c *gin.Context) {
	form, err := telephony.ParseCallStatus(c.Request)
	if err != nil {
		h.Metrics.Webhook("voice_status", "invalid")
		c.Status(http.StatusBadRequest)
		return
	}
	outcome, err := h.Calls.HandleStatus(c.Request.Context(), calls.StatusCallback{
		CallSID:         form.CallSid,
		AccountSID:      form.AccountSid,
		Status:          form.CallStatus,
		From:            form.From,
		To:              form.To,
		DurationSeconds: form.DurationSeconds,
		Raw:             form.Raw,
	})
	h.ack(c, "voice_status", outcome, err)
}

// VoiceRecording records a recording status callback.
func (h Webhooks) VoiceRecording(c *gin.Context) {
	form, err := telephony.ParseRecording(c.Request)
	if err != nil {
		h.Metrics.Webhook("voice_recording", "invalid")
		c.Status(http.StatusBadRequest)
		return
	}
	outcome, err := h.Calls.HandleRecording(c.Request.Context(), calls.RecordingCallback{
		CallSID:         form.CallSid,
		AccountSID:      form.AccountSid,
		RecordingSID:    form.RecordingSid,
		RecordingStatus: form.RecordingStatus,
		RecordingURL:    form.RecordingURL,
		DurationSeconds: form.RecordingDuration,
		Raw:             form.Raw,
	})
	h.ack(c, "voice_recording", outcome, err)
}

// ack answers a status callback. Malformed callbacks are acknowledged so the
// provider does not retry them; only storage failures surface as 500.
func (h Webhooks) ack(c *gin.Context, kind string, outcome calls.Outcome, err error) {
	switch {
	case err == nil:
		h.Metrics.Webhook(kind, string(outcome))
		c.Status(http.StatusOK)
	case errors.Is(err, calls.ErrInvalidArgument):
		logger.FromGin(c).Info("status callback ignored", "kind", kind, "err", err)
		h.Metrics.Webhook(kind, "invalid")
		c.Status(http.StatusOK)
	default:
		logger.FromGin(c).Error("status callback failed", "kind", kind, "err", err)
		h.Metrics.Webhook(kind, "error")
		c.Status(http.StatusInternalServerError)
	}
}

// SMS stores an inbound message: 400 on missing fields, 404 when no tenant owns To.
func (h Webhooks) SMS(c *gin.Context) {
	form, err := telephony.ParseSMS(c.Request)
	if err != nil {
		h.Metrics.Webhook("sms_inbound", "invalid")
		c.Status(http.StatusBadRequest)
		return
	}
	_, err = h.Messages.HandleInbound(c.Request.Context(), messaging.InboundSMS{
		MessageSID: form.MessageSid,
		From:       form.From,
		To:         form.To,
		Body:       form.Body,
		HasBody:    form.HasBody(),
	})
	log := logger.FromGin(c).With("message_sid", logger.Redact(form.MessageSid))
	switch {
	case err == nil:
		h.Metrics.Webhook("sms_inbound", "ok")
		c.Status(http.StatusOK)
	case errors.Is(err, messaging.ErrValidation):
		log.Info("inbound message rejected", "err", err)
		h.Metrics.Webhook("sms_inbound", "invalid")
		c.Status(http.StatusBadRequest)
	case errors.Is(err, tenant.ErrNotFound):
		log.Info("inbound message for unowned number", "to", form.To)
		h.Metrics.Webhook("sms_inbound", "not_found")
		c.Status(http.StatusNotFound)
	default:
		log.Error("inbound message failed", "err", err)
		h.Metrics.Webhook("sms_inbound", "error")
		c.Status(http.StatusInternalServerError)
	}
}

// SMSStatus applies a delivery status update. Unknown messages are acknowledged.
func (h Webhooks) SMSStatus(c *gin.Context) {
	form, err := telephony.ParseMessageStatus(c.Request)
	if err != nil {
		h.Metrics.Webhook("sms_status", "invalid")
		c.Status(http.StatusBadRequest)
		return
	}
	_, err = h.Messages.HandleStatus(c.Request.Context(), messaging.MessageStatusCallback{
		MessageSID: form.MessageSid,
		Status:     form.MessageStatus,
		ErrorCode:  form.ErrorCode,
	})
	switch {
	case err == nil:
		h.Metrics.Webhook("sms_status", "ok")
		c.Status(http.StatusOK)
	case errors.Is(err, messaging.ErrNotFound), errors.Is(err, messaging.ErrValidation):
		logger.FromGin(c).Info("message status ignored", "message_sid", logger.Redact(form.MessageSid), "err", err)
		h.Metrics.Webhook("sms_status", "ignored")
		c.Status(http.StatusOK)
	default:
		logger.FromGin(c).Error("message status failed", "err", err)
		h.Metrics.Webhook("sms_status", "error")
		c.Status(http.StatusInternalServerError)
	}
}
