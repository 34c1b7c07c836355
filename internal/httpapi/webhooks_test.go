package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"softphone-platform/internal/calls"
	"softphone-platform/internal/messaging"
	"softphone-platform/internal/routing"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
	m.Run()
}

type stack struct {
	tenants  *tenant.MemoryRepo
	calls    *calls.MemoryRepo
	messages *messaging.MemoryRepo
	engine   *gin.Engine
}

func newStack(t *testing.T) stack {
	t.Helper()
	trepo := tenant.NewMemoryRepo()
	trepo.PutTenant(tenant.Tenant{
		ID:           "T",
		AccountSID:   "ACT",
		AuthToken:    "tok",
		APIKeySID:    "SKT",
		APIKeySecret: "key-secret",
		AppSID:       "APT",
	})
	num := trepo.PutNumber(tenant.ProviderNumber{TenantID: "T", Number: "+15550001111", Active: true})
	alice := trepo.PutAgent(tenant.Agent{TenantID: "T", Identity: "alice", Active: true})
	trepo.Assign(num.ID, alice.ID)

	dir := tenant.NewDirectory(trepo, tenant.DirectoryOptions{})
	crepo := calls.NewMemoryRepo()
	mrepo := messaging.NewMemoryRepo()
	h := Webhooks{
		Voice:    routing.NewRouter(dir, trepo, crepo, routing.Options{PublicBaseURL: "https://voice.example.test"}),
		Calls:    calls.NewCorrelator(crepo, dir, nil, nil),
		Messages: messaging.NewRouter(mrepo, dir, trepo, telephony.NewMemoryProvider(), nil, nil, messaging.Options{}),
	}

	r := gin.New()
	r.POST("/webhooks/twilio/voice", h.VoiceInbound)
	r.POST("/webhooks/twilio/voice/outbound", h.VoiceOutbound)
	r.POST("/webhooks/twilio/voice/status", h.VoiceStatus)
	r.POST("/webhooks/twilio/voice/recording", h.VoiceRecording)
	r.POST("/webhooks/twilio/sms", h.SMS)
	r.POST("/webhooks/twilio/sms/status", h.SMSStatus)
	return stack{tenants: trepo, calls: crepo, messages: mrepo, engine: r}
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhooks_InboundCallThenOrphanedStatus(t *testing.T) {
	s := newStack(t)

	w := postForm(s.engine, "/webhooks/twilio/voice", url.Values{
		"CallSid":    {"CA123"},
		"AccountSid": {"ACT"},
		"From":       {"+19998887777"},
		"To":         {"+15550001111"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"<Dial", `callerId="+15550001111"`, `timeout="30"`, ">alice</Client>"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in %s", want, body)
		}
	}

	w = postForm(s.engine, "/webhooks/twilio/voice/status", url.Values{
		"CallSid":    {"CA123"},
		"AccountSid": {"ACT"},
		"CallStatus": {"completed"},
		"From":       {"+19998887777"},
		"To":         {"+15550001111"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for an unmatched status, got %d", w.Code)
	}
	events := s.calls.Events()
	if len(events) != 1 || events[0].VoiceCallID != "" || events[0].TenantID != "T" {
		t.Fatalf("expected one orphaned event scoped to T, got %+v", events)
	}
}

func TestWebhooks_UnknownNumberStillAnswersWithDocument(t *testing.T) {
	s := newStack(t)
	w := postForm(s.engine, "/webhooks/twilio/voice", url.Values{
		"CallSid": {"CA1"},
		"From":    {"+19998887777"},
		"To":      {"+15559990000"},
	})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("expected 200 apology document, got %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestWebhooks_OutboundLegDialsDestination(t *testing.T) {
	s := newStack(t)
	w := postForm(s.engine, "/webhooks/twilio/voice/outbound", url.Values{
		"CallSid":    {"CA9"},
		"AccountSid": {"ACT"},
		"From":       {"client:alice"},
		"To":         {"+19998887777"},
	})
	body := w.Body.String()
	if w.Code != http.StatusOK || !strings.Contains(body, ">+19998887777</Number>") {
		t.Fatalf("expected dial to the destination, got %d %s", w.Code, body)
	}
}

func TestWebhooks_SMSStatusCodes(t *testing.T) {
	s := newStack(t)
	inbound := url.Values{
		"MessageSid": {"SM1"},
		"From":       {"+19998887777"},
		"To":         {"+15550001111"},
		"Body":       {"hi"},
	}

	if w := postForm(s.engine, "/webhooks/twilio/sms", inbound); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := postForm(s.engine, "/webhooks/twilio/sms", inbound); w.Code != http.StatusOK {
		t.Fatalf("expected duplicate delivery to succeed, got %d", w.Code)
	}
	if n := len(s.messages.Messages()); n != 1 {
		t.Fatalf("expected one stored message, got %d", n)
	}

	missing := url.Values{"MessageSid": {"SM2"}, "From": {"+19998887777"}, "To": {"+15550001111"}}
	if w := postForm(s.engine, "/webhooks/twilio/sms", missing); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Body, got %d", w.Code)
	}

	unowned := url.Values{"MessageSid": {"SM3"}, "From": {"+19998887777"}, "To": {"+15559990000"}, "Body": {"x"}}
	if w := postForm(s.engine, "/webhooks/twilio/sms", unowned); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unowned number, got %d", w.Code)
	}

	status := url.Values{"MessageSid": {"SM-unknown"}, "MessageStatus": {"delivered"}}
	if w := postForm(s.engine, "/webhooks/twilio/sms/status", status); w.Code != http.StatusOK {
		t.Fatalf("expected unknown status callbacks to be acknowledged, got %d", w.Code)
	}
}

type failingMessages struct{ err error }

func (f failingMessages) HandleInbound(ctx context.Context, in messaging.InboundSMS) (messaging.Message, error) {
	return messaging.Message{}, f.err
}

func (f failingMessages) HandleStatus(ctx context.Context, cb messaging.MessageStatusCallback) (messaging.Message, error) {
	return messaging.Message{}, f.err
}

type failingCorrelator struct{ err error }

func (f failingCorrelator) HandleStatus(ctx context.Context, cb calls.StatusCallback) (calls.Outcome, error) {
	return "", f.err
}

func (f failingCorrelator) HandleRecording(ctx context.Context, cb calls.RecordingCallback) (calls.Outcome, error) {
	return "", f.err
}

func TestWebhooks_StorageFailuresAre500(t *testing.T) {
	boom := errors.New("db down")
	h := Webhooks{Messages: failingMessages{err: boom}, Calls: failingCorrelator{err: boom}}
	r := gin.New()
	r.POST("/sms", h.SMS)
	r.POST("/status", h.VoiceStatus)

	form := url.Values{"MessageSid": {"SM1"}, "From": {"+19998887777"}, "To": {"+15550001111"}, "Body": {"x"}}
	if w := postForm(r, "/sms", form); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if w := postForm(r, "/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}

	h.Calls = failingCorrelator{err: calls.ErrInvalidArgument}
	r = gin.New()
	r.POST("/status", h.VoiceStatus)
	if w := postForm(r, "/status", url.Values{}); w.Code != http.StatusOK {
		t.Fatalf("expected malformed status callbacks to be acknowledged, got %d", w.Code)
	}
}
