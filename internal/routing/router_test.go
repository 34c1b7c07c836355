package routing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"softphone-platform/internal/calls"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"

	"github.com/golang-jwt/jwt/v5"
)

type fixture struct {
	tenants *tenant.MemoryRepo
	calls   *calls.MemoryRepo
	router  *Router
	number  tenant.ProviderNumber
}

func newFixture(t *testing.T) fixture {
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

	crepo := calls.NewMemoryRepo()
	dir := tenant.NewDirectory(trepo, tenant.DirectoryOptions{})
	r := NewRouter(dir, trepo, crepo, Options{PublicBaseURL: "https://voice.example.test/"})
	r.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	return fixture{tenants: trepo, calls: crepo, router: r, number: num}
}

func render(t *testing.T, d Decision) string {
	t.Helper()
	xml, err := telephony.RenderTwiML(d.Document())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return xml
}

func TestRouteInbound_DialsAssignedAgent(t *testing.T) {
	f := newFixture(t)
	d := f.router.RouteInbound(context.Background(), InboundCall{CallSID: "CA1", From: "+19998887777", To: "(555) 000-1111"})

	if d.Action != ActionDial || d.TenantID != "T" {
		t.Fatalf("expected dial for T, got %+v", d)
	}
	if d.CallerID != "+15550001111" || d.TimeoutSeconds != 30 {
		t.Fatalf("unexpected caller id or timeout: %+v", d)
	}
	if d.StatusCallback != "https://voice.example.test/webhooks/twilio/voice/status" {
		t.Fatalf("unexpected status callback %q", d.StatusCallback)
	}
	xml := render(t, d)
	for _, want := range []string{">alice</Client>", `callerId="+15550001111"`, `timeout="30"`} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in %s", want, xml)
		}
	}
	if strings.Contains(d.StatusCallback, "?") {
		t.Fatalf("status callback must not carry a query: %s", d.StatusCallback)
	}
}

func TestRouteInbound_FanOutSkipsDeadAgents(t *testing.T) {
	f := newFixture(t)
	bob := f.tenants.PutAgent(tenant.Agent{TenantID: "T", Identity: "bob", Active: true})
	gone := f.tenants.PutAgent(tenant.Agent{TenantID: "T", Identity: "carol", Active: false})
	blank := f.tenants.PutAgent(tenant.Agent{TenantID: "T", Identity: " ", Active: true})
	f.tenants.Assign(f.number.ID, bob.ID)
	f.tenants.Assign(f.number.ID, gone.ID)
	f.tenants.Assign(f.number.ID, blank.ID)
	f.tenants.Assign(f.number.ID, "missing-agent")

	d := f.router.RouteInbound(context.Background(), InboundCall{From: "+19998887777", To: "+15550001111"})
	if d.Action != ActionDial {
		t.Fatalf("expected dial, got %+v", d)
	}
	if len(d.Clients) != 2 || d.Clients[0] != "alice" || d.Clients[1] != "bob" {
		t.Fatalf("expected alice and bob only, got %v", d.Clients)
	}
}

func TestRouteInbound_UnownedNumberApologizes(t *testing.T) {
	f := newFixture(t)
	d := f.router.RouteInbound(context.Background(), InboundCall{From: "+19998887777", To: "+15559990000"})
	if d.Action != ActionDecline || d.Reason != ReasonUnroutable {
		t.Fatalf("expected unroutable decline, got %+v", d)
	}
	xml := render(t, d)
	if !strings.Contains(xml, "<Say>") || !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("expected apology and hangup: %s", xml)
	}
}

func TestRouteInbound_NoAgent(t *testing.T) {
	f := newFixture(t)
	f.tenants.PutNumber(tenant.ProviderNumber{TenantID: "T", Number: "+15550002222", Active: true})

	d := f.router.RouteInbound(context.Background(), InboundCall{From: "+19998887777", To: "+15550002222"})
	if d.Reason != ReasonNoAgent {
		t.Fatalf("expected no_agent, got %+v", d)
	}
	if doc := d.Document(); doc.Dial != nil || !doc.Hangup {
		t.Fatalf("expected say+hangup document, got %+v", doc)
	}
}

type failingNumbers struct{ *tenant.MemoryRepo }

func (failingNumbers) AssignedAgents(ctx context.Context, numberID string) ([]tenant.Agent, error) {
	return nil, errors.New("db down")
}

func TestRouteInbound_StorageFailureIsInternalError(t *testing.T) {
	f := newFixture(t)
	r := NewRouter(tenant.NewDirectory(f.tenants, tenant.DirectoryOptions{}), failingNumbers{f.tenants}, f.calls, Options{})

	d := r.RouteInbound(context.Background(), InboundCall{From: "+19998887777", To: "+15550001111"})
	if d.Reason != ReasonInternalError {
		t.Fatalf("expected internal_error, got %+v", d)
	}
	render(t, d)
}

func TestStartOutbound_CreatesOpenRowBeforeToken(t *testing.T) {
	f := newFixture(t)
	res, err := f.router.StartOutbound(context.Background(), OutboundRequest{TenantID: "T", Identity: "alice", To: "5553334444"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.To != "+15553334444" || res.From != "+15550001111" || res.ApplicationSID != "APT" {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored := f.calls.Calls()
	if len(stored) != 1 {
		t.Fatalf("expected one call row, got %d", len(stored))
	}
	c := stored[0]
	if c.ID != res.CallID || !c.Open() || c.Type != calls.CallTypeOutbound || c.Identity != "alice" {
		t.Fatalf("expected open outbound row, got %+v", c)
	}

	parsed, err := jwt.Parse(res.Token, func(*jwt.Token) (any, error) { return []byte("key-secret"), nil },
		jwt.WithTimeFunc(func() time.Time { return time.Date(2024, 6, 1, 10, 1, 0, 0, time.UTC) }))
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
}

func TestStartOutbound_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []OutboundRequest{
		{TenantID: "T", Identity: "alice"},
		{TenantID: "T", Identity: "alice", To: "12"},
		{TenantID: "T", To: "+15553334444"},
		{TenantID: "T", Identity: "mallory", To: "+15553334444"},
		{TenantID: "T", Identity: "alice", From: "+15559990000", To: "+15553334444"},
	}
	for _, req := range cases {
		if _, err := f.router.StartOutbound(context.Background(), req); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", req, err)
		}
	}
	if n := len(f.calls.Calls()); n != 0 {
		t.Fatalf("rejected requests must not persist calls, got %d", n)
	}
}

func TestStartOutbound_Unconfigured(t *testing.T) {
	f := newFixture(t)
	f.tenants.PutTenant(tenant.Tenant{ID: "U", AccountSID: "ACU"})

	_, err := f.router.StartOutbound(context.Background(), OutboundRequest{TenantID: "U", Identity: "alice", To: "+15553334444"})
	if !errors.Is(err, tenant.ErrUnconfigured) {
		t.Fatalf("expected ErrUnconfigured, got %v", err)
	}
}

func TestStartOutbound_NoActiveNumber(t *testing.T) {
	f := newFixture(t)
	f.tenants.PutTenant(tenant.Tenant{ID: "N", AccountSID: "ACN", AuthToken: "t", APIKeySID: "SK", APIKeySecret: "s", AppSID: "AP"})
	f.tenants.PutAgent(tenant.Agent{TenantID: "N", Identity: "nina", Active: true})

	_, err := f.router.StartOutbound(context.Background(), OutboundRequest{TenantID: "N", Identity: "nina", To: "+15553334444"})
	if !errors.Is(err, ErrNoNumber) {
		t.Fatalf("expected ErrNoNumber, got %v", err)
	}
}

func TestRouteOutboundLeg_UsesOpenCallCallerID(t *testing.T) {
	f := newFixture(t)
	second := f.tenants.PutNumber(tenant.ProviderNumber{TenantID: "T", Number: "+15550002222", Active: true})
	if _, err := f.router.StartOutbound(context.Background(), OutboundRequest{TenantID: "T", Identity: "alice", From: second.Number, To: "+15553334444"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	d := f.router.RouteOutboundLeg(context.Background(), OutboundLeg{AccountSID: "ACT", From: "client:alice", To: "555-333-4444"})
	if d.Action != ActionDial || d.CallerID != second.Number {
		t.Fatalf("expected dial from open call number, got %+v", d)
	}
	if len(d.Numbers) != 1 || d.Numbers[0] != "+15553334444" {
		t.Fatalf("unexpected numbers: %v", d.Numbers)
	}
}

func TestRouteOutboundLeg_FallsBackToActiveNumber(t *testing.T) {
	f := newFixture(t)
	d := f.router.RouteOutboundLeg(context.Background(), OutboundLeg{AccountSID: "ACT", From: "client:alice", To: "+15553334444"})
	if d.CallerID != "+15550001111" {
		t.Fatalf("expected first active number, got %+v", d)
	}
}

func TestRouteOutboundLeg_Declines(t *testing.T) {
	f := newFixture(t)
	if d := f.router.RouteOutboundLeg(context.Background(), OutboundLeg{AccountSID: "ACX", From: "client:alice", To: "+15553334444"}); d.Reason != ReasonUnroutable {
		t.Fatalf("expected unroutable for unknown account, got %+v", d)
	}
	if d := f.router.RouteOutboundLeg(context.Background(), OutboundLeg{AccountSID: "ACT", From: "client:alice"}); d.Reason != ReasonInvalidDestination {
		t.Fatalf("expected invalid destination, got %+v", d)
	}
}

func TestMintToken(t *testing.T) {
	f := newFixture(t)
	tok, err := f.router.MintToken(context.Background(), "T", "alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if tok.JWT == "" || !tok.ExpiresAt.Equal(time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if _, err := f.router.MintToken(context.Background(), "T", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRouteInbound_RecordingCallbackWhenEnabled(t *testing.T) {
	f := newFixture(t)
	if d := f.router.RouteInbound(context.Background(), InboundCall{From: "+19998887777", To: "+15550001111"}); d.RecordingCallback != "" {
		t.Fatalf("recording must be off by default, got %q", d.RecordingCallback)
	}

	f.router.opts.Record = true
	d := f.router.RouteInbound(context.Background(), InboundCall{From: "+19998887777", To: "+15550001111"})
	if d.RecordingCallback != "https://voice.example.test/webhooks/twilio/voice/recording" {
		t.Fatalf("unexpected recording callback %q", d.RecordingCallback)
	}
}
