package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"softphone-platform/internal/messaging"

	"github.com/gorilla/websocket"
)

type fakeSender struct {
	got []messaging.SendRequest
	err error
}

func (f *fakeSender) Send(ctx context.Context, req messaging.SendRequest) (messaging.Message, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return messaging.Message{}, f.err
	}
	return messaging.Message{ID: "m1", TenantID: req.TenantID, ConversationID: req.ConversationID, Body: req.Body, Status: messaging.StatusSending}, nil
}

func dial(t *testing.T, srv *Server, tenantID string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.Serve(w, r, tenantID)
	}))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env.Event, env.Data
}

func TestServer_JoinThenSend(t *testing.T) {
	repo := messaging.NewMemoryRepo()
	conv := seed(t, repo, "T1", "+15551234567", 2)
	sender := &fakeSender{}
	srv := NewServer(NewHub(memSource{repo}, HubOptions{}), sender, nil)
	conn := dial(t, srv, "T1")

	if err := conn.WriteJSON(map[string]any{"event": "send_message", "data": map[string]string{"body": "early"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev, _ := readEvent(t, conn); ev != "error" {
		t.Fatalf("send before join must fail, got %s", ev)
	}

	join := map[string]any{"event": "join", "data": map[string]string{
		"phoneNumber": conv.PhoneNumber, "conversationId": conv.ID, "tenantId": "T1",
	}}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev, _ := readEvent(t, conn); ev != "join_success" {
		t.Fatalf("expected join_success, got %s", ev)
	}
	ev, data := readEvent(t, conn)
	if ev != "backlog" {
		t.Fatalf("expected backlog, got %s", ev)
	}
	var backlog []messaging.Message
	if err := json.Unmarshal(data, &backlog); err != nil || len(backlog) != 2 {
		t.Fatalf("expected 2 backlog messages, got %v (%v)", backlog, err)
	}

	if err := conn.WriteJSON(map[string]any{"event": "send_message", "data": map[string]string{"body": "hello"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev, _ := readEvent(t, conn); ev != "message_sent" {
		t.Fatalf("expected message_sent, got %s", ev)
	}
	if len(sender.got) != 1 || sender.got[0].ConversationID != conv.ID || !sender.got[0].Optimistic || sender.got[0].TenantID != "T1" {
		t.Fatalf("unexpected send request: %+v", sender.got)
	}
}

func TestServer_RejectsForeignJoin(t *testing.T) {
	repo := messaging.NewMemoryRepo()
	conv := seed(t, repo, "T2", "+15551234567", 0)
	srv := NewServer(NewHub(memSource{repo}, HubOptions{}), &fakeSender{}, nil)
	conn := dial(t, srv, "T1")

	join := map[string]any{"event": "join", "data": map[string]string{
		"phoneNumber": conv.PhoneNumber, "conversationId": conv.ID, "tenantId": "T2",
	}}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev, data := readEvent(t, conn)
	if ev != "error" {
		t.Fatalf("expected error, got %s", ev)
	}
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	if body["success"] != false || body["error"] != "conversation not available" {
		t.Fatalf("unexpected error body: %v", body)
	}
}
