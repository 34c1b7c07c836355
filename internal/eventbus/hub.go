package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"softphone-platform/internal/messaging"
	"softphone-platform/internal/metrics"
	"softphone-platform/pkg/logger"
	"softphone-platform/pkg/phone"

	"github.com/google/uuid"
)

var (
	ErrInvalidJoin = errors.New("eventbus: phoneNumber, conversationId and tenantId are required")
	// ErrForbidden covers every ownership failure so callers cannot probe conversation ids.
	ErrForbidden = errors.New("eventbus: conversation not available")

	errQueueFull = errors.New("eventbus: client queue full")
)

// ConversationSource is the read side the hub needs to admit a client.
type ConversationSource interface {
	Conversation(ctx context.Context, id string) (messaging.Conversation, error)
	History(ctx context.Context, conversationID string, limit int) ([]messaging.Message, error)
}

// Envelope is the wire frame for every server event.
type Envelope struct {
	Event string `json:"event"`
	Room  string `json:"room,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type HubOptions struct {
	// Backlog is the number of recent messages sent once on join. Defaults to 50.
	Backlog int
	// QueueSize bounds each client's outbound queue. Defaults to 64.
	QueueSize int
	Metrics   *metrics.Metrics
}

// Client is one connected subscriber. TenantID is the authenticated tenant, if any.
type Client struct {
	ID       string
	TenantID string
	send     chan []byte
}

// Frames yields the client's outbound frames. It is closed on Unregister.
func (c *Client) Frames() <-chan []byte { return c.send }

type membership struct {
	conversation string
	tenant       string

	// While a join reads the backlog, frames for the client are held here
	// instead of queued. Concurrent delivers share h.mu's read lock.
	holdMu  sync.Mutex
	holding bool
	held    [][]byte
}

// hold buffers frame when a join is in flight. It reports false when the
// frame was not held, or when the buffer is full (the client must be dropped).
func (m *membership) hold(frame []byte, limit int) (held, ok bool) {
	m.holdMu.Lock()
	defer m.holdMu.Unlock()
	if !m.holding {
		return false, true
	}
	if len(m.held) >= limit {
		return true, false
	}
	m.held = append(m.held, frame)
	return true, true
}

func (m *membership) release() [][]byte {
	m.holdMu.Lock()
	defer m.holdMu.Unlock()
	out := m.held
	m.holding = false
	m.held = nil
	return out
}

// Hub is the process-wide room registry.
//
// Publish never blocks: each client has a bounded queue and a client whose
// queue is full is disconnected.
type Hub struct {
	src  ConversationSource
	opts HubOptions

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]*membership

	forward func(ctx context.Context, room string, frame []byte)
}

func NewHub(src ConversationSource, opts HubOptions) *Hub {
	if opts.Backlog <= 0 {
		opts.Backlog = messaging.DefaultHistoryLimit
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Hub{
		src:     src,
		opts:    opts,
		rooms:   map[string]map[*Client]struct{}{},
		clients: map[*Client]*membership{},
	}
}

// Register adds a client holding no subscriptions yet.
func (h *Hub) Register(tenantID string) *Client {
	c := &Client{ID: uuid.NewString(), TenantID: tenantID, send: make(chan []byte, h.opts.QueueSize)}
	h.mu.Lock()
	h.clients[c] = &membership{}
	h.mu.Unlock()
	return c
}

// Unregister removes every subscription of c and closes its queue. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	m, ok := h.clients[c]
	if !ok {
		return
	}
	h.leaveLocked(c, m.conversation)
	h.leaveLocked(c, m.tenant)
	delete(h.clients, c)
	close(c.send)
}

type JoinRequest struct {
	PhoneNumber    string `json:"phoneNumber"`
	ConversationID string `json:"conversationId"`
	TenantID       string `json:"tenantId"`
}

// Join admits c to a conversation after checking that the conversation belongs
// to the claimed tenant and that the phone number matches. Any previous
// conversation is left. join_success and the backlog are queued before any
// later publish can reach the client. A message published while the backlog is
// read is delivered once, in the backlog or right after it.
func (h *Hub) Join(ctx context.Context, c *Client, req JoinRequest) (messaging.Conversation, error) {
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.ConversationID == "" || req.TenantID == "" || strings.TrimSpace(req.PhoneNumber) == "" {
		return messaging.Conversation{}, ErrInvalidJoin
	}
	if c.TenantID != "" && c.TenantID != req.TenantID {
		return messaging.Conversation{}, ErrForbidden
	}

	conv, err := h.src.Conversation(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, messaging.ErrNotFound) {
			return messaging.Conversation{}, ErrForbidden
		}
		return messaging.Conversation{}, err
	}
	if conv.TenantID != req.TenantID || !phone.Equal(conv.PhoneNumber, req.PhoneNumber) {
		logger.From(ctx).Warn("eventbus join rejected", "client_id", c.ID, "tenant_id", req.TenantID)
		return messaging.Conversation{}, ErrForbidden
	}

	room := messaging.ConversationRoom(conv.ID)

	// Join the rooms before reading the backlog so a message stored in
	// between is either in the backlog or held for replay.
	h.mu.Lock()
	m, ok := h.clients[c]
	if !ok {
		h.mu.Unlock()
		return messaging.Conversation{}, ErrForbidden
	}
	h.leaveLocked(c, m.conversation)
	if m.tenant != conv.TenantID {
		h.leaveLocked(c, m.tenant)
	}
	m.conversation = room
	m.tenant = conv.TenantID
	h.joinLocked(c, m.conversation)
	h.joinLocked(c, m.tenant)
	m.holdMu.Lock()
	m.holding = true
	m.holdMu.Unlock()
	h.mu.Unlock()

	backlog, histErr := h.src.History(ctx, conv.ID, h.opts.Backlog)

	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok = h.clients[c]; !ok {
		// Dropped while the backlog was read.
		return messaging.Conversation{}, errQueueFull
	}
	held := m.release()

	var frames [][]byte
	if histErr != nil {
		h.leaveLocked(c, m.conversation)
		m.conversation = ""
		frames = dropRoom(held, room)
	} else {
		joined, _ := json.Marshal(Envelope{Event: "join_success", Data: map[string]any{"conversation": conv}})
		history, _ := json.Marshal(Envelope{Event: "backlog", Room: room, Data: backlog})
		frames = append([][]byte{joined, history}, dropBacklogged(held, room, backlog)...)
	}
	for _, frame := range frames {
		if !h.enqueueLocked(c, frame) {
			h.unregisterLocked(c)
			h.opts.Metrics.SubscriberDropped()
			return messaging.Conversation{}, errQueueFull
		}
	}
	if histErr != nil {
		return messaging.Conversation{}, histErr
	}
	return conv, nil
}

type frameHeader struct {
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
}

// dropBacklogged removes new_message frames for room whose message is already in backlog.
func dropBacklogged(frames [][]byte, room string, backlog []messaging.Message) [][]byte {
	if len(frames) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(backlog))
	for _, msg := range backlog {
		seen[msg.ID] = struct{}{}
	}
	out := frames[:0]
	for _, frame := range frames {
		var hdr frameHeader
		if json.Unmarshal(frame, &hdr) == nil && hdr.Event == "new_message" && hdr.Room == room {
			var msg struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(hdr.Data, &msg) == nil {
				if _, dup := seen[msg.ID]; dup {
					continue
				}
			}
		}
		out = append(out, frame)
	}
	return out
}

func dropRoom(frames [][]byte, room string) [][]byte {
	out := frames[:0]
	for _, frame := range frames {
		var hdr frameHeader
		if json.Unmarshal(frame, &hdr) == nil && hdr.Room == room {
			continue
		}
		out = append(out, frame)
	}
	return out
}

// Publish delivers event to every member of room on this instance and, when a
// relay is attached, to the other instances.
func (h *Hub) Publish(ctx context.Context, room, event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Room: room, Data: payload})
	if err != nil {
		logger.From(ctx).Error("eventbus marshal failed", "event", event, "err", err)
		return
	}
	h.deliver(room, frame)
	if h.forward != nil {
		h.forward(ctx, room, frame)
	}
}

// SendTo queues an event for a single client. It reports false when the client is gone or was dropped.
func (h *Hub) SendTo(c *Client, event string, payload any) bool {
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	if !h.enqueueLocked(c, frame) {
		h.unregisterLocked(c)
		h.opts.Metrics.SubscriberDropped()
		return false
	}
	return true
}

// deliver fans frame out to local members of room, dropping clients that cannot keep up.
func (h *Hub) deliver(room string, frame []byte) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.rooms[room] {
		if held, ok := h.clients[c].hold(frame, h.opts.QueueSize); held {
			if !ok {
				slow = append(slow, c)
			}
			continue
		}
		if !h.enqueueLocked(c, frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		h.unregisterLocked(c)
		h.opts.Metrics.SubscriberDropped()
	}
	h.mu.Unlock()
}

// enqueueLocked requires h.mu held (read or write). Close only happens under the write lock.
func (h *Hub) enqueueLocked(c *Client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = map[*Client]struct{}{}
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if room == "" {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount reports rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Rooms returns the rooms c currently belongs to.
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.clients[c]
	if !ok {
		return nil
	}
	var out []string
	for _, r := range []string{m.conversation, m.tenant} {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
