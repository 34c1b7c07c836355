package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"softphone-platform/internal/metrics"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/logger"
	"softphone-platform/pkg/phone"
)

// StatusCallbackPath receives outbound message status callbacks.
const StatusCallbackPath = "/webhooks/twilio/sms/status"

// DefaultHistoryLimit is the backlog size handed to a joining client.
const DefaultHistoryLimit = 50

// Directory is the subset of tenant.Directory used for messaging.
type Directory interface {
	ResolveByNumber(ctx context.Context, number string) (tenant.Tenant, tenant.ProviderNumber, error)
	Credentials(ctx context.Context, tenantID string) (tenant.Credentials, error)
}

// Numbers picks the tenant's outbound number.
type Numbers interface {
	ActiveNumber(ctx context.Context, tenantID string) (tenant.ProviderNumber, error)
}

// Sender is the provider send capability.
type Sender interface {
	SendMessage(ctx context.Context, acct telephony.Account, req telephony.SendMessageRequest) (telephony.SentMessage, error)
}

// Publisher delivers live updates to EventBus rooms.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any)
}

type Options struct {
	PublicBaseURL string
	HistoryLimit  int
}

// Router ingests inbound messages and sends outbound ones on behalf of tenants.
type Router struct {
	repo    Repository
	dir     Directory
	numbers Numbers
	sender  Sender
	pub     Publisher
	metrics *metrics.Metrics
	opts    Options
}

func NewRouter(repo Repository, dir Directory, numbers Numbers, sender Sender, pub Publisher, m *metrics.Metrics, opts Options) *Router {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Router{repo: repo, dir: dir, numbers: numbers, sender: sender, pub: pub, metrics: m, opts: opts}
}

// InboundSMS is an inbound message webhook. HasBody distinguishes an empty body from a missing one.
type InboundSMS struct {
	MessageSID string
	From       string
	To         string
	Body       string
	HasBody    bool
}

// HandleInbound stores an inbound message once per provider id and notifies live clients.
// A repeated delivery returns the stored message without side effects.
func (r *Router) HandleInbound(ctx context.Context, in InboundSMS) (Message, error) {
	sid := strings.TrimSpace(in.MessageSID)
	from := phone.Normalize(in.From)
	to := phone.Normalize(in.To)
	if sid == "" || from == "" || to == "" || !in.HasBody {
		return Message{}, fmt.Errorf("%w: MessageSid, From, To and Body are required", ErrValidation)
	}

	t, _, err := r.dir.ResolveByNumber(ctx, to)
	if err != nil {
		return Message{}, err
	}

	if existing, err := r.repo.FindByProviderID(ctx, sid); err == nil {
		logger.From(ctx).Info("duplicate inbound message", "message_sid", logger.Redact(sid))
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Message{}, err
	}

	conv, err := r.repo.FindOrCreateConversation(ctx, t.ID, from, phone.DisplayName(from))
	if err != nil {
		return Message{}, err
	}

	m, inserted, err := r.repo.InsertMessage(ctx, Message{
		TenantID:          t.ID,
		ConversationID:    conv.ID,
		Direction:         DirectionInbound,
		Body:              in.Body,
		Status:            StatusDelivered,
		ProviderMessageID: sid,
		From:              from,
		To:                to,
	})
	if err != nil {
		return Message{}, err
	}
	if !inserted {
		// Lost a race against a concurrent delivery of the same message.
		return r.repo.FindByProviderID(ctx, sid)
	}

	r.metrics.Message(string(DirectionInbound))
	r.announce(ctx, conv, m)
	return m, nil
}

type SendRequest struct {
	TenantID string
	To       string
	Body     string
	// ConversationID, when set, decides the destination and To is ignored.
	ConversationID string
	// Optimistic stores a "sending" row before the provider call and settles it afterwards.
	Optimistic bool
}

// Send delivers a message through the provider from the tenant's first active number.
//
// Without Optimistic nothing is stored unless the provider accepts the send.
// With Optimistic a failed send leaves the row in the failed state.
func (r *Router) Send(ctx context.Context, req SendRequest) (Message, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.Body) == "" {
		return Message{}, fmt.Errorf("%w: tenant and body are required", ErrValidation)
	}
	if strings.TrimSpace(req.ConversationID) == "" && !phone.IsDialable(req.To) {
		return Message{}, fmt.Errorf("%w: to must be a dialable number", ErrValidation)
	}

	creds, err := r.dir.Credentials(ctx, req.TenantID)
	if err != nil {
		return Message{}, err
	}
	from, err := r.numbers.ActiveNumber(ctx, req.TenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return Message{}, ErrNoNumber
	}
	if err != nil {
		return Message{}, err
	}

	conv, err := r.conversation(ctx, req)
	if err != nil {
		return Message{}, err
	}

	draft := Message{
		TenantID:       req.TenantID,
		ConversationID: conv.ID,
		Direction:      DirectionOutbound,
		Body:           req.Body,
		Status:         StatusSending,
		From:           from.Number,
		To:             conv.PhoneNumber,
	}
	if req.Optimistic {
		draft, _, err = r.repo.InsertMessage(ctx, draft)
		if err != nil {
			return Message{}, err
		}
	}

	sent, sendErr := r.sender.SendMessage(ctx, creds.Account(), telephony.SendMessageRequest{
		From:           from.Number,
		To:             conv.PhoneNumber,
		Body:           req.Body,
		StatusCallback: r.opts.PublicBaseURL + StatusCallbackPath,
	})
	if sendErr != nil {
		r.metrics.ProviderError("send_message")
		logger.From(ctx).Warn("provider send failed", "tenant_id", req.TenantID, "err", sendErr)
		if req.Optimistic {
			failed, err := r.repo.UpdateMessage(ctx, draft.ID, StatusFailed, "", errorCode(sendErr))
			if err != nil {
				logger.From(ctx).Error("mark message failed", "message_id", draft.ID, "err", err)
			} else {
				r.publish(ctx, ConversationRoom(conv.ID), "message_status", failed)
			}
		}
		return Message{}, sendErr
	}

	status := sent.Status
	if status == "" {
		status = "queued"
	}
	var m Message
	if req.Optimistic {
		m, err = r.repo.UpdateMessage(ctx, draft.ID, status, sent.SID, "")
	} else {
		draft.Status = status
		draft.ProviderMessageID = sent.SID
		m, _, err = r.repo.InsertMessage(ctx, draft)
	}
	if err != nil {
		return Message{}, err
	}

	r.metrics.Message(string(DirectionOutbound))
	r.announce(ctx, conv, m)
	return m, nil
}

func (r *Router) conversation(ctx context.Context, req SendRequest) (Conversation, error) {
	if id := strings.TrimSpace(req.ConversationID); id != "" {
		conv, err := r.repo.GetConversation(ctx, id)
		if err != nil {
			return Conversation{}, err
		}
		// Never reveal another tenant's conversation.
		if conv.TenantID != req.TenantID {
			return Conversation{}, ErrNotFound
		}
		return conv, nil
	}
	to := phone.Normalize(req.To)
	return r.repo.FindOrCreateConversation(ctx, req.TenantID, to, phone.DisplayName(to))
}

type MessageStatusCallback struct {
	MessageSID string
	Status     string
	ErrorCode  string
}

// HandleStatus applies a provider status update to the message it belongs to.
func (r *Router) HandleStatus(ctx context.Context, cb MessageStatusCallback) (Message, error) {
	sid := strings.TrimSpace(cb.MessageSID)
	status := strings.TrimSpace(cb.Status)
	if sid == "" || status == "" {
		return Message{}, fmt.Errorf("%w: MessageSid and MessageStatus are required", ErrValidation)
	}
	m, err := r.repo.UpdateStatusByProviderID(ctx, sid, status, strings.TrimSpace(cb.ErrorCode))
	if err != nil {
		return Message{}, err
	}
	r.publish(ctx, ConversationRoom(m.ConversationID), "message_status", m)
	return m, nil
}

// Conversation returns a conversation by id.
func (r *Router) Conversation(ctx context.Context, id string) (Conversation, error) {
	return r.repo.GetConversation(ctx, id)
}

// History returns the newest messages of a conversation, oldest first.
func (r *Router) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > r.opts.HistoryLimit*10 {
		limit = r.opts.HistoryLimit
	}
	return r.repo.RecentMessages(ctx, conversationID, limit)
}

// Conversations lists the tenant's conversations, most recently active first.
func (r *Router) Conversations(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return r.repo.ListConversations(ctx, tenantID, limit, offset)
}

func (r *Router) announce(ctx context.Context, conv Conversation, m Message) {
	r.publish(ctx, ConversationRoom(conv.ID), "new_message", m)
	r.publish(ctx, conv.TenantID, "message_created", map[string]any{
		"conversation": conv,
		"message":      m,
	})
}

func (r *Router) publish(ctx context.Context, room, event string, payload any) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(ctx, room, event, payload)
}

func errorCode(err error) string {
	var pe *telephony.ProviderError
	if errors.As(err, &pe) && pe.Code != 0 {
		return fmt.Sprint(pe.Code)
	}
	return ""
}
