package messaging

import (
	"errors"
	"time"
)

// Conversation is the thread between a tenant and one external phone number.
// PhoneNumber is stored normalized and is unique per tenant.
type Conversation struct {
	ID            string     `json:"id" db:"id"`
	TenantID      string     `json:"tenant_id" db:"tenant_id"`
	PhoneNumber   string     `json:"phone_number" db:"phone_number"`
	DisplayName   string     `json:"display_name" db:"display_name"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// ConversationRoom is the EventBus room for a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

type Message struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Direction      Direction `json:"direction" db:"direction"`
	Body           string    `json:"body" db:"body"`
	Status         string    `json:"status" db:"status"`

	// ProviderMessageID de-duplicates webhook deliveries; empty until the provider accepts a send.
	ProviderMessageID string `json:"provider_message_id,omitempty" db:"provider_message_id"`

	From      string `json:"from" db:"from_number"`
	To        string `json:"to" db:"to_number"`
	ErrorCode string `json:"error_code,omitempty" db:"error_code"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Local statuses. Provider-reported statuses (queued, sent, delivered, undelivered, ...) are stored verbatim.
const (
	StatusDelivered = "delivered"
	StatusSending   = "sending"
	StatusFailed    = "failed"
)

var (
	ErrNotFound   = errors.New("messaging: not found")
	ErrValidation = errors.New("messaging: validation failed")
	// ErrNoNumber means the tenant has no active number to send from.
	ErrNoNumber = errors.New("messaging: tenant has no active number")
)
