package messaging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      []Message
	clock         time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		conversations: map[string]Conversation{},
		clock:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *MemoryRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Millisecond)
	return r.clock
}

func (r *MemoryRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindOrCreateConversation(ctx context.Context, tenantID, phoneNumber, displayName string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.TenantID == tenantID && c.PhoneNumber == phoneNumber {
			return c, nil
		}
	}
	c := Conversation{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		PhoneNumber: phoneNumber,
		DisplayName: displayName,
		CreatedAt:   r.tick(),
	}
	r.conversations[c.ID] = c
	return c, nil
}

func (r *MemoryRepo) ListConversations(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conversation
	for _, c := range r.conversations {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return recency(out[i]).After(recency(out[j])) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func recency(c Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (r *MemoryRepo) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ProviderMessageID != "" {
		for _, existing := range r.messages {
			if existing.ProviderMessageID == m.ProviderMessageID {
				return m, false, nil
			}
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.tick()
	}
	m.UpdatedAt = m.CreatedAt
	r.messages = append(r.messages, m)

	if c, ok := r.conversations[m.ConversationID]; ok {
		at := m.CreatedAt
		c.LastMessageAt = &at
		r.conversations[c.ID] = c
	}
	return m, true, nil
}

func (r *MemoryRepo) FindByProviderID(ctx context.Context, providerMessageID string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if providerMessageID == "" {
		return Message{}, ErrNotFound
	}
	for _, m := range r.messages {
		if m.ProviderMessageID == providerMessageID {
			return m, nil
		}
	}
	return Message{}, ErrNotFound
}

func (r *MemoryRepo) UpdateMessage(ctx context.Context, id, status, providerMessageID, errorCode string) (Message, error) {
	return r.update(func(m Message) bool { return m.ID == id }, func(m *Message) {
		m.Status = status
		if providerMessageID != "" {
			m.ProviderMessageID = providerMessageID
		}
		m.ErrorCode = errorCode
	})
}

func (r *MemoryRepo) UpdateStatusByProviderID(ctx context.Context, providerMessageID, status, errorCode string) (Message, error) {
	return r.update(func(m Message) bool { return providerMessageID != "" && m.ProviderMessageID == providerMessageID }, func(m *Message) {
		m.Status = status
		m.ErrorCode = errorCode
	})
}

func (r *MemoryRepo) update(match func(Message) bool, apply func(*Message)) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if match(r.messages[i]) {
			apply(&r.messages[i])
			r.messages[i].UpdatedAt = r.tick()
			return r.messages[i], nil
		}
	}
	return Message{}, ErrNotFound
}

func (r *MemoryRepo) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Messages returns a copy of every stored message.
func (r *MemoryRepo) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
