package telephony

import (
	"context"
	"fmt"
	"sync"
)

// MemoryProvider is an in-memory Provider useful for tests and local development.
// It is not intended for production use.
type MemoryProvider struct {
	mu sync.Mutex

	// ValidTokens maps account sid to the accepted auth token.
	ValidTokens map[string]string
	Numbers     []Number

	// Err, when set, is returned by every call except VerifyCredentials.
	Err error

	Configured   map[string]NumberWebhooks
	Applications map[string]Application
	Sent         []SendMessageRequest
	KeysCreated  int

	seq int
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		ValidTokens:  map[string]string{},
		Configured:   map[string]NumberWebhooks{},
		Applications: map[string]Application{},
	}
}

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) next(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s%04d", prefix, p.seq)
}

func (p *MemoryProvider) VerifyCredentials(ctx context.Context, acct Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok, ok := p.ValidTokens[acct.AccountSID]; !ok || tok != acct.AuthToken {
		return ErrInvalidCredentials
	}
	return nil
}

func (p *MemoryProvider) ListNumbers(ctx context.Context, acct Account) ([]Number, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([]Number, len(p.Numbers))
	copy(out, p.Numbers)
	return out, nil
}

func (p *MemoryProvider) PurchaseNumber(ctx context.Context, acct Account, number string, hooks NumberWebhooks) (Number, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return Number{}, p.Err
	}
	n := Number{SID: p.next("PN"), PhoneNumber: number}
	p.Numbers = append(p.Numbers, n)
	p.Configured[n.SID] = hooks
	return n, nil
}

func (p *MemoryProvider) ConfigureNumber(ctx context.Context, acct Account, numberSID string, hooks NumberWebhooks) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Configured[numberSID] = hooks
	return nil
}

func (p *MemoryProvider) EnsureApplication(ctx context.Context, acct Account, app Application) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	for sid, existing := range p.Applications {
		if existing.FriendlyName == app.FriendlyName {
			p.Applications[sid] = app
			return sid, nil
		}
	}
	sid := p.next("AP")
	p.Applications[sid] = app
	return sid, nil
}

func (p *MemoryProvider) CreateAPIKey(ctx context.Context, acct Account, friendlyName string) (APIKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return APIKey{}, p.Err
	}
	p.KeysCreated++
	return APIKey{SID: p.next("SK"), Secret: p.next("secret-")}, nil
}

func (p *MemoryProvider) SendMessage(ctx context.Context, acct Account, req SendMessageRequest) (SentMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return SentMessage{}, p.Err
	}
	p.Sent = append(p.Sent, req)
	return SentMessage{SID: p.next("SM"), Status: "queued"}, nil
}

// SentMessages returns a copy of every accepted send.
func (p *MemoryProvider) SentMessages() []SendMessageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SendMessageRequest, len(p.Sent))
	copy(out, p.Sent)
	return out
}
