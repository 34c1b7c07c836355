package tenant

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests and local development.
// It is not intended for production use.
type MemoryRepo struct {
	mu          sync.Mutex
	tenants     map[string]Tenant
	numbers     map[string]ProviderNumber // by id
	agents      map[string]Agent          // by id
	assignments map[string][]string       // number id -> agent ids
	seq         time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tenants:     map[string]Tenant{},
		numbers:     map[string]ProviderNumber{},
		agents:      map[string]Agent{},
		assignments: map[string][]string{},
		seq:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *MemoryRepo) next() time.Time {
	r.seq = r.seq.Add(time.Millisecond)
	return r.seq
}

// PutTenant stores or replaces a tenant.
func (r *MemoryRepo) PutTenant(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
}

// PutNumber stores a number, assigning id and created_at when blank.
func (r *MemoryRepo) PutNumber(n ProviderNumber) ProviderNumber {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.next()
	}
	r.numbers[n.ID] = n
	return n
}

// PutAgent stores an agent, assigning an id when blank.
func (r *MemoryRepo) PutAgent(a Agent) Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.agents[a.ID] = a
	return a
}

// Assign links an agent id to a number id. The agent does not need to exist.
func (r *MemoryRepo) Assign(numberID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[numberID] = append(r.assignments[numberID], agentID)
}

func (r *MemoryRepo) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) FindTenantByAccountSID(ctx context.Context, accountSID string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if accountSID != "" && t.AccountSID == accountSID {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (r *MemoryRepo) FindNumber(ctx context.Context, number string) (ProviderNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.numbers {
		if n.Number == number {
			return n, nil
		}
	}
	return ProviderNumber{}, ErrNotFound
}

func (r *MemoryRepo) ActiveNumber(ctx context.Context, tenantID string) (ProviderNumber, error) {
	for _, n := range r.sortedNumbers(tenantID) {
		if n.Active {
			return n, nil
		}
	}
	return ProviderNumber{}, ErrNotFound
}

func (r *MemoryRepo) ListNumbers(ctx context.Context, tenantID string) ([]ProviderNumber, error) {
	return r.sortedNumbers(tenantID), nil
}

func (r *MemoryRepo) sortedNumbers(tenantID string) []ProviderNumber {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProviderNumber
	for _, n := range r.numbers {
		if n.TenantID == tenantID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryRepo) InsertNumber(ctx context.Context, n ProviderNumber) (ProviderNumber, error) {
	r.mu.Lock()
	for _, existing := range r.numbers {
		if existing.Number == n.Number {
			r.mu.Unlock()
			return ProviderNumber{}, ErrConflict
		}
	}
	r.mu.Unlock()
	return r.PutNumber(n), nil
}

func (r *MemoryRepo) ReplaceNumbers(ctx context.Context, tenantID string, numbers []ProviderNumber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range numbers {
		for _, existing := range r.numbers {
			if existing.Number == n.Number && existing.TenantID != tenantID {
				return ErrConflict
			}
		}
	}

	kept := map[string][]string{}
	for id, n := range r.numbers {
		if n.TenantID != tenantID {
			continue
		}
		kept[n.Number] = r.assignments[id]
		delete(r.assignments, id)
		delete(r.numbers, id)
	}
	for _, n := range numbers {
		n.TenantID = tenantID
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		n.CreatedAt = r.next()
		r.numbers[n.ID] = n
		if ids := kept[n.Number]; len(ids) > 0 {
			r.assignments[n.ID] = ids
		}
	}
	return nil
}

func (r *MemoryRepo) AssignedAgents(ctx context.Context, numberID string) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Agent
	for _, id := range r.assignments[numberID] {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (r *MemoryRepo) FindAgentByIdentity(ctx context.Context, tenantID, identity string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.TenantID == tenantID && a.Identity == identity {
			return a, nil
		}
	}
	return Agent{}, ErrNotFound
}

func (r *MemoryRepo) SaveCredentials(ctx context.Context, tenantID string, c Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.AccountSID, t.AuthToken = c.AccountSID, c.AuthToken
	t.APIKeySID, t.APIKeySecret = c.KeySID, c.KeySecret
	t.AppSID = c.AppSID
	r.tenants[tenantID] = t
	return nil
}

func (r *MemoryRepo) ClearCredentials(ctx context.Context, tenantID string) error {
	return r.SaveCredentials(ctx, tenantID, Credentials{})
}
