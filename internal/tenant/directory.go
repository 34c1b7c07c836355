package tenant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"softphone-platform/internal/audit"
	"softphone-platform/internal/metrics"
	"softphone-platform/pkg/logger"
	"softphone-platform/pkg/phone"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// InvalidationChannel carries tenant ids whose cached entry must be dropped on every instance.
const InvalidationChannel = "softphone:tenant:invalidate"

// Publisher is the subset of the redis client used to broadcast invalidations.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Subscriber is the subset of the redis client used to receive invalidations.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// AuditRecorder records admin actions performed through the directory.
type AuditRecorder interface {
	Record(ctx context.Context, tenantID string, typ audit.EventType, actor audit.Actor, message string, details map[string]any) error
}

type DirectoryOptions struct {
	// TTL bounds cache staleness. Defaults to 60s.
	TTL time.Duration
	// LookupTimeout bounds a cold storage lookup. Defaults to 2s.
	LookupTimeout time.Duration

	Publisher Publisher
	Audit     AuditRecorder
	Metrics   *metrics.Metrics
}

// Directory resolves numbers and account sids to tenants and hands out
// tenant credentials from a short-TTL cache.
//
// Cold loads for the same tenant are collapsed into one storage query and are
// bounded by LookupTimeout so webhook handlers never block indefinitely.
type Directory struct {
	repo Repository
	opts DirectoryOptions

	clock func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
	// gen increments on every invalidation; loads started under an older gen are not cached.
	gen uint64
}

type cacheEntry struct {
	tenant  Tenant
	expires time.Time
}

func NewDirectory(repo Repository, opts DirectoryOptions) *Directory {
	if opts.TTL <= 0 {
		opts.TTL = 60 * time.Second
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 2 * time.Second
	}
	return &Directory{
		repo:    repo,
		opts:    opts,
		clock:   time.Now,
		entries: map[string]cacheEntry{},
	}
}

// Tenant returns the tenant by id, served from cache when fresh.
func (d *Directory) Tenant(ctx context.Context, tenantID string) (Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Tenant{}, ErrNotFound
	}

	if t, ok := d.cached(tenantID); ok {
		d.opts.Metrics.CacheLookup(true)
		return t, nil
	}
	d.opts.Metrics.CacheLookup(false)

	d.mu.RLock()
	gen := d.gen
	d.mu.RUnlock()

	v, err, _ := d.group.Do(tenantID, func() (any, error) {
		// Detach from the first caller's cancellation; other waiters share this load.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.LookupTimeout)
		defer cancel()

		t, err := d.repo.GetTenant(lctx, tenantID)
		if err != nil {
			return Tenant{}, err
		}
		d.store(t, gen)
		return t, nil
	})
	if err != nil {
		return Tenant{}, err
	}
	return v.(Tenant), nil
}

// Credentials returns the tenant's provider credentials, ErrUnconfigured when any
// required field is blank, or ErrNotFound when the tenant does not exist.
func (d *Directory) Credentials(ctx context.Context, tenantID string) (Credentials, error) {
	t, err := d.Tenant(ctx, tenantID)
	if err != nil {
		return Credentials{}, err
	}
	c, ok := t.Credentials()
	if !ok {
		return Credentials{}, ErrUnconfigured
	}
	return c, nil
}

// ResolveByNumber normalizes number and returns its owning tenant and number row.
// A miss is ErrNotFound; a tenant is never fabricated.
func (d *Directory) ResolveByNumber(ctx context.Context, number string) (Tenant, ProviderNumber, error) {
	n := phone.Normalize(number)
	if n == "" || phone.IsClient(n) {
		return Tenant{}, ProviderNumber{}, ErrNotFound
	}

	lctx, cancel := context.WithTimeout(ctx, d.opts.LookupTimeout)
	pn, err := d.repo.FindNumber(lctx, n)
	cancel()
	if err != nil {
		return Tenant{}, ProviderNumber{}, err
	}

	t, err := d.Tenant(ctx, pn.TenantID)
	if err != nil {
		return Tenant{}, ProviderNumber{}, err
	}
	return t, pn, nil
}

// ResolveByAccount returns the tenant configured with the provider account sid.
func (d *Directory) ResolveByAccount(ctx context.Context, accountSID string) (Tenant, error) {
	accountSID = strings.TrimSpace(accountSID)
	if accountSID == "" {
		return Tenant{}, ErrNotFound
	}
	lctx, cancel := context.WithTimeout(ctx, d.opts.LookupTimeout)
	defer cancel()
	return d.repo.FindTenantByAccountSID(lctx, accountSID)
}

// Invalidate drops the cached tenant locally and broadcasts the drop to other instances.
// The local drop always happens; a broadcast failure is returned.
func (d *Directory) Invalidate(ctx context.Context, tenantID string) error {
	d.drop(tenantID)
	if d.opts.Publisher == nil {
		return nil
	}
	if err := d.opts.Publisher.Publish(ctx, InvalidationChannel, tenantID).Err(); err != nil {
		return err
	}
	return nil
}

// ResetCredentials clears the tenant's provider credentials without deleting the tenant.
func (d *Directory) ResetCredentials(ctx context.Context, tenantID string, actor audit.Actor) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrInvalidArgument
	}
	if err := d.repo.ClearCredentials(ctx, tenantID); err != nil {
		return err
	}

	log := logger.From(ctx).With("tenant_id", tenantID)
	if err := d.Invalidate(ctx, tenantID); err != nil {
		log.Warn("tenant invalidation broadcast failed", "error", err)
	}
	if d.opts.Audit != nil {
		if err := d.opts.Audit.Record(ctx, tenantID, audit.EventTypeCredentialsReset, actor, "provider credentials cleared", nil); err != nil {
			log.Warn("audit append failed", "error", err)
		}
	}
	log.Info("tenant credentials reset")
	return nil
}

// Listen drops cache entries named on the invalidation channel until ctx is done.
func (d *Directory) Listen(ctx context.Context, sub Subscriber) error {
	ps := sub.Subscribe(ctx, InvalidationChannel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("tenant: invalidation subscription closed")
			}
			d.drop(msg.Payload)
		}
	}
}

// CachedTenants reports the number of cache entries, expired or not.
func (d *Directory) CachedTenants() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Directory) cached(tenantID string) (Tenant, bool) {
	d.mu.RLock()
	e, ok := d.entries[tenantID]
	d.mu.RUnlock()
	if !ok || !d.clock().Before(e.expires) {
		return Tenant{}, false
	}
	return e.tenant, true
}

func (d *Directory) store(t Tenant, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return
	}
	d.entries[t.ID] = cacheEntry{tenant: t, expires: d.clock().Add(d.opts.TTL)}
}

func (d *Directory) drop(tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, tenantID)
	d.gen++
}
