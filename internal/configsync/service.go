package configsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"softphone-platform/internal/audit"
	"softphone-platform/internal/messaging"
	"softphone-platform/internal/metrics"
	"softphone-platform/internal/routing"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/logger"
	"softphone-platform/pkg/phone"
	"softphone-platform/pkg/utils"
)

// Webhook paths registered on the provider side.
const (
	InboundVoicePath  = "/webhooks/twilio/voice"
	OutboundVoicePath = "/webhooks/twilio/voice/outbound"
	InboundSMSPath    = "/webhooks/twilio/sms"
)

const DefaultApplicationName = "Softphone"

var (
	ErrValidation         = errors.New("configsync: validation failed")
	ErrInvalidCredentials = errors.New("configsync: invalid provider credentials")
	// ErrBusy means another sync holds the tenant's lock.
	ErrBusy = errors.New("configsync: sync already running for tenant")
)

// Store is the tenant persistence ConfigSync writes through.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (tenant.Tenant, error)
	ReplaceNumbers(ctx context.Context, tenantID string, numbers []tenant.ProviderNumber) error
	InsertNumber(ctx context.Context, n tenant.ProviderNumber) (tenant.ProviderNumber, error)
	SaveCredentials(ctx context.Context, tenantID string, c tenant.Credentials) error
}

// Invalidator drops cached tenant state after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

type Options struct {
	// PublicBaseURL is this service's externally reachable origin.
	PublicBaseURL string
	// ApplicationName is the friendly name of the provider call-routing application.
	ApplicationName string
	// LockTTL bounds how long one tenant sync may hold the lock. Defaults to 2m.
	LockTTL time.Duration

	// Locker serializes syncs per tenant across instances. Nil disables locking.
	Locker  utils.Locker
	Audit   tenant.AuditRecorder
	Metrics *metrics.Metrics
}

// Service reconciles a tenant's provider-side configuration with local state.
//
// It only runs on explicit admin action. Number sync is a full replace, so a
// tenant briefly has no numbers while the transaction runs.
type Service struct {
	store    Store
	provider telephony.Provider
	dir      Invalidator
	opts     Options
}

func NewService(store Store, provider telephony.Provider, dir Invalidator, opts Options) *Service {
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	if opts.ApplicationName == "" {
		opts.ApplicationName = DefaultApplicationName
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &Service{store: store, provider: provider, dir: dir, opts: opts}
}

type ConfigureRequest struct {
	TenantID   string      `json:"tenantId" binding:"required"`
	AccountSID string      `json:"accountSid" binding:"required"`
	AuthToken  string      `json:"authToken" binding:"required"`
	Actor      audit.Actor `json:"-"`
}

type Result struct {
	PhoneNumbers   int    `json:"phoneNumbers"`
	ApplicationSID string `json:"applicationSid"`
}

// ConfigureFromCredentials verifies the credentials with the provider and
// reconciles numbers, webhooks, the application and the API key pair.
func (s *Service) ConfigureFromCredentials(ctx context.Context, req ConfigureRequest) (Result, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.AccountSID = strings.TrimSpace(req.AccountSID)
	req.AuthToken = strings.TrimSpace(req.AuthToken)
	if req.TenantID == "" || req.AccountSID == "" || req.AuthToken == "" {
		return Result{}, fmt.Errorf("%w: tenantId, accountSid and authToken are required", ErrValidation)
	}

	t, err := s.store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return Result{}, err
	}
	creds := tenant.Credentials{AccountSID: req.AccountSID, AuthToken: req.AuthToken}
	// Keep the existing key pair when it belongs to the same account.
	if t.AccountSID == req.AccountSID {
		creds.KeySID, creds.KeySecret = t.APIKeySID, t.APIKeySecret
	}
	return s.reconcile(ctx, req.TenantID, creds, req.Actor, true)
}

// Resync re-runs the reconciliation with the tenant's stored credentials.
func (s *Service) Resync(ctx context.Context, tenantID string, actor audit.Actor) (Result, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Result{}, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	creds, ok := t.Credentials()
	if !ok {
		return Result{}, tenant.ErrUnconfigured
	}
	return s.reconcile(ctx, tenantID, creds, actor, false)
}

func (s *Service) reconcile(ctx context.Context, tenantID string, creds tenant.Credentials, actor audit.Actor, verify bool) (Result, error) {
	log := logger.From(ctx).With("tenant_id", tenantID, "account_sid", logger.Redact(creds.AccountSID))

	lock, err := s.lock(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("config sync lock release failed", "err", err)
		}
	}()

	// Verification and listing use the auth token; a stale key pair must not mask a bad token.
	acct := telephony.Account{AccountSID: creds.AccountSID, AuthToken: creds.AuthToken}
	if verify {
		if err := s.provider.VerifyCredentials(ctx, acct); err != nil {
			if errors.Is(err, telephony.ErrInvalidCredentials) {
				log.Info("config sync rejected credentials")
				return Result{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
			}
			s.opts.Metrics.ProviderError("verify_credentials")
			return Result{}, err
		}
	}

	listed, err := s.provider.ListNumbers(ctx, acct)
	if err != nil {
		s.opts.Metrics.ProviderError("list_numbers")
		return Result{}, err
	}
	numbers := make([]tenant.ProviderNumber, 0, len(listed))
	seen := map[string]bool{}
	for _, n := range listed {
		norm := phone.Normalize(n.PhoneNumber)
		if !phone.IsDialable(norm) || seen[norm] {
			log.Warn("config sync skipped provider number", "number_sid", logger.Redact(n.SID))
			continue
		}
		seen[norm] = true
		numbers = append(numbers, tenant.ProviderNumber{
			TenantID:     tenantID,
			Number:       norm,
			ProviderSID:  n.SID,
			FriendlyName: n.FriendlyName,
			Active:       true,
		})
	}
	if err := s.store.ReplaceNumbers(ctx, tenantID, numbers); err != nil {
		return Result{}, err
	}

	appSID, err := s.provider.EnsureApplication(ctx, acct, telephony.Application{
		FriendlyName:      s.opts.ApplicationName,
		VoiceURL:          s.opts.PublicBaseURL + OutboundVoicePath,
		StatusCallbackURL: s.opts.PublicBaseURL + routing.StatusCallbackPath,
	})
	if err != nil {
		s.opts.Metrics.ProviderError("ensure_application")
		return Result{}, err
	}

	hooks := s.hooks()
	for _, n := range numbers {
		if err := s.provider.ConfigureNumber(ctx, acct, n.ProviderSID, hooks); err != nil {
			s.opts.Metrics.ProviderError("configure_number")
			return Result{}, err
		}
	}

	if creds.KeySID == "" || creds.KeySecret == "" {
		key, err := s.provider.CreateAPIKey(ctx, acct, s.opts.ApplicationName)
		if err != nil {
			s.opts.Metrics.ProviderError("create_api_key")
			return Result{}, err
		}
		creds.KeySID, creds.KeySecret = key.SID, key.Secret
	}
	creds.AppSID = appSID
	if err := s.store.SaveCredentials(ctx, tenantID, creds); err != nil {
		return Result{}, err
	}

	if err := s.dir.Invalidate(ctx, tenantID); err != nil {
		log.Warn("tenant invalidation broadcast failed", "err", err)
	}
	if s.opts.Audit != nil {
		details := map[string]any{"phone_numbers": len(numbers), "application_sid": appSID}
		if err := s.opts.Audit.Record(ctx, tenantID, audit.EventTypeConfigSync, actor, "provider configuration synced", details); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	log.Info("config sync complete", "phone_numbers", len(numbers))
	return Result{PhoneNumbers: len(numbers), ApplicationSID: appSID}, nil
}

// PurchaseNumber buys number for the tenant, points it at the webhooks and records it.
func (s *Service) PurchaseNumber(ctx context.Context, tenantID, number string, actor audit.Actor) (tenant.ProviderNumber, error) {
	tenantID = strings.TrimSpace(tenantID)
	norm := phone.Normalize(number)
	if tenantID == "" || !phone.IsDialable(norm) {
		return tenant.ProviderNumber{}, fmt.Errorf("%w: tenant id and a dialable number are required", ErrValidation)
	}
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return tenant.ProviderNumber{}, err
	}
	creds, ok := t.Credentials()
	if !ok {
		return tenant.ProviderNumber{}, tenant.ErrUnconfigured
	}

	bought, err := s.provider.PurchaseNumber(ctx, creds.Account(), norm, s.hooks())
	if err != nil {
		s.opts.Metrics.ProviderError("purchase_number")
		return tenant.ProviderNumber{}, err
	}
	n, err := s.store.InsertNumber(ctx, tenant.ProviderNumber{
		TenantID:     tenantID,
		Number:       norm,
		ProviderSID:  bought.SID,
		FriendlyName: bought.FriendlyName,
		Active:       true,
	})
	if err != nil {
		return tenant.ProviderNumber{}, err
	}

	log := logger.From(ctx).With("tenant_id", tenantID)
	if err := s.dir.Invalidate(ctx, tenantID); err != nil {
		log.Warn("tenant invalidation broadcast failed", "err", err)
	}
	if s.opts.Audit != nil {
		if err := s.opts.Audit.Record(ctx, tenantID, audit.EventTypeNumberPurchase, actor, "provider number purchased", map[string]any{"number": norm}); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	return n, nil
}

func (s *Service) hooks() telephony.NumberWebhooks {
	return telephony.NumberWebhooks{
		VoiceURL:     s.opts.PublicBaseURL + InboundVoicePath,
		SMSURL:       s.opts.PublicBaseURL + InboundSMSPath,
		SMSStatusURL: s.opts.PublicBaseURL + messaging.StatusCallbackPath,
	}
}

func (s *Service) lock(ctx context.Context, tenantID string) (*utils.Lock, error) {
	if s.opts.Locker == nil {
		return nil, nil
	}
	l, err := utils.TryLock(ctx, s.opts.Locker, "softphone:configsync:"+tenantID, s.opts.LockTTL)
	if errors.Is(err, utils.ErrLockHeld) {
		return nil, ErrBusy
	}
	return l, err
}
