package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only:
// there is no update or delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// List returns a tenant's events, newest first.
	List(ctx context.Context, tenantID string, limit int) ([]Event, error)
}

// Service logs internal audit information.
//
// Callers treat audit logging as best-effort: a failed append is logged,
// never surfaced to the admin action that produced it.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Record appends an event of type typ for tenantID. details is marshaled to JSON metadata.
func (s *Service) Record(ctx context.Context, tenantID string, typ EventType, actor Actor, message string, details map[string]any) error {
	meta := ""
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        typ,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		Message:     message,
		Metadata:    meta,
	})
}

// List returns the tenant's most recent events. limit is clamped to [1, 500] and
// defaults to 50.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if tenantID == "" {
		return nil, ErrInvalidEvent
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.repo.List(ctx, tenantID, limit)
}
