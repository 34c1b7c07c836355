package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxPrincipal ctxKey = iota

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   string
	TenantID string
	Role     string
	Identity string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFrom returns the caller injected by RequireAccessToken.
func PrincipalFrom(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, errors.New("principal not in context")
	}
	return p, nil
}

func TenantID(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil || p.TenantID == "" {
		return "", errors.New("tenant_id not in context")
	}
	return p.TenantID, nil
}

func Role(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil || p.Role == "" {
		return "", errors.New("role not in context")
	}
	return p.Role, nil
}
