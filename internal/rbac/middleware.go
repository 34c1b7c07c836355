package rbac

import (
	"net/http"
	"strings"

	"softphone-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireTenant enforces the multi-tenant invariant: tenant_id must exist in context.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tid, err := auth.TenantID(c.Request.Context())
		if err != nil || tid == "" {
			abort(c, http.StatusUnauthorized, "tenant_id required")
			return
		}
		c.Next()
	}
}

// Require allows the request only if the caller's role holds capability.
// It is the single authorization check for a route.
func Require(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := auth.PrincipalFrom(c.Request.Context())
		if err != nil || p.Role == "" {
			abort(c, http.StatusUnauthorized, "role required")
			return
		}
		if !Allows(p.Role, capability) {
			abort(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

// ScopeTenant resolves the tenant a request acts on. A blank requested id means
// the caller's own tenant. Only super_admin may act on another tenant.
func ScopeTenant(p auth.Principal, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == p.TenantID {
		return p.TenantID, p.TenantID != ""
	}
	if IsSuperAdmin(p.Role) {
		return requested, true
	}
	return "", false
}

// ScopeIdentity resolves the agent identity a request acts as. Agents are
// pinned to their own identity; other roles may name any identity of the tenant.
func ScopeIdentity(p auth.Principal, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if p.Role != RoleAgent {
		return requested, requested != ""
	}
	if p.Identity == "" || (requested != "" && requested != p.Identity) {
		return "", false
	}
	return p.Identity, true
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg, "errors": []string{msg}})
}
