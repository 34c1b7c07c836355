package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// AccessTokenQueryParam carries the token on websocket upgrades, where browsers cannot set headers.
const AccessTokenQueryParam = "access_token"

// RequireAccessToken verifies an access token and injects the principal into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			abort(c, "missing bearer token")
			return
		}
		authenticate(c, m, strings.TrimPrefix(raw, bearerPrefix))
	}
}

// RequireQueryAccessToken is RequireAccessToken for the websocket route. The
// bearer header still wins when present.
func RequireQueryAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := strings.TrimPrefix(strings.TrimSpace(c.GetHeader(authorizationHeader)), bearerPrefix)
		if tok == "" {
			tok = strings.TrimSpace(c.Query(AccessTokenQueryParam))
		}
		if tok == "" {
			abort(c, "missing access token")
			return
		}
		authenticate(c, m, tok)
	}
}

func authenticate(c *gin.Context, m *Manager, tok string) {
	claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
	if err != nil {
		abort(c, "invalid token")
		return
	}

	p := claims.Principal()
	c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))

	// Also store on gin context for handler convenience.
	c.Set("user_id", p.UserID)
	c.Set("tenant_id", p.TenantID)
	c.Set("role", p.Role)

	c.Next()
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msg, "errors": []string{msg}})
}
