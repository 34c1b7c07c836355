package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"softphone-platform/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// signed mints a token the way the upstream identity service does.
func signed(t *testing.T, secret string, now time.Time, typ TokenType, p Principal, mutate ...func(*Claims)) string {
	t.Helper()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
		UserID:    p.UserID,
		TenantID:  p.TenantID,
		Role:      p.Role,
		Identity:  p.Identity,
		TokenType: typ,
	}
	for _, fn := range mutate {
		fn(&c)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "aud"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok := signed(t, "secret", now, TokenTypeAccess, Principal{UserID: "user-1", TenantID: "t-1", Role: "agent", Identity: "alice"}, func(c *Claims) {
		c.Issuer = "issuer"
		c.Audience = jwt.ClaimStrings{"aud"}
	})

	claims, err := m.Verify(tok, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p := claims.Principal(); p.UserID != "user-1" || p.TenantID != "t-1" || p.Role != "agent" || p.Identity != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Verify(tok, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	other := signed(t, "secret", now, TokenTypeAccess, Principal{UserID: "u", TenantID: "t-1", Role: "agent"}, func(c *Claims) {
		c.Issuer = "someone-else"
		c.Audience = jwt.ClaimStrings{"aud"}
	})
	if _, err := m.Verify(other, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	now := time.Now()
	refresh := signed(t, "secret", now, TokenTypeRefresh, Principal{UserID: "u", TenantID: "t", Role: "r"})
	if _, err := m.Verify(refresh, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestVerifyRequiresTenantAndRole(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	now := time.Now()
	if _, err := m.Verify(signed(t, "secret", now, TokenTypeAccess, Principal{UserID: "u", Role: "owner"}), TokenTypeAccess, now); err == nil {
		t.Fatalf("expected tenant_id missing")
	}
	if _, err := m.Verify(signed(t, "secret", now, TokenTypeAccess, Principal{UserID: "u", TenantID: "t"}), TokenTypeAccess, now); err == nil {
		t.Fatalf("expected role missing")
	}
	if _, err := m.Verify(signed(t, "other", now, TokenTypeAccess, Principal{UserID: "u", TenantID: "t", Role: "r"}), TokenTypeAccess, now); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestQueryAccessTokenMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	access := signed(t, "secret", time.Now(), TokenTypeAccess, Principal{UserID: "u", TenantID: "t-1", Role: "agent"})

	r := gin.New()
	r.GET("/ws", RequireQueryAccessToken(m), func(c *gin.Context) {
		tid, err := TenantID(c.Request.Context())
		if err != nil {
			c.Status(500)
			return
		}
		c.String(200, tid)
	})
	r.GET("/v1", RequireAccessToken(m), func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?access_token="+access, nil))
	if w.Code != 200 || w.Body.String() != "t-1" {
		t.Fatalf("expected 200 t-1, got %d %s", w.Code, w.Body.String())
	}

	// Query tokens are only accepted on the websocket route.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1?access_token="+access, nil))
	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
