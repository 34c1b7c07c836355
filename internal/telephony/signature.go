package telephony

import (
	"context"
	"net/http"
	"strings"

	"softphone-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Twilio-Signature"

// AuthTokenLookup returns the auth token of the tenant owning accountSID.
type AuthTokenLookup func(ctx context.Context, accountSID string) (string, error)

// RequireSignature rejects webhooks whose X-Twilio-Signature does not match the
// posted form signed with the owning tenant's auth token.
//
// publicBaseURL is the externally visible scheme://host the provider calls; the
// signed URL is publicBaseURL + request URI. When enabled is false the check is skipped.
func RequireSignature(publicBaseURL string, lookup AuthTokenLookup, enabled bool) gin.HandlerFunc {
	return requireSignature(publicBaseURL, lookup, enabled, func(c *gin.Context, status int) {
		c.AbortWithStatus(status)
	})
}

// RequireVoiceSignature is RequireSignature for call-control webhooks. A caller
// is already on the line, so a rejected request still gets HTTP 200 with
// fallback rendered as TwiML and the call ends cleanly.
func RequireVoiceSignature(publicBaseURL string, lookup AuthTokenLookup, enabled bool, fallback Document) gin.HandlerFunc {
	return requireSignature(publicBaseURL, lookup, enabled, func(c *gin.Context, _ int) {
		WriteTwiML(c, fallback)
		c.Abort()
	})
}

func requireSignature(publicBaseURL string, lookup AuthTokenLookup, enabled bool, reject func(*gin.Context, int)) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}
		log := logger.FromGin(c)

		if err := c.Request.ParseForm(); err != nil {
			reject(c, http.StatusBadRequest)
			return
		}
		sig := c.GetHeader(signatureHeader)
		accountSID := strings.TrimSpace(c.Request.PostFormValue("AccountSid"))
		if sig == "" || accountSID == "" || lookup == nil {
			log.Warn("webhook signature missing", "path", c.Request.URL.Path)
			reject(c, http.StatusForbidden)
			return
		}

		token, err := lookup(c.Request.Context(), accountSID)
		if err != nil || token == "" {
			log.Warn("webhook account unknown", "account", logger.Redact(accountSID))
			reject(c, http.StatusForbidden)
			return
		}

		url := base + c.Request.URL.RequestURI()
		if !ValidateSignature(token, url, FormParams(c.Request), sig) {
			log.Warn("webhook signature mismatch", "account", logger.Redact(accountSID), "path", c.Request.URL.Path)
			reject(c, http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// WriteTwiML renders doc and writes it with HTTP 200. A render failure falls back
// to a fixed apology document so the provider always receives valid markup.
func WriteTwiML(c *gin.Context, doc Document) {
	body, err := RenderTwiML(doc)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		body = fallbackTwiML
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, body)
}

const fallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say>We are sorry, an application error has occurred. Goodbye.</Say>
  <Hangup/>
</Response>`
