package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"softphone-platform/internal/auth"
	"softphone-platform/internal/config"
	"softphone-platform/internal/configsync"
	"softphone-platform/internal/httpapi"
	"softphone-platform/internal/messaging"
	"softphone-platform/internal/rbac"
	"softphone-platform/internal/routing"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type accountResolver interface {
	ResolveByAccount(ctx context.Context, accountSID string) (tenant.Tenant, error)
}

type deps struct {
	cfg      config.Config
	db       *sql.DB
	registry *prometheus.Registry
	auth     *auth.Manager
	dir      accountResolver
	limiter  *httpapi.RateLimiter

	webhooks httpapi.Webhooks
	ui       httpapi.UI
	admin    httpapi.Admin
}

// registerRoutes wires HTTP routes to handlers. No business logic lives here.
func registerRoutes(r *gin.Engine, d deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	// Provider webhooks, signed with the owning tenant's auth token.
	lookup := func(ctx context.Context, accountSID string) (string, error) {
		t, err := d.dir.ResolveByAccount(ctx, accountSID)
		if err != nil {
			return "", err
		}
		return t.AuthToken, nil
	}
	// A live call gets an apology document rather than a bare 403.
	unroutable := routing.Decision{Action: routing.ActionDecline, Reason: routing.ReasonUnroutable}.Document()
	voice := r.Group("", d.limiter.Middleware(), telephony.RequireVoiceSignature(d.cfg.App.PublicBaseURL, lookup, d.cfg.Twilio.ValidateSignatures, unroutable))
	{
		voice.POST(configsync.InboundVoicePath, d.webhooks.VoiceInbound)
		voice.POST(configsync.OutboundVoicePath, d.webhooks.VoiceOutbound)
	}
	hooks := r.Group("", d.limiter.Middleware(), telephony.RequireSignature(d.cfg.App.PublicBaseURL, lookup, d.cfg.Twilio.ValidateSignatures))
	{
		hooks.POST(routing.StatusCallbackPath, d.webhooks.VoiceStatus)
		hooks.POST(routing.RecordingCallbackPath, d.webhooks.VoiceRecording)
		hooks.POST(configsync.InboundSMSPath, d.webhooks.SMS)
		hooks.POST(messaging.StatusCallbackPath, d.webhooks.SMSStatus)
	}

	// Browsers cannot set headers on a websocket upgrade, so the token may ride in the query.
	r.GET("/ws", auth.RequireQueryAccessToken(d.auth), rbac.RequireTenant(), rbac.Require(rbac.CapReadMessages), d.ui.WebSocket)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth), rbac.RequireTenant())
	{
		v1.GET("/token", rbac.Require(rbac.CapPlaceCalls), d.ui.Token)
		v1.POST("/call", rbac.Require(rbac.CapPlaceCalls), d.ui.Call)
		v1.POST("/message/send", rbac.Require(rbac.CapSendMessages), d.ui.SendMessage)
		v1.GET("/conversations", rbac.Require(rbac.CapReadMessages), d.ui.Conversations)
		v1.GET("/conversations/:id/messages", rbac.Require(rbac.CapReadMessages), d.ui.History)

		// ADMIN routes
		admin := v1.Group("/admin")
		{
			admin.POST("/configure-from-credentials", rbac.Require(rbac.CapConfigureTenant), d.admin.ConfigureFromCredentials)
			admin.POST("/tenants/:tenant_id/sync", rbac.Require(rbac.CapConfigureTenant), d.admin.Sync)
			admin.DELETE("/tenants/:tenant_id/credentials", rbac.Require(rbac.CapConfigureTenant), d.admin.ResetCredentials)
			admin.POST("/numbers/purchase", rbac.Require(rbac.CapManageNumbers), d.admin.PurchaseNumber)
			admin.GET("/tenants/:tenant_id/audit", rbac.Require(rbac.CapConfigureTenant), d.admin.AuditEvents)
		}
	}
}
