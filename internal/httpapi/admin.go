package httpapi

import (
	"context"
	"net/http"

	"softphone-platform/internal/audit"
	"softphone-platform/internal/auth"
	"softphone-platform/internal/configsync"
	"softphone-platform/internal/tenant"

	"github.com/gin-gonic/gin"
)

// Configurator runs provider reconciliation for a tenant.
type Configurator interface {
	ConfigureFromCredentials(ctx context.Context, req configsync.ConfigureRequest) (configsync.Result, error)
	Resync(ctx context.Context, tenantID string, actor audit.Actor) (configsync.Result, error)
	PurchaseNumber(ctx context.Context, tenantID, number string, actor audit.Actor) (tenant.ProviderNumber, error)
}

// CredentialResetter clears a tenant's stored provider credentials.
type CredentialResetter interface {
	ResetCredentials(ctx context.Context, tenantID string, actor audit.Actor) error
}

// AuditLog reads a tenant's admin audit trail.
type AuditLog interface {
	List(ctx context.Context, tenantID string, limit int) ([]audit.Event, error)
}

// Admin serves tenant configuration. Every action is audited by the service it calls.
type Admin struct {
	Config      Configurator
	Credentials CredentialResetter
	Audit       AuditLog
}

func actor(c *gin.Context, p auth.Principal) audit.Actor {
	return audit.Actor{UserID: p.UserID, Role: p.Role, IP: c.ClientIP()}
}

// ConfigureFromCredentials verifies provider credentials and syncs the tenant.
func (h Admin) ConfigureFromCredentials(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req configsync.ConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, validationMessages(err)...)
		return
	}
	tenantID, ok := scopeTenant(c, p, req.TenantID)
	if !ok {
		return
	}
	req.TenantID = tenantID
	req.Actor = actor(c, p)

	res, err := h.Config.ConfigureFromCredentials(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "phoneNumbers": res.PhoneNumbers, "applicationSid": res.ApplicationSID})
}

// Sync re-runs reconciliation with the stored credentials.
func (h Admin) Sync(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	tenantID, ok := scopeTenant(c, p, c.Param("tenant_id"))
	if !ok {
		return
	}
	res, err := h.Config.Resync(c.Request.Context(), tenantID, actor(c, p))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "phoneNumbers": res.PhoneNumbers, "applicationSid": res.ApplicationSID})
}

// ResetCredentials removes the tenant's provider credentials.
func (h Admin) ResetCredentials(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	tenantID, ok := scopeTenant(c, p, c.Param("tenant_id"))
	if !ok {
		return
	}
	if err := h.Credentials.ResetCredentials(c.Request.Context(), tenantID, actor(c, p)); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type purchaseRequest struct {
	TenantID    string `json:"tenantId"`
	PhoneNumber string `json:"phoneNumber" binding:"required,e164ish"`
}

// PurchaseNumber buys a number on the tenant's provider account.
func (h Admin) PurchaseNumber(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, validationMessages(err)...)
		return
	}
	tenantID, ok := scopeTenant(c, p, req.TenantID)
	if !ok {
		return
	}
	n, err := h.Config.PurchaseNumber(c.Request.Context(), tenantID, req.PhoneNumber, actor(c, p))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "number": n})
}

// AuditEvents lists the tenant's recent admin actions, newest first.
func (h Admin) AuditEvents(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	tenantID, ok := scopeTenant(c, p, c.Param("tenant_id"))
	if !ok {
		return
	}
	events, err := h.Audit.List(c.Request.Context(), tenantID, queryInt(c, "limit"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "events": events})
}
