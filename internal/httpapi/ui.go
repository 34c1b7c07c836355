package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"softphone-platform/internal/auth"
	"softphone-platform/internal/messaging"
	"softphone-platform/internal/rbac"
	"softphone-platform/internal/routing"
	"softphone-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Dialer starts browser-originated calls and mints device tokens.
type Dialer interface {
	StartOutbound(ctx context.Context, req routing.OutboundRequest) (routing.OutboundResult, error)
	MintToken(ctx context.Context, tenantID, identity string) (telephony.Token, error)
}

// Messenger is the UI side of the message router.
type Messenger interface {
	Send(ctx context.Context, req messaging.SendRequest) (messaging.Message, error)
	Conversation(ctx context.Context, id string) (messaging.Conversation, error)
	History(ctx context.Context, conversationID string, limit int) ([]messaging.Message, error)
	Conversations(ctx context.Context, tenantID string, limit, offset int) ([]messaging.Conversation, error)
}

// Realtime serves the websocket channel for an authenticated tenant.
type Realtime interface {
	Serve(w http.ResponseWriter, r *http.Request, tenantID string)
}

// UI serves the softphone front end. Routes run behind the access token
// middleware and rbac.Require.
type UI struct {
	Calls    Dialer
	Messages Messenger
	Realtime Realtime
}

func principal(c *gin.Context) (auth.Principal, bool) {
	p, err := auth.PrincipalFrom(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "unauthorized")
		return auth.Principal{}, false
	}
	return p, true
}

// scopeTenant resolves the tenant a request may act on, answering 403 otherwise.
func scopeTenant(c *gin.Context, p auth.Principal, requested string) (string, bool) {
	tid, ok := rbac.ScopeTenant(p, requested)
	if !ok {
		fail(c, http.StatusForbidden, "forbidden")
	}
	return tid, ok
}

func scopeIdentity(c *gin.Context, p auth.Principal, requested string) (string, bool) {
	identity, ok := rbac.ScopeIdentity(p, requested)
	switch {
	case ok:
	case strings.TrimSpace(requested) == "":
		fail(c, http.StatusBadRequest, "identity is required")
	default:
		fail(c, http.StatusForbidden, "forbidden")
	}
	return identity, ok
}

// Token returns a device capability token: GET /v1/token?tenantId=&identity=.
func (h UI) Token(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	tenantID, ok := scopeTenant(c, p, c.Query("tenantId"))
	if !ok {
		return
	}
	identity, ok := scopeIdentity(c, p, c.Query("identity"))
	if !ok {
		return
	}
	tok, err := h.Calls.MintToken(c.Request.Context(), tenantID, identity)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": tok.JWT, "expires": tok.ExpiresAt, "identity": identity})
}

type callRequest struct {
	TenantID string `json:"tenantId"`
	Identity string `json:"identity"`
	From     string `json:"from" binding:"omitempty,e164ish"`
	To       string `json:"to" binding:"required,e164ish"`
}

// Call records an outbound call and returns the token the device dials with.
func (h UI) Call(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, validationMessages(err)...)
		return
	}
	tenantID, ok := scopeTenant(c, p, req.TenantID)
	if !ok {
		return
	}
	identity, ok := scopeIdentity(c, p, req.Identity)
	if !ok {
		return
	}
	res, err := h.Calls.StartOutbound(c.Request.Context(), routing.OutboundRequest{
		TenantID: tenantID,
		Identity: identity,
		From:     req.From,
		To:       req.To,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"callSid":        res.CallID,
		"token":          res.Token,
		"expires":        res.ExpiresAt,
		"identity":       res.Identity,
		"applicationSid": res.ApplicationSID,
		"from":           res.From,
		"to":             res.To,
	})
}

type sendRequest struct {
	TenantID       string `json:"tenantId"`
	To             string `json:"to" binding:"required_without=ConversationID"`
	Body           string `json:"body" binding:"required"`
	ConversationID string `json:"conversationId"`
}

// SendMessage sends a message and stores it once the provider accepted it.
func (h UI) SendMessage(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, validationMessages(err)...)
		return
	}
	tenantID, ok := scopeTenant(c, p, req.TenantID)
	if !ok {
		return
	}
	m, err := h.Messages.Send(c.Request.Context(), messaging.SendRequest{
		TenantID:       tenantID,
		To:             req.To,
		Body:           req.Body,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": m, "providerMessageId": m.ProviderMessageID})
}

// Conversations lists the tenant's conversations, newest activity first.
func (h UI) Conversations(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	tenantID, ok := scopeTenant(c, p, c.Query("tenantId"))
	if !ok {
		return
	}
	convs, err := h.Messages.Conversations(c.Request.Context(), tenantID, queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversations": convs})
}

// History returns a conversation with its newest messages, oldest first.
func (h UI) History(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id := c.Param("id")
	conv, err := h.Messages.Conversation(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	if _, allowed := rbac.ScopeTenant(p, conv.TenantID); !allowed {
		fail(c, http.StatusNotFound, "not found")
		return
	}
	msgs, err := h.Messages.History(c.Request.Context(), id, queryInt(c, "limit"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": conv, "messages": msgs})
}

// WebSocket upgrades to the realtime channel for the caller's tenant.
func (h UI) WebSocket(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	h.Realtime.Serve(c.Writer, c.Request, p.TenantID)
}

// queryInt returns 0 for a missing or malformed value; callers apply their own defaults.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
