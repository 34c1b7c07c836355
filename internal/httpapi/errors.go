package httpapi

import (
	"errors"
	"net/http"

	"softphone-platform/internal/configsync"
	"softphone-platform/internal/eventbus"
	"softphone-platform/internal/messaging"
	"softphone-platform/internal/routing"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// fail writes the UI/admin error body. The first message is also the summary.
func fail(c *gin.Context, status int, msgs ...string) {
	if len(msgs) == 0 {
		msgs = []string{http.StatusText(status)}
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msgs[0], "errors": msgs})
}

// failErr maps a service error to a status and a message safe to show users.
// Unknown errors are logged and reported as 500 without detail.
func failErr(c *gin.Context, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "path", c.FullPath(), "err", err)
	}
	fail(c, status, msg)
}

func classify(err error) (int, string) {
	var pe *telephony.ProviderError
	switch {
	case errors.Is(err, routing.ErrValidation),
		errors.Is(err, messaging.ErrValidation),
		errors.Is(err, configsync.ErrValidation),
		errors.Is(err, tenant.ErrInvalidArgument):
		return http.StatusBadRequest, validationText(err)
	case errors.Is(err, configsync.ErrInvalidCredentials):
		return http.StatusUnauthorized, "provider rejected the credentials"
	case errors.Is(err, tenant.ErrUnconfigured):
		return http.StatusConflict, "provider credentials are not configured for this tenant"
	case errors.Is(err, routing.ErrNoNumber), errors.Is(err, messaging.ErrNoNumber):
		return http.StatusConflict, "tenant has no active phone number"
	case errors.Is(err, configsync.ErrBusy):
		return http.StatusConflict, "a configuration sync is already running"
	case errors.Is(err, tenant.ErrConflict):
		return http.StatusConflict, "number is owned by another tenant"
	case errors.Is(err, tenant.ErrNotFound), errors.Is(err, messaging.ErrNotFound), errors.Is(err, eventbus.ErrForbidden):
		return http.StatusNotFound, "not found"
	case errors.As(err, &pe):
		return http.StatusInternalServerError, "telephony provider request failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// validationText strips the package prefix from a wrapped validation error.
func validationText(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{routing.ErrValidation, messaging.ErrValidation, configsync.ErrValidation} {
		prefix := sentinel.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
