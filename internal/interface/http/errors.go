package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/progression-hub/internal/domain/bonus"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// errorKinds maps domain error kinds to HTTP status and API error codes.
// Order matters: the first match wins.
var errorKinds = []struct {
	kind   error
	status int
	code   string
}{
	{shared.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{shared.ErrValidation, http.StatusBadRequest, "validation_error"},
	{shared.ErrNotFound, http.StatusNotFound, "not_found"},
	{shared.ErrRoleNotPermitted, http.StatusForbidden, "role_not_permitted"},
	{shared.ErrGateDenied, http.StatusForbidden, "gate_denied"},
	{shared.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{shared.ErrNotReady, http.StatusConflict, "not_ready"},
	{shared.ErrConcurrencyConflict, http.StatusConflict, "conflict"},
	{shared.ErrNoBonusConfigured, http.StatusUnprocessableEntity, "no_bonus_configured"},
}

// statusFor returns the HTTP status and error code for err.
func statusFor(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// errorResponse builds the error body. Domain messages are safe to show to the
// student; anything else is logged and replaced with a generic message.
func errorResponse(c *gin.Context, err error) (int, JSONResponse) {
	status, code := statusFor(err)
	msg := shared.Message(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
		msg = "An unexpected error occurred"
	}

	var notReady *bonus.NotReadyDetail
	if errors.As(err, &notReady) {
		secs := int(time.Until(notReady.ReadyAt).Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}

	return status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: msg},
		Meta:      newMeta(),
		RequestID: requestID(c),
	}
}

// writeError writes an error response.
func writeError(c *gin.Context, err error) {
	status, body := errorResponse(c, err)
	c.JSON(status, body)
}
