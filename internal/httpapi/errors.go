package httpapi

import (
	"net/http"

	"callsync/internal/calls"
	"callsync/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind calls.Kind) int {
	switch kind {
	case calls.KindInvalidNumberFormat, calls.KindInvalidEvent:
		return http.StatusBadRequest
	case calls.KindProviderUnavailable:
		return http.StatusBadGateway
	case calls.KindUnknownCallToken, calls.KindNotFound:
		return http.StatusNotFound
	case calls.KindUnknownStatusValue:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders {"error", "kind"}. Internal causes are logged, never returned.
func writeError(c *gin.Context, err error) {
	kind := calls.KindOf(err)
	status := statusFor(kind)
	body := gin.H{"error": calls.Message(err), "kind": kind}
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "kind", kind, "err", err)
		_ = c.Error(err)
		body["request_id"] = logger.RequestID(c)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, kind calls.Kind, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": kind})
}
