package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ctxRequestID    = "request_id"
	ctxLogger       = "logger"
)

// Middleware injects a request_id and logs one summary line per request.
// The request-scoped logger is reachable both from the gin context (FromGin) and from the
// request context (From), so services called by handlers log with the same request_id.
//
// Requests under quietPaths (health probes) are summarized at debug level. 4xx answers log at
// warn, 5xx and handler errors at error.
func Middleware(l *slog.Logger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set(ctxRequestID, rid)
		c.Set(ctxLogger, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"client_ip", c.ClientIP(),
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}
		level := slog.LevelInfo
		switch {
		case len(c.Errors) > 0:
			attrs = append(attrs, "errors", c.Errors.String())
			level = slog.LevelError
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case quiet[path]:
			level = slog.LevelDebug
		}
		reqLogger.Log(c.Request.Context(), level, "request", attrs...)
	}
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// RequestID returns the id assigned by Middleware, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
