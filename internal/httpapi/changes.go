package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"callsync/internal/feed"
	"callsync/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultHeartbeat = 15 * time.Second

// StreamChanges serves the change feed as Server-Sent Events.
// Events: "connected" once, then "change" with a JSON calls.Change. Idle periods carry
// keep-alive comments.
func (h Handlers) StreamChanges(c *gin.Context) {
	if h.Feed == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "change feed not configured"})
		return
	}
	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	log := logger.FromGin(c)

	sub := h.Feed.Subscribe(feed.Filter{Table: c.Query("table")})
	defer sub.Unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("connected", gin.H{"table": c.Query("table")})
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		nctx, cancel := context.WithTimeout(ctx, heartbeat)
		ch, err := sub.Next(nctx)
		cancel()

		switch {
		case err == nil:
			c.SSEvent("change", ch)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if _, werr := c.Writer.WriteString(": keep-alive\n\n"); werr != nil {
				return
			}
		default:
			log.Debug("change stream closed", "err", err)
			return
		}
		c.Writer.Flush()
	}
}
