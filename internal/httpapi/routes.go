package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouteOptions carries boundary middleware built from configuration.
type RouteOptions struct {
	// WebhookAuth guards provider callbacks, form and JSON alike; nil disables it.
	WebhookAuth gin.HandlerFunc
	// CallLimiter throttles call initiation; nil disables it.
	CallLimiter gin.HandlerFunc
}

// Register wires HTTP routes to handlers.
// Keep this free of business logic. Handlers delegate to internal modules.
func Register(r gin.IRouter, h Handlers, opts RouteOptions) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		makeCall := []gin.HandlerFunc{}
		if opts.CallLimiter != nil {
			makeCall = append(makeCall, opts.CallLimiter)
		}
		api.POST("/make-call", append(makeCall, h.MakeCall)...)

		api.GET("/calls", h.ListCalls)
		api.GET("/calls/:sid", h.GetCall)
		api.GET("/calls/:sid/events", h.ListCallEvents)
		api.GET("/stats", h.Stats)
		api.GET("/changes", h.StreamChanges)

		callStatus := []gin.HandlerFunc{}
		if opts.WebhookAuth != nil {
			callStatus = append(callStatus, opts.WebhookAuth)
		}
		api.POST("/call-status", append(callStatus, h.CallStatus)...)
	}

	webhooks := r.Group("/webhooks/twilio")
	if opts.WebhookAuth != nil {
		webhooks.Use(opts.WebhookAuth)
	}
	webhooks.POST("/status", h.TwilioStatusCallback)
}
