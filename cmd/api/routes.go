package main

import (
	"log/slog"
	"net/http"
	"time"

	"callsync/internal/config"
	"callsync/internal/httpapi"
	"callsync/internal/telephony"
	"callsync/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// newRouter builds the gin engine: recovery, request logging, CORS for the dashboard, then
// the API routes. Keep this file free of business logic.
func newRouter(cfg config.Config, log *slog.Logger, a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz"))

	if len(cfg.HTTP.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.HTTP.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Content-Type", "X-Request-Id"},
			ExposeHeaders: []string{"X-Request-Id"},
			MaxAge:        12 * time.Hour,
		}))
	}

	opts := httpapi.RouteOptions{
		CallLimiter: httpapi.NewIPRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst).Middleware(),
	}
	if cfg.Twilio.ValidateSignatures && cfg.Twilio.AuthToken != "" {
		opts.WebhookAuth = telephony.SignatureMiddleware(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL)
	} else {
		log.Warn("twilio webhook signature validation disabled")
	}

	httpapi.Register(r, a.handlers, opts)
	return r
}
