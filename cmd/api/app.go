package main

import (
	"context"
	"fmt"
	"log/slog"

	"callsync/internal/audit"
	"callsync/internal/calls"
	"callsync/internal/config"
	"callsync/internal/feed"
	"callsync/internal/gateway"
	"callsync/internal/httpapi"
	"callsync/internal/reconcile"
	"callsync/internal/reporting"
	"callsync/internal/storage"
	"callsync/internal/telephony"
	"callsync/pkg/utils"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// app holds the wired process. Close releases everything opened by buildApp.
type app struct {
	hub      *feed.Hub
	handlers httpapi.Handlers
	bridge   *feed.Bridge
	worker   *reconcile.RedeliveryWorker

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	a.hub = feed.NewHub(feed.Options{MaxPending: cfg.Feed.MaxPending, Logger: log.With("component", "feed")})
	a.closers = append(a.closers, a.hub.Close)

	var (
		repo     calls.Repository
		auditLog audit.Repository
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.Store.Migrate {
			if err := storage.Migrate(ctx, pool); err != nil {
				a.Close()
				return nil, err
			}
			log.Info("migrations applied")
		}
		repo = calls.NewPostgresRepo(pool, a.hub)
		auditLog = audit.NewPostgresRepo(pool)
	default:
		log.Warn("using in-memory store; records are lost on restart")
		repo = calls.NewMemoryRepo(a.hub)
		auditLog = audit.NewMemoryRepo()
	}

	auditSvc := audit.NewService(auditLog)
	engine := reconcile.NewEngine(repo, reconcile.Options{Audit: auditSvc, Logger: log.With("component", "reconcile")})

	var scheduler reconcile.Scheduler
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })

		a.bridge = feed.NewBridge(rdb, a.hub, feed.BridgeOptions{
			Channel: cfg.Feed.Channel,
			Origin:  uuid.NewString(),
			Logger:  log,
		})

		connOpt := asynqConnOpt(cfg)
		rcfg := reconcile.RedeliveryConfig{
			Queue:       cfg.Redelivery.Queue,
			Delay:       cfg.Redelivery.Delay,
			MaxRetry:    cfg.Redelivery.MaxRetry,
			Concurrency: cfg.Redelivery.Concurrency,
		}
		client := reconcile.NewRedeliveryClient(connOpt, rcfg)
		a.closers = append(a.closers, func() { _ = client.Close() })
		scheduler = client
		a.worker = reconcile.NewRedeliveryWorker(connOpt, engine, rcfg, log)
	} else {
		log.Info("redis not configured; change feed is local and early webhooks are not redelivered")
	}

	provider := newProvider(cfg, engine, log)
	if sb, ok := provider.(*telephony.SandboxProvider); ok {
		a.closers = append(a.closers, sb.Stop)
	}
	if err := provider.HealthCheck(ctx); err != nil {
		log.Warn("voice provider health check failed", "provider", provider.Name(), "err", err)
	}

	a.handlers = httpapi.Handlers{
		Gateway: gateway.New(provider, repo, gateway.Options{
			ProviderTimeout: cfg.Provider.Timeout,
			Logger:          log.With("component", "gateway"),
		}),
		Calls:      repo,
		Reconciler: engine,
		Events:     auditSvc,
		Reports:    reporting.NewService(repo),
		Feed:       a.hub,
		Redelivery: scheduler,
		Heartbeat:  cfg.Feed.Heartbeat,
	}
	return a, nil
}

func newProvider(cfg config.Config, engine *reconcile.Engine, log *slog.Logger) telephony.Provider {
	if cfg.Provider.Driver == config.ProviderTwilio {
		return telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID:        cfg.Twilio.AccountSID,
			AuthToken:         cfg.Twilio.AuthToken,
			FromNumber:        cfg.Twilio.FromNumber,
			BaseURL:           cfg.Twilio.APIBaseURL,
			StatusCallbackURL: cfg.StatusCallbackURL(),
			Record:            cfg.Twilio.RecordCalls,
			StreamURL:         cfg.Twilio.StreamURL,
			Greeting:          cfg.Twilio.Greeting,
		})
	}
	p := &telephony.SandboxProvider{Logger: log.With("component", "sandbox")}
	if cfg.Provider.SandboxSimulate {
		p.Emit = engine.Apply
	}
	return p
}

func asynqConnOpt(cfg config.Config) asynq.RedisConnOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}
