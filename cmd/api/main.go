package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callsync/internal/config"
	"callsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := buildApp(rootCtx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(cfg, log, app),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /api/changes streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver, "provider", cfg.Provider.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		// Streams only end once their subscriptions do.
		app.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})
	if app.bridge != nil {
		g.Go(func() error { return app.bridge.Run(gctx) })
	}
	if app.worker != nil {
		g.Go(func() error { return app.worker.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("api stopped with error", "err", err)
		app.Close()
		os.Exit(1)
	}
	log.Info("api stopped")
}
