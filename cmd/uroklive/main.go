package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/uroklive/uroklive/internal/avatarapi"
	"github.com/uroklive/uroklive/internal/config"
	"github.com/uroklive/uroklive/internal/demo"
	"github.com/uroklive/uroklive/internal/httpapi"
	"github.com/uroklive/uroklive/internal/observability"
	"github.com/uroklive/uroklive/internal/ratelimit"
	"github.com/uroklive/uroklive/internal/realtime"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := demo.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("demo store init failed: %v", err)
	}
	defer store.Close()

	limiter, err := ratelimit.New(cfg.RedisURL, cfg.DemoRateLimit, cfg.DemoRateWindow)
	if err != nil {
		log.Fatalf("rate limiter init failed: %v", err)
	}
	defer limiter.Close()

	agent := avatarapi.New(cfg.AgentAvatarURL, cfg.InternalAPISecret)
	svc := demo.NewService(store, agent)
	registry := realtime.NewRegistry()

	api := httpapi.NewServer(cfg, store, svc, agent, registry, limiter, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	registry.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
