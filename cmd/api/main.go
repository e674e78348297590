package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curaline/telecare-platform/internal/api/router"
	"github.com/curaline/telecare-platform/internal/appointments"
	"github.com/curaline/telecare-platform/internal/billing"
	appconfig "github.com/curaline/telecare-platform/internal/config"
	"github.com/curaline/telecare-platform/internal/db"
	"github.com/curaline/telecare-platform/internal/events"
	"github.com/curaline/telecare-platform/internal/observability/metrics"
	"github.com/curaline/telecare-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting telecare API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	lifecycleMetrics := metrics.NewLifecycleMetrics(registry)

	apptRepo := appointments.NewPgRepository(pool)
	billRepo := billing.NewRepository(pool)
	outbox := events.NewOutboxStore(pool)
	processed := events.NewProcessedStore(pool)

	gateway := billing.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey, logger)
	reconciler := billing.NewReconciler(billRepo, apptRepo, outbox, logger)
	webhookHandler := billing.NewWebhookHandler(cfg.GatewayWebhookSecret, reconciler, processed, logger).
		WithObserver(lifecycleMetrics.ObserveWebhookEvent)

	coordinator := billing.NewCoordinator(billRepo, gateway, outbox, logger).
		WithMaxAttempts(cfg.RefundRetryAttempts).
		WithBaseDelay(cfg.RefundRetryBaseDelay).
		WithPolicyWindow(cfg.RefundPolicyWindow)
	refundHandler := billing.NewRefundHandler(coordinator, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		WebhookHandler:     webhookHandler,
		RefundHandler:      refundHandler,
		OperatorAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Readiness:          pool.Ping,
		WebhookRateLimit:   cfg.WebhookRateLimit,
		WebhookBurst:       cfg.WebhookBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
