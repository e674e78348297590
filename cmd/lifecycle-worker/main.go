package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curaline/telecare-platform/internal/appointments"
	"github.com/curaline/telecare-platform/internal/billing"
	appconfig "github.com/curaline/telecare-platform/internal/config"
	"github.com/curaline/telecare-platform/internal/db"
	"github.com/curaline/telecare-platform/internal/events"
	"github.com/curaline/telecare-platform/internal/lifecycle"
	"github.com/curaline/telecare-platform/internal/observability/metrics"
	redisclient "github.com/curaline/telecare-platform/internal/redis"
	"github.com/curaline/telecare-platform/internal/slots"
	"github.com/curaline/telecare-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting lifecycle worker",
		"env", cfg.Env,
		"sweep_interval", cfg.SweepInterval,
		"defensive_interval", cfg.DefensiveSweepInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisCli, err := redisclient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisTLS)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisCli.Close() }()
	locker := redisclient.NewSlotLocker(redisCli, cfg.SlotLockTTL)

	apptRepo := appointments.NewPgRepository(pool)
	billRepo := billing.NewRepository(pool)
	slotGuard := slots.NewGuard(pool, locker, logger)
	outbox := events.NewOutboxStore(pool)

	registry := prometheus.NewRegistry()
	lifecycleMetrics := metrics.NewLifecycleMetrics(registry)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:        ":" + cfg.MetricsPort,
		Handler:     metricsMux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	orch := lifecycle.NewOrchestrator(apptRepo, billRepo, slotGuard, outbox, cfg, logger)
	runner := lifecycle.NewRunner(orch, cfg, logger).WithObserver(lifecycleMetrics)

	if cfg.EventQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		publisher := events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL)
		deliverer := events.NewDeliverer(outbox, publisher, logger).
			WithBatchSize(int32(cfg.OutboxBatchSize)).
			WithInterval(cfg.OutboxPollInterval)
		go deliverer.Start(ctx)
		logger.Info("outbox deliverer started", "queue", cfg.EventQueueURL)
	} else {
		logger.Warn("EVENT_QUEUE_URL not set, outbox entries will accumulate undelivered")
	}

	runner.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}
	logger.Info("lifecycle worker stopped")
}
