package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scoutkit/creator-pipeline/internal/config"
	"github.com/scoutkit/creator-pipeline/internal/db"
	"github.com/scoutkit/creator-pipeline/internal/discovery"
	"github.com/scoutkit/creator-pipeline/internal/httpapi"
	"github.com/scoutkit/creator-pipeline/internal/httpapi/handlers"
	"github.com/scoutkit/creator-pipeline/internal/idempotency"
	"github.com/scoutkit/creator-pipeline/internal/observability"
	"github.com/scoutkit/creator-pipeline/internal/providers"
	"github.com/scoutkit/creator-pipeline/internal/queue"
	"github.com/scoutkit/creator-pipeline/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, closeLog := observability.NewLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()

	gdb := db.Connect(cfg.DBDSN)

	cache := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StatusCacheTTL)
	defer cache.Close()

	var publisher queue.Publisher
	switch strings.ToLower(cfg.QueueMode) {
	case "http":
		publisher = queue.NewHTTPPublisher(cfg.QueuePublishURL, cfg.QueueToken, cfg.CallbackBaseURL)
	case "", "amqp":
		p, err := queue.NewAMQPPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.CallbackBaseURL)
		if err != nil {
			log.Fatalf("amqp publisher: %v", err)
		}
		defer p.Close()
		publisher = p
	default:
		log.Fatalf("unsupported QUEUE_MODE=%q", cfg.QueueMode)
	}

	signer := queue.NewSigner(cfg.QueueSigningKey, cfg.QueueNextSigningKey)

	reg := providers.NewRegistry()
	reg.Register("scout", func(ctx context.Context) (providers.Discovery, error) {
		_ = ctx
		return providers.NewScoutClient(cfg.DiscoveryBaseURL, cfg.DiscoveryAPIKey), nil
	})
	enricher := providers.NewContactClient(cfg.EnrichmentBaseURL, cfg.EnrichmentAPIKey)

	repo := discovery.NewRepo(gdb)
	svc := discovery.NewService(repo, reg, enricher, publisher, logger, discovery.ServiceConfig{
		ProviderName:    "scout",
		BatchSize:       cfg.EnrichBatchSize,
		Concurrency:     cfg.EnrichConcurrency,
		MonitorInterval: cfg.MonitorInterval,
		JobTimeout:      cfg.JobTimeout,
	})

	ledger := idempotency.NewLedger(gdb, logger)
	h := handlers.NewHandler(svc, ledger, signer, cache, cfg, logger)
	router := httpapi.NewRouter(h)

	observability.StartMetricsServer(cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Periodic ledger cleanup; completed events past retention go, failed rows stay.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := ledger.Cleanup(ctx, cfg.LedgerRetention)
				if err != nil {
					logger.Error("ledger cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("ledger cleanup", "deleted", n)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server started", "addr", cfg.ListenAddr, "queue_mode", cfg.QueueMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
