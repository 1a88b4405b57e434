package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/econsult/internal/config"
	"github.com/jwalitptl/econsult/internal/email"
	"github.com/jwalitptl/econsult/internal/handler/health"
	promhandler "github.com/jwalitptl/econsult/internal/handler/prometheus"
	"github.com/jwalitptl/econsult/internal/repository/postgres"
	"github.com/jwalitptl/econsult/internal/service/notification"
	internalworker "github.com/jwalitptl/econsult/internal/worker"
	"github.com/jwalitptl/econsult/pkg/logger"
	"github.com/jwalitptl/econsult/pkg/messaging"
	"github.com/jwalitptl/econsult/pkg/messaging/redis"
	"github.com/jwalitptl/econsult/pkg/metrics"
	"github.com/jwalitptl/econsult/pkg/worker"
)

const healthAddr = ":8081"

func setupHealthCheck(l *logger.Logger, checks map[string]health.Check, registry prometheus.Gatherer) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", promhandler.New(registry).Handler())

	srv := &http.Server{Addr: healthAddr, Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	l := logger.Setup(cfg.Log.Level, cfg.Log.Pretty).WithFields(map[string]interface{}{
		"worker_id": workerID(),
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		l.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		StreamMaxLen: cfg.Redis.StreamMaxLen,
	}, *l.Zerolog())
	if err != nil {
		l.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	registry := promhandler.NewRegistry()
	m := metrics.NewWithRegistry(registry, "econsult", "worker")

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
			MaxRetries:    cfg.Outbox.MaxRetries,
		},
		l,
		m,
	)
	cleanup := internalworker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, l)

	var mailer email.Service
	if cfg.SMTP.Enabled() {
		mailer = email.NewSMTPService(cfg.SMTP)
	} else {
		mailer = email.NewLogService(*l.Zerolog())
	}
	notifier := notification.NewService(mailer, m, *l.Zerolog())

	healthSrv := setupHealthCheck(l, map[string]health.Check{"database": baseRepo.Ping}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		l.Info("Shutting down...")
		cancel()
	}()

	events := messaging.NewBrokerAdapter(broker, messaging.ConsumerConfig{
		Group:         cfg.Redis.ConsumerGroup,
		Consumer:      workerID(),
		ClaimIdle:     cfg.Redis.ClaimIdle,
		MaxDeliveries: cfg.Redis.MaxDeliveries,
	}, *l.Zerolog())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := notifier.Listen(ctx, events); err != nil {
			l.Error(err, "Notification consumer stopped")
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		l.Error(err, "Health check server shutdown failed")
	}
}

func workerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())
}
