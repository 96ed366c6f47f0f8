package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/heatflow/oilshop-backend/internal/analytics/router"
	"github.com/heatflow/oilshop-backend/internal/analytics/worker"
	"github.com/heatflow/oilshop-backend/internal/analytics/writer"
	"github.com/heatflow/oilshop-backend/pkg/bigquery"
	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/outbox/idempotency"
	"github.com/heatflow/oilshop-backend/pkg/pubsub"
	"github.com/heatflow/oilshop-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "analytics-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "analytics-worker"

	logg = logger.New(logger.Options{
		ServiceName: "analytics-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	subscription, err := pubsubClient.AnalyticsSubscription(ctx)
	requireResource(ctx, logg, "analytics subscription", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerDedupTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	orderEvents, err := writer.New(bqClient, writer.Config{
		Table:     cfg.BigQuery.OrderEventsTable,
		BatchSize: cfg.BigQuery.BatchSize,
	})
	requireResource(ctx, logg, "order events writer", err)

	routingHandler, err := router.New(orderEvents, logg)
	requireResource(ctx, logg, "analytics router", err)

	service, err := worker.NewService(subscription, routingHandler, manager, logg)
	requireResource(ctx, logg, "analytics worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"table":       cfg.BigQuery.OrderEventsTable,
	})
	logg.Info(runCtx, "analytics worker ready")

	runErr := service.Run(runCtx)
	if err := orderEvents.Flush(context.WithoutCancel(runCtx)); err != nil {
		logg.Error(runCtx, "failed to flush buffered order events", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", runErr)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
