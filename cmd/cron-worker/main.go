package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/heatflow/oilshop-backend/internal/cron"
	"github.com/heatflow/oilshop-backend/internal/invoices"
	"github.com/heatflow/oilshop-backend/internal/notifications"
	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/shops"
	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/instance"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/metrics"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
	"github.com/heatflow/oilshop-backend/pkg/redis"
	"github.com/heatflow/oilshop-backend/pkg/sendgrid"
	"github.com/heatflow/oilshop-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	exitOnErr(logg, "failed to load config", err)
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
	})

	registry, err := shops.Load(cfg.Shops.File)
	exitOnErr(logg, "failed to load shop catalogue", err)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOnErr(logg, "failed to bootstrap database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	exitOnErr(logg, "failed to bootstrap redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	exitOnErr(logg, "failed to bootstrap invoice storage", err)
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing storage client", err)
		}
	}()

	mailer, err := sendgrid.NewClient(cfg.Sendgrid)
	exitOnErr(logg, "failed to create sendgrid client", err)

	reg := prometheus.DefaultRegisterer
	workflow := metrics.NewWorkflow(reg)

	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	outboxService := outbox.NewService(outboxRepo, logg)
	orderRepo := orders.NewRepository(conn)
	orderService, err := orders.NewService(orderRepo, dbClient, outboxService)
	exitOnErr(logg, "failed to create orders service", err)

	dispatchRepo := notifications.NewRepository(conn)
	notificationService, err := notifications.NewService(notifications.ServiceParams{
		Repo:      dispatchRepo,
		OrderRepo: orderRepo,
		TxRunner:  dbClient,
		Shops:     registry,
		Mailer:    mailer,
		Metrics:   workflow,
		Logger:    logg,

		QueuedTimeout: cfg.Sendgrid.QueuedTimeout,
	})
	exitOnErr(logg, "failed to create notification service", err)

	invoiceService, err := invoices.NewService(invoices.ServiceParams{
		Orders:     orderService,
		OrderRepo:  orderRepo,
		TxRunner:   dbClient,
		Outbox:     outboxService,
		Shops:      registry,
		Storage:    gcsClient,
		Dispatcher: notificationService,
		Metrics:    workflow,
		Logger:     logg,
	})
	exitOnErr(logg, "failed to create invoice service", err)

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outboxRepo,
		RetentionDays: cfg.Cron.OutboxRetentionDays,
		DeadAttempts:  cfg.Outbox.MaxAttempts,
	})
	exitOnErr(logg, "failed to create outbox retention job", err)

	emailRetry, err := cron.NewEmailRetryJob(cron.EmailRetryJobParams{
		Logger:        logg,
		Dispatches:    dispatchRepo,
		Confirmations: notificationService,
		Invoices:      invoiceService,
		MaxAttempts:   cfg.Cron.EmailMaxAttempts,
		BatchSize:     cfg.Cron.BatchSize,
		QueuedTimeout: cfg.Sendgrid.QueuedTimeout,
	})
	exitOnErr(logg, "failed to create email retry job", err)

	invoiceRetry, err := cron.NewInvoiceRetryJob(cron.InvoiceRetryJobParams{
		Logger:    logg,
		Orders:    orderRepo,
		Invoices:  invoiceService,
		BatchSize: cfg.Cron.BatchSize,
	})
	exitOnErr(logg, "failed to create invoice retry job", err)

	jobs, err := cron.NewRegistry(invoiceRetry, emailRetry, retention)
	exitOnErr(logg, "failed to register cron jobs", err)

	interval := time.Duration(cfg.Cron.IntervalMinutes) * time.Minute
	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey(lockScope(cfg.App.Env)), 2*interval)
	exitOnErr(logg, "failed to create cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: interval,
	})
	exitOnErr(logg, "failed to create cron service", err)

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockScope(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker-" + env
}

func exitOnErr(logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}
