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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heatflow/oilshop-backend/api/routes"
	"github.com/heatflow/oilshop-backend/internal/admin"
	"github.com/heatflow/oilshop-backend/internal/checkout"
	"github.com/heatflow/oilshop-backend/internal/invoices"
	"github.com/heatflow/oilshop-backend/internal/notifications"
	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/paymentlogs"
	"github.com/heatflow/oilshop-backend/internal/shops"
	nexiwebhook "github.com/heatflow/oilshop-backend/internal/webhooks/nexi"
	"github.com/heatflow/oilshop-backend/pkg/auth/session"
	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/metrics"
	"github.com/heatflow/oilshop-backend/pkg/migrate"
	"github.com/heatflow/oilshop-backend/pkg/nexi"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
	"github.com/heatflow/oilshop-backend/pkg/redis"
	"github.com/heatflow/oilshop-backend/pkg/sendgrid"
	"github.com/heatflow/oilshop-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	registry, err := shops.Load(cfg.Shops.File)
	if err != nil {
		logg.Error(context.Background(), "failed to load shop catalogue", err)
		os.Exit(1)
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs", err)
		}
	}()

	gateway, err := nexi.NewClient(cfg.Nexi)
	if err != nil {
		logg.Error(context.Background(), "failed to create nexi client", err)
		os.Exit(1)
	}
	mailer, err := sendgrid.NewClient(cfg.Sendgrid)
	if err != nil {
		logg.Error(context.Background(), "failed to create sendgrid client", err)
		os.Exit(1)
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	workflow := metrics.NewWorkflow(promRegistry)

	conn := dbClient.DB()
	orderRepo := orders.NewRepository(conn)
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	orderService, err := orders.NewService(orderRepo, dbClient, outboxService)
	exitOnErr(logg, "orders service", err)

	paymentLogs, err := paymentlogs.NewService(paymentlogs.NewRepository(conn))
	exitOnErr(logg, "payment log service", err)

	notificationService, err := notifications.NewService(notifications.ServiceParams{
		Repo:      notifications.NewRepository(conn),
		OrderRepo: orderRepo,
		TxRunner:  dbClient,
		Shops:     registry,
		Mailer:    mailer,
		Metrics:   workflow,
		Logger:    logg,

		QueuedTimeout: cfg.Sendgrid.QueuedTimeout,
	})
	exitOnErr(logg, "notification service", err)

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
	exitOnErr(logg, "invoice service", err)

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Orders:      orderService,
		Shops:       registry,
		Invoices:    invoiceService,
		Gateway:     gateway,
		PaymentLogs: paymentLogs,
		Metrics:     workflow,
		Logger:      logg,
		PublicURL:   cfg.App.PublicURL,
	})
	exitOnErr(logg, "checkout service", err)

	guard, err := nexiwebhook.NewDeliveryGuard(redisClient, cfg.Eventing.WebhookDedupTTL)
	exitOnErr(logg, "webhook delivery guard", err)

	paymentService, err := nexiwebhook.NewService(nexiwebhook.ServiceParams{
		Orders:        orderService,
		OrderRepo:     orderRepo,
		PaymentLogs:   paymentLogs,
		Outbox:        outboxService,
		TxRunner:      dbClient,
		Shops:         registry,
		Gateway:       gateway,
		Confirmations: notificationService,
		Guard:         guard,
		WebhookSecret: cfg.Nexi.WebhookSecret,
		FallbackURL:   cfg.Nexi.FallbackURL,
		Metrics:       workflow,
		Logger:        logg,
	})
	exitOnErr(logg, "payment reconciliation service", err)

	adminService, err := admin.NewService(admin.ServiceParams{
		Orders:      orderService,
		PaymentLogs: paymentLogs,
		Invoices:    invoiceService,
		Emails:      notificationService,
		Logger:      logg,
	})
	exitOnErr(logg, "admin service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":   cfg.App.Env,
		"addr":  addr,
		"shops": registry.IDs(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gcsClient,
			sessionManager,
			registry.Domains(),
			checkoutService,
			paymentService,
			adminService,
			promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}

func exitOnErr(logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+what, err)
	os.Exit(1)
}
