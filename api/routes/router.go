package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heatflow/oilshop-backend/api/controllers"
	ordercontrollers "github.com/heatflow/oilshop-backend/api/controllers/orders"
	webhookcontrollers "github.com/heatflow/oilshop-backend/api/controllers/webhooks"
	"github.com/heatflow/oilshop-backend/api/middleware"
	"github.com/heatflow/oilshop-backend/internal/admin"
	checkoutsvc "github.com/heatflow/oilshop-backend/internal/checkout"
	nexiwebhook "github.com/heatflow/oilshop-backend/internal/webhooks/nexi"
	"github.com/heatflow/oilshop-backend/pkg/auth/session"
	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	pkgredis "github.com/heatflow/oilshop-backend/pkg/redis"
	"github.com/heatflow/oilshop-backend/pkg/storage/gcs"
)

// redisStore is the slice of the Redis client the HTTP layer needs.
type redisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

type paymentService interface {
	controllers.PaymentReconciler
	HandleWebhook(ctx context.Context, delivery nexiwebhook.WebhookDelivery) (*nexiwebhook.Result, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	gcsClient gcs.Pinger,
	sessions session.AccessSessionChecker,
	shopDomains []string,
	checkoutService checkoutsvc.Service,
	paymentService paymentService,
	adminService admin.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(middleware.StorefrontOrigins(shopDomains, !cfg.App.IsProd())),
	)

	quotePolicy := middleware.NewRateLimitPolicy("quote", cfg.Limits.Window, cfg.Limits.QuoteIPLimit, 0)
	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.Limits.Window,
		cfg.Limits.CheckoutIPLimit,
		cfg.Limits.CheckoutEmailLimit,
	)

	var idempotencyStore pkgredis.IdempotencyStore
	if redisClient != nil && cfg.Eventing.HTTPIdempotencyEnable {
		idempotencyStore = redisClient
	}

	deps := map[string]controllers.Pinger{}
	if dbP != nil {
		deps["db"] = dbP
	}
	if redisClient != nil {
		deps["redis"] = redisClient
	}
	if gcsClient != nil {
		deps["gcs"] = gcsClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/nexi", webhookcontrollers.NexiWebhook(paymentService, logg))
		})

		r.Route("/payments/nexi", func(r chi.Router) {
			r.Get("/return", controllers.PaymentReturn(paymentService, false, logg))
			r.Post("/return", controllers.PaymentReturn(paymentService, false, logg))
			r.Get("/cancel", controllers.PaymentReturn(paymentService, true, logg))
			r.Post("/cancel", controllers.PaymentReturn(paymentService, true, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Route("/shops/{shopId}", func(r chi.Router) {
				r.With(middleware.RateLimit(quotePolicy, redisClient, logg)).Post("/quote", controllers.Quote(checkoutService, logg))
				r.With(middleware.RateLimit(checkoutPolicy, redisClient, logg)).Post("/orders", controllers.CheckoutSubmit(checkoutService, logg))
			})

			r.Route("/orders/{orderNumber}", func(r chi.Router) {
				r.With(middleware.RateLimit(checkoutPolicy, redisClient, logg)).Post("/payment", controllers.ReinitiatePayment(checkoutService, logg))
				r.Get("/payment-status", controllers.PaymentStatus(paymentService, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.JWT, sessions, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Get("/payment-logs", ordercontrollers.PaymentLogs(adminService, logg))
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(adminService, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(adminService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin))
				r.Post("/{orderId}/mark-paid", ordercontrollers.MarkPaid(adminService, logg))
				r.Post("/{orderId}/mark-exchanged", ordercontrollers.MarkExchanged(adminService, logg))
				r.Post("/{orderId}/mark-down", ordercontrollers.MarkDown(adminService, logg))
				r.Post("/{orderId}/hide", ordercontrollers.Hide(adminService, logg))
				r.Post("/{orderId}/unhide", ordercontrollers.Unhide(adminService, logg))
				r.Post("/{orderId}/invoice", ordercontrollers.RetryInvoice(adminService, logg))
			})
		})
	})

	return r
}
