package routes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/heatflow/oilshop-backend/internal/admin"
	checkoutsvc "github.com/heatflow/oilshop-backend/internal/checkout"
	"github.com/heatflow/oilshop-backend/internal/invoices"
	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/paymentlogs"
	"github.com/heatflow/oilshop-backend/internal/pricing"
	nexiwebhook "github.com/heatflow/oilshop-backend/internal/webhooks/nexi"
	pkgAuth "github.com/heatflow/oilshop-backend/pkg/auth"
	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memoryRedis struct {
	stubPinger
	data     map[string]string
	counters map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counters: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (m *memoryRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryRedis) RateLimitKey(scope string) string { return "rl:" + scope }

type stubSessions struct{}

func (stubSessions) HasSession(context.Context, string) (bool, error) {
	return true, nil
}

type stubCheckout struct{ submits int }

func (s *stubCheckout) Quote(_ context.Context, _ string, req pricing.Request) (*pricing.Quote, error) {
	return &pricing.Quote{ProductCode: req.ProductCode, Liters: req.Liters}, nil
}

func (s *stubCheckout) Submit(_ context.Context, input checkoutsvc.SubmitInput) (*checkoutsvc.SubmitResult, error) {
	s.submits++
	return &checkoutsvc.SubmitResult{Order: &models.Order{OrderNumber: "H10000001", Status: enums.OrderStatusPending}}, nil
}

func (s *stubCheckout) InitiatePayment(_ context.Context, orderNumber string) (*checkoutsvc.PaymentRedirect, error) {
	return &checkoutsvc.PaymentRedirect{OrderNumber: orderNumber}, nil
}

type stubPayments struct{}

func (stubPayments) HandleRedirect(context.Context, url.Values, bool) (*nexiwebhook.RedirectResult, error) {
	return &nexiwebhook.RedirectResult{Location: "https://heizoel-bestellung.de/danke"}, nil
}

func (stubPayments) VerifyPayment(_ context.Context, orderNumber string) (*nexiwebhook.PaymentStatus, error) {
	return &nexiwebhook.PaymentStatus{OrderNumber: orderNumber, Status: enums.OrderStatusPending}, nil
}

func (stubPayments) HandleWebhook(context.Context, nexiwebhook.WebhookDelivery) (*nexiwebhook.Result, error) {
	return &nexiwebhook.Result{Outcome: enums.PaymentOutcomePending, Orphaned: true}, nil
}

type stubAdmin struct {
	order *models.Order
}

func (s *stubAdmin) List(context.Context, orders.ListFilter) (*orders.ListResult, error) {
	return &orders.ListResult{Items: []models.Order{*s.order}}, nil
}

func (s *stubAdmin) Detail(context.Context, uuid.UUID) (*admin.OrderDetail, error) {
	return &admin.OrderDetail{Order: s.order}, nil
}

func (s *stubAdmin) transition(to enums.OrderStatus) (*orders.TransitionResult, error) {
	from := s.order.Status
	s.order.Status = to
	return &orders.TransitionResult{Order: s.order, From: from, Changed: from != to}, nil
}

func (s *stubAdmin) MarkPaid(context.Context, admin.Mutation) (*orders.TransitionResult, error) {
	return s.transition(enums.OrderStatusConfirmed)
}

func (s *stubAdmin) MarkExchanged(context.Context, admin.Mutation) (*orders.TransitionResult, error) {
	return s.transition(enums.OrderStatusExchanged)
}

func (s *stubAdmin) MarkDown(context.Context, admin.Mutation) (*orders.TransitionResult, error) {
	return s.transition(enums.OrderStatusDown)
}

func (s *stubAdmin) Hide(context.Context, admin.Mutation) (*models.Order, error) { return s.order, nil }
func (s *stubAdmin) Unhide(context.Context, admin.Mutation) (*models.Order, error) {
	return s.order, nil
}

func (s *stubAdmin) RetryInvoice(context.Context, admin.InvoiceRetry) (*invoices.Result, error) {
	return &invoices.Result{Order: s.order, Existing: true}, nil
}

func (s *stubAdmin) AuditTrail(context.Context, uuid.UUID) ([]models.OrderAuditEvent, error) {
	return nil, nil
}

func (s *stubAdmin) PaymentLogs(context.Context, paymentlogs.Filter) ([]models.PaymentLog, error) {
	return nil, nil
}

type testEnv struct {
	handler  http.Handler
	cfg      *config.Config
	checkout *stubCheckout
	order    *models.Order
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		App:      config.AppConfig{Env: "dev"},
		Eventing: config.EventingConfig{HTTPIdempotencyEnable: true},
		JWT:      config.JWTConfig{Secret: "router-secret", Issuer: "oilshop", ExpirationMinutes: 10},
		Limits: config.RateLimitConfig{
			Window:             time.Minute,
			CheckoutIPLimit:    100,
			CheckoutEmailLimit: 100,
			QuoteIPLimit:       2,
		},
	}
	logg := logger.New(logger.Options{ServiceName: "router-test", Level: logger.ParseLevel("error"), Output: io.Discard})
	checkout := &stubCheckout{}
	order := &models.Order{ID: uuid.New(), OrderNumber: "H10000001", ShopID: "heizoel-de", Status: enums.OrderStatusPending}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("oilshop_orders_created_total 0\n"))
	})

	h := NewRouter(cfg, logg, stubPinger{}, newMemoryRedis(), stubPinger{}, stubSessions{},
		[]string{"heizoel-bestellung.de"}, checkout, stubPayments{}, &stubAdmin{order: order}, metrics)
	return &testEnv{handler: h, cfg: cfg, checkout: checkout, order: order}
}

func (e *testEnv) token(t *testing.T, role enums.OperatorRole) string {
	t.Helper()
	token, _, err := pkgAuth.MintOperatorToken(e.cfg.JWT, time.Now(), pkgAuth.OperatorPayload{Subject: "ops@heizoel.de", Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func (e *testEnv) do(method, target, body, bearer string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(http.MethodGet, "/health/live", "", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected live 200 got %d", rec.Code)
	}
	rec := env.do(http.MethodGet, "/health/ready", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready 200 got %d: %s", rec.Code, rec.Body.String())
	}
	for _, dep := range []string{"db", "redis", "gcs"} {
		if !strings.Contains(rec.Body.String(), fmt.Sprintf("%q:\"ok\"", dep)) {
			t.Fatalf("expected %s check in %s", dep, rec.Body.String())
		}
	}
	if rec := env.do(http.MethodGet, "/metrics", "", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200 got %d", rec.Code)
	}
}

func TestPublicRoutesAreWired(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		method string
		target string
		body   string
		want   int
	}{
		{http.MethodPost, "/api/v1/shops/heizoel-de/quote", `{"product_code":"standard","liters":"1500","postal_code":"80335"}`, http.StatusOK},
		{http.MethodPost, "/api/v1/orders/H10000001/payment", "", http.StatusOK},
		{http.MethodGet, "/api/v1/orders/H10000001/payment-status", "", http.StatusOK},
		{http.MethodGet, "/api/v1/payments/nexi/return?orderNumber=H10000001", "", http.StatusFound},
		{http.MethodPost, "/api/v1/payments/nexi/cancel", "", http.StatusFound},
		{http.MethodPost, "/api/v1/webhooks/nexi", `{"paymentId":"x"}`, http.StatusOK},
	}
	for _, tc := range cases {
		rec := env.do(tc.method, tc.target, tc.body, "", nil)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d got %d: %s", tc.method, tc.target, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestCheckoutReplaysIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	body := `{
		"request_id": "req-1",
		"customer": {"name": "Lena Fischer", "email": "lena@example.de", "language": "de"},
		"delivery_address": {"street": "Bahnhofstraße", "postal_code": "80335", "city": "München", "country": "DE"},
		"product_code": "standard",
		"liters": "1500",
		"expected": {"total": "1075.00"}
	}`
	headers := map[string]string{"Idempotency-Key": "key-1"}

	first := env.do(http.MethodPost, "/api/v1/shops/heizoel-de/orders", body, "", headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", first.Code, first.Body.String())
	}
	second := env.do(http.MethodPost, "/api/v1/shops/heizoel-de/orders", body, "", headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201 got %d", second.Code)
	}
	if env.checkout.submits != 1 {
		t.Fatalf("expected one submit, got %d", env.checkout.submits)
	}
}

func TestQuoteIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	body := `{"product_code":"standard","liters":"1500","postal_code":"80335"}`

	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodPost, "/api/v1/shops/heizoel-de/quote", body, "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, rec.Code)
		}
	}
	if rec := env.do(http.MethodPost, "/api/v1/shops/heizoel-de/quote", body, "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
}

func TestCORSPreflightForShopDomain(t *testing.T) {
	env := newTestEnv(t)
	headers := map[string]string{
		"Origin":                        "https://heizoel-bestellung.de",
		"Access-Control-Request-Method": http.MethodPost,
	}

	rec := env.do(http.MethodOptions, "/api/v1/shops/heizoel-de/orders", "", "", headers)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://heizoel-bestellung.de" {
		t.Fatalf("expected allow-origin for shop domain, got %q", got)
	}

	headers["Origin"] = "https://evil.example"
	rec = env.do(http.MethodOptions, "/api/v1/shops/heizoel-de/orders", "", "", headers)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin for foreign domain, got %q", got)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(http.MethodGet, "/api/admin/v1/orders", "", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/admin/v1/orders", "", "not-a-token", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token got %d", rec.Code)
	}
}

func TestViewerCanReadButNotMutate(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.token(t, enums.OperatorRoleViewer)
	orderPath := "/api/admin/v1/orders/" + env.order.ID.String()

	if rec := env.do(http.MethodGet, "/api/admin/v1/orders", "", viewer, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected list 200 got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, orderPath, "", viewer, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected detail 200 got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/admin/v1/payment-logs?order_number=H10000001", "", viewer, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected payment logs 200 got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, orderPath+"/mark-paid", "", viewer, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected viewer mutation 403 got %d", rec.Code)
	}
}

func TestAdminMutations(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.token(t, enums.OperatorRoleAdmin)
	orderPath := "/api/admin/v1/orders/" + env.order.ID.String()

	for _, action := range []string{"mark-paid", "mark-down", "mark-exchanged", "hide", "unhide", "invoice"} {
		rec := env.do(http.MethodPost, orderPath+"/"+action, "", adminToken, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d: %s", action, rec.Code, rec.Body.String())
		}
	}
	if env.order.Status != enums.OrderStatusExchanged {
		t.Fatalf("expected exchanged, got %s", env.order.Status)
	}
}
