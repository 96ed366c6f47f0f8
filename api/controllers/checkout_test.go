package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	checkoutsvc "github.com/heatflow/oilshop-backend/internal/checkout"
	"github.com/heatflow/oilshop-backend/internal/pricing"
	nexiwebhook "github.com/heatflow/oilshop-backend/internal/webhooks/nexi"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
)

type stubCheckout struct {
	quoteShop string
	quoteReq  pricing.Request
	submitted *checkoutsvc.SubmitInput
	duplicate bool
	initiated string
	err       error
}

func (s *stubCheckout) Quote(_ context.Context, shopID string, req pricing.Request) (*pricing.Quote, error) {
	s.quoteShop = shopID
	s.quoteReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &pricing.Quote{ProductCode: req.ProductCode, Liters: req.Liters, Total: decimal.RequireFromString("1075.00")}, nil
}

func (s *stubCheckout) Submit(_ context.Context, input checkoutsvc.SubmitInput) (*checkoutsvc.SubmitResult, error) {
	s.submitted = &input
	if s.err != nil {
		return nil, s.err
	}
	return &checkoutsvc.SubmitResult{
		Order: &models.Order{
			OrderNumber:   "A10000001",
			Status:        enums.OrderStatusPending,
			PaymentMethod: enums.PaymentMethodCard,
			Currency:      enums.CurrencyEUR,
			TotalAmount:   input.Submitted.Total,
		},
		Duplicate:   s.duplicate,
		PaymentID:   "pay-1",
		RedirectURL: "https://pay.example/hpp/pay-1",
	}, nil
}

func (s *stubCheckout) InitiatePayment(_ context.Context, orderNumber string) (*checkoutsvc.PaymentRedirect, error) {
	s.initiated = orderNumber
	if s.err != nil {
		return nil, s.err
	}
	return &checkoutsvc.PaymentRedirect{OrderNumber: orderNumber, PaymentID: "pay-2", RedirectURL: "https://pay.example/hpp/pay-2"}, nil
}

type stubReconciler struct {
	values    url.Values
	cancelled bool
	verified  string
	err       error
}

func (s *stubReconciler) HandleRedirect(_ context.Context, values url.Values, cancelled bool) (*nexiwebhook.RedirectResult, error) {
	s.values = values
	s.cancelled = cancelled
	if s.err != nil {
		return nil, s.err
	}
	return &nexiwebhook.RedirectResult{Location: "https://heizoel.example/checkout/success?order=A10000001"}, nil
}

func (s *stubReconciler) VerifyPayment(_ context.Context, orderNumber string) (*nexiwebhook.PaymentStatus, error) {
	s.verified = orderNumber
	if s.err != nil {
		return nil, s.err
	}
	return &nexiwebhook.PaymentStatus{OrderNumber: orderNumber, Status: enums.OrderStatusConfirmed, Outcome: enums.PaymentOutcomeCompleted, Verified: true}, nil
}

const checkoutBody = `{
	"request_id": "9f0c5c1e-6a53-4d0e-a0c2-1f3c55b1d001",
	"customer": {"name": "Lena Fischer", "email": "lena@example.de", "language": "de"},
	"delivery_address": {"street": "Bahnhofstraße", "house_no": "3", "postal_code": "80335", "city": "München", "country": "DE"},
	"notes": "  ring twice  ",
	"product_code": "standard",
	"liters": "1500",
	"expected": {"total": "1075.00"}
}`

func publicRouter(checkout checkoutsvc.Service, reconciler PaymentReconciler) http.Handler {
	r := chi.NewRouter()
	r.Post("/shops/{shopId}/quote", Quote(checkout, nil))
	r.Post("/shops/{shopId}/orders", CheckoutSubmit(checkout, nil))
	r.Post("/orders/{orderNumber}/payment", ReinitiatePayment(checkout, nil))
	r.Get("/orders/{orderNumber}/payment-status", PaymentStatus(reconciler, nil))
	r.Get("/return", PaymentReturn(reconciler, false, nil))
	r.Post("/cancel", PaymentReturn(reconciler, true, nil))
	return r
}

func doJSON(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestCheckoutSubmitCreatesOrder(t *testing.T) {
	svc := &stubCheckout{}
	rec, body := doJSON(t, publicRouter(svc, nil), http.MethodPost, "/shops/heizoel-de/orders", checkoutBody,
		map[string]string{"Origin": "https://Heizoel.Example"})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.submitted)
	assert.Equal(t, "heizoel-de", svc.submitted.ShopID)
	assert.Equal(t, "heizoel.example", svc.submitted.OriginDomain)
	assert.Equal(t, "ring twice", svc.submitted.Notes)
	assert.True(t, decimal.NewFromInt(1500).Equal(svc.submitted.Liters))
	assert.True(t, decimal.RequireFromString("1075").Equal(svc.submitted.Submitted.Total))
	assert.Nil(t, svc.submitted.Submitted.PricePerLiter)

	data := body["data"].(map[string]any)
	assert.Equal(t, "A10000001", data["order_number"])
	assert.Equal(t, "https://pay.example/hpp/pay-1", data["redirect_url"])
	assert.Equal(t, false, data["duplicate"])
}

func TestCheckoutSubmitDuplicateAnswers200(t *testing.T) {
	svc := &stubCheckout{duplicate: true}
	rec, body := doJSON(t, publicRouter(svc, nil), http.MethodPost, "/shops/heizoel-de/orders", checkoutBody, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["data"].(map[string]any)["duplicate"])
}

func TestCheckoutSubmitValidation(t *testing.T) {
	svc := &stubCheckout{}
	h := publicRouter(svc, nil)

	rec, body := doJSON(t, h, http.MethodPost, "/shops/heizoel-de/orders", `{"request_id":"x","customer":{"name":"A","email":"nope","language":"de"}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), body["error"].(map[string]any)["code"])
	assert.Nil(t, svc.submitted)

	rec, _ = doJSON(t, h, http.MethodPost, "/shops/heizoel-de/orders", `{"unknown":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutSubmitPriceMismatch(t *testing.T) {
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeConflict, "price changed").WithDetails(map[string]any{"field": "total"})}
	rec, body := doJSON(t, publicRouter(svc, nil), http.MethodPost, "/shops/heizoel-de/orders", checkoutBody, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "price changed", body["error"].(map[string]any)["message"])
}

func TestQuote(t *testing.T) {
	svc := &stubCheckout{}
	rec, body := doJSON(t, publicRouter(svc, nil), http.MethodPost, "/shops/heizoel-de/quote",
		`{"product_code":"standard","liters":"1500","postal_code":"80335","discount_code":"WINTER"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "heizoel-de", svc.quoteShop)
	assert.Equal(t, "WINTER", svc.quoteReq.DiscountCode)
	assert.Equal(t, "1075", body["data"].(map[string]any)["total"])
}

func TestQuoteRequiresLiters(t *testing.T) {
	svc := &stubCheckout{}
	rec, _ := doJSON(t, publicRouter(svc, nil), http.MethodPost, "/shops/heizoel-de/quote",
		`{"product_code":"standard","postal_code":"80335"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.quoteShop)
}

func TestUnknownShopIsNotFound(t *testing.T) {
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")}
	rec, _ := doJSON(t, publicRouter(svc, nil), http.MethodPost, "/shops/nope/quote",
		`{"product_code":"standard","liters":"1500","postal_code":"80335"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReinitiatePaymentNormalisesOrderNumber(t *testing.T) {
	svc := &stubCheckout{}
	rec, body := doJSON(t, publicRouter(svc, nil), http.MethodPost, "/orders/a10000001/payment", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A10000001", svc.initiated)
	assert.Equal(t, "https://pay.example/hpp/pay-2", body["data"].(map[string]any)["redirect_url"])
}

func TestPaymentStatus(t *testing.T) {
	rc := &stubReconciler{}
	rec, body := doJSON(t, publicRouter(nil, rc), http.MethodGet, "/orders/A10000001/payment-status", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A10000001", rc.verified)
	data := body["data"].(map[string]any)
	assert.Equal(t, "confirmed", data["status"])
	assert.Equal(t, true, data["verified"])
}

func TestPaymentReturnRedirects(t *testing.T) {
	rc := &stubReconciler{}
	h := publicRouter(nil, rc)

	req := httptest.NewRequest(http.MethodGet, "/return?orderNumber=A10000001&resultCode=APPROVED", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://heizoel.example/checkout/success?order=A10000001", rec.Header().Get("Location"))
	assert.Equal(t, "A10000001", rc.values.Get("orderNumber"))
	assert.False(t, rc.cancelled)

	req = httptest.NewRequest(http.MethodPost, "/cancel", strings.NewReader("orderNumber=A10000001"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, rc.cancelled)
	assert.Equal(t, "A10000001", rc.values.Get("orderNumber"))
}

func TestOriginDomainFallsBackToReferer(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Referer", "https://www.heizoel.example/checkout")
	assert.Equal(t, "www.heizoel.example", originDomain(req))

	assert.Empty(t, originDomain(httptest.NewRequest(http.MethodPost, "/", nil)))
}
