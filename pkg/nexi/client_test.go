package nexi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/pkg/config"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
)

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(
		config.NexiConfig{APIKey: "test-key"},
		WithBaseURL("http://nexi.test/api/v1"),
		WithHTTPClient(&http.Client{Transport: rt}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func validRequest() InitiateRequest {
	return InitiateRequest{
		OrderNumber:     "H100042",
		AmountMinor:     102450,
		Currency:        "eur",
		CustomerEmail:   "kunde@example.com",
		Language:        "de",
		ReturnURL:       "https://api.example/api/v1/payments/nexi/return",
		CancelURL:       "https://api.example/api/v1/payments/nexi/cancel",
		NotificationURL: "https://api.example/api/v1/webhooks/nexi",
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(config.NexiConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestInitiateSendsMinorUnitsAndHeaders(t *testing.T) {
	var captured *http.Request
	var payload linkRequest
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"paymentLinkId":"PL-77","link":"https://xpay.example/pay/PL-77"}`), nil
	})

	result, err := client.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if captured.URL.String() != "http://nexi.test/api/v1/paybylink" {
		t.Fatalf("unexpected url %q", captured.URL.String())
	}
	if captured.Header.Get("X-Api-Key") != "test-key" {
		t.Fatalf("api key header missing")
	}
	if captured.Header.Get("Correlation-Id") == "" {
		t.Fatalf("correlation id missing")
	}
	if payload.Order.Amount != "102450" || payload.Order.Currency != "EUR" {
		t.Fatalf("unexpected order payload %+v", payload.Order)
	}
	if payload.PaymentSession.Language != "deu" {
		t.Fatalf("unexpected language %q", payload.PaymentSession.Language)
	}
	if result.PaymentID != "PL-77" || result.RedirectURL != "https://xpay.example/pay/PL-77" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestInitiateMissingRedirectIsGatewayError(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"paymentLinkId":"PL-1"}`), nil
	})

	_, err := client.Initiate(context.Background(), validRequest())
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if typed := pkgerrors.As(err); typed.Message() != PublicErrorMessage {
		t.Fatalf("unexpected public message %q", typed.Message())
	}
}

func TestInitiateNon2xxIsGatewayError(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `{"errors":[{"code":"PS0001"}]}`), nil
	})

	_, err := client.Initiate(context.Background(), validRequest())
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestInitiateTransportFailureIsGatewayError(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: i/o timeout")
	})

	_, err := client.Initiate(context.Background(), validRequest())
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestInitiateValidatesInput(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	req := validRequest()
	req.AmountMinor = 0
	if _, err := client.Initiate(context.Background(), req); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyPicksLatestOperation(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/orders/H100042" {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"operations":[
			{"operationId":"op-1","operationResult":"PENDING"},
			{"operationId":"op-2","operationResult":"AUTHORIZED"}
		]}`), nil
	})

	result, err := client.Verify(context.Background(), "H100042")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.ResultCode != "AUTHORIZED" || result.PaymentID != "op-2" {
		t.Fatalf("unexpected verify result %+v", result)
	}
}

func TestToMinorUnitsRoundsHalfUp(t *testing.T) {
	cases := map[string]int64{
		"1024.50":  102450,
		"10.005":   1001,
		"10.004":   1000,
		"0.015":    2,
		"1189.999": 119000,
	}
	for in, want := range cases {
		if got := ToMinorUnits(decimal.RequireFromString(in)); got != want {
			t.Fatalf("ToMinorUnits(%s) = %d, want %d", in, got, want)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
