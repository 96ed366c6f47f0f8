// Package nexi talks to the Nexi XPay "Pay by Link" API: it creates hosted
// payment links and re-reads order payment results.
package nexi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/pkg/config"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://xpay.nexigroup.com/api/phoenix-0.0/psp/api/v1"
	defaultTimeout              = 15 * time.Second
	responseBodyReadLimit int64 = 1024

	// PublicErrorMessage is the only gateway failure text customers see.
	PublicErrorMessage = "payment provider unavailable, please retry"
)

var errAPIKeyRequired = errors.New("nexi api key is required")

// Gateway is the payment-initiation surface the checkout depends on.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, orderNumber string) (*VerifyResult, error)
}

// Client wraps the Nexi XPay REST endpoints.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	correlationID func() string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the gateway client from config.
func NewClient(cfg config.NexiConfig, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(cfg.APIKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	ids, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("correlation id generator: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		apiKey:        trimmedKey,
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: timeout},
		correlationID: ids,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		client.baseURL = strings.TrimSpace(cfg.BaseURL)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// InitiateRequest carries the order data the hosted payment page needs.
type InitiateRequest struct {
	OrderNumber     string
	AmountMinor     int64
	Currency        string
	CustomerEmail   string
	Language        string
	ReturnURL       string
	CancelURL       string
	NotificationURL string
}

// InitiateResult is the opaque provider id plus where to send the browser.
type InitiateResult struct {
	PaymentID   string
	RedirectURL string
}

// VerifyResult is the provider's current view of an order's payment.
type VerifyResult struct {
	OrderNumber string
	PaymentID   string
	ResultCode  string
	Raw         map[string]any
}

type linkOrder struct {
	OrderID    string `json:"orderId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	CustomerID string `json:"customerId,omitempty"`
}

type linkSession struct {
	ActionType      string `json:"actionType"`
	Amount          string `json:"amount"`
	Language        string `json:"language,omitempty"`
	ResultURL       string `json:"resultUrl"`
	CancelURL       string `json:"cancelUrl"`
	NotificationURL string `json:"notificationUrl,omitempty"`
}

type linkRequest struct {
	Order          linkOrder   `json:"order"`
	PaymentSession linkSession `json:"paymentSession"`
}

// Initiate creates a pay-by-link session. A result is only returned when the
// provider sent both a link and a link id.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, PublicErrorMessage)
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	if req.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(req.ReturnURL) == "" || strings.TrimSpace(req.CancelURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return and cancel urls are required")
	}

	amount := fmt.Sprintf("%d", req.AmountMinor)
	body := linkRequest{
		Order: linkOrder{
			OrderID:    req.OrderNumber,
			Amount:     amount,
			Currency:   strings.ToUpper(req.Currency),
			CustomerID: req.CustomerEmail,
		},
		PaymentSession: linkSession{
			ActionType:      "PAY",
			Amount:          amount,
			Language:        providerLanguage(req.Language),
			ResultURL:       req.ReturnURL,
			CancelURL:       req.CancelURL,
			NotificationURL: req.NotificationURL,
		},
	}

	var apiResp struct {
		PaymentLinkID string `json:"paymentLinkId"`
		Link          string `json:"link"`
	}
	if err := c.do(ctx, http.MethodPost, "paybylink", body, &apiResp); err != nil {
		return nil, err
	}

	if strings.TrimSpace(apiResp.Link) == "" || strings.TrimSpace(apiResp.PaymentLinkID) == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("response missing link or paymentLinkId"), PublicErrorMessage)
	}
	if _, err := url.ParseRequestURI(apiResp.Link); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("invalid redirect url: %w", err), PublicErrorMessage)
	}

	return &InitiateResult{
		PaymentID:   apiResp.PaymentLinkID,
		RedirectURL: apiResp.Link,
	}, nil
}

// Verify reads the order from the provider and reports the result of its
// latest payment operation.
func (c *Client) Verify(ctx context.Context, orderNumber string) (*VerifyResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, PublicErrorMessage)
	}
	trimmed := strings.TrimSpace(orderNumber)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}

	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, "orders/"+url.PathEscape(trimmed), nil, &raw); err != nil {
		return nil, err
	}

	result := &VerifyResult{OrderNumber: trimmed, Raw: raw}
	ops, _ := raw["operations"].([]any)
	for i := len(ops) - 1; i >= 0; i-- {
		op, ok := ops[i].(map[string]any)
		if !ok {
			continue
		}
		if code, _ := op["operationResult"].(string); code != "" {
			result.ResultCode = code
			result.PaymentID, _ = op["operationId"].(string)
			break
		}
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, PublicErrorMessage)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, PublicErrorMessage)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	if c.correlationID != nil {
		httpReq.Header.Set("Correlation-Id", c.correlationID())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%s %s: %w", method, path, err), PublicErrorMessage)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), PublicErrorMessage)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("decode %s response: %w", path, err), PublicErrorMessage)
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

// ToMinorUnits rounds half-up to the cent and returns the integer cent amount.
// Negative inputs round away from zero symmetrically.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

var providerLanguages = map[string]string{
	"de": "deu",
	"it": "ita",
	"fr": "fra",
	"en": "eng",
	"nl": "nld",
	"mt": "eng",
}

func providerLanguage(lang string) string {
	key := strings.ToLower(strings.TrimSpace(lang))
	if len(key) > 2 {
		key = key[:2]
	}
	if mapped, ok := providerLanguages[key]; ok {
		return mapped
	}
	return "eng"
}
