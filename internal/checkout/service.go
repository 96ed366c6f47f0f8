package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/internal/invoices"
	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/paymentlogs"
	"github.com/heatflow/oilshop-backend/internal/pricing"
	"github.com/heatflow/oilshop-backend/internal/shops"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/metrics"
	"github.com/heatflow/oilshop-backend/pkg/nexi"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

// Callback paths the gateway sends the browser and its notifications to.
const (
	ReturnPath  = "/api/v1/payments/nexi/return"
	CancelPath  = "/api/v1/payments/nexi/cancel"
	WebhookPath = "/api/v1/webhooks/nexi"
)

type invoiceGenerator interface {
	Generate(ctx context.Context, input invoices.GenerateInput) (*invoices.Result, error)
}

// SubmitInput is the checkout form as posted by the storefront, including
// the amounts the customer was shown.
type SubmitInput struct {
	ShopID       string
	RequestID    string
	OriginDomain string

	Customer        orders.Customer
	DeliveryAddress types.Address
	BillingAddress  *types.Address
	Notes           string

	ProductCode   string
	Liters        decimal.Decimal
	DiscountCode  string
	BankAccountID string

	Submitted pricing.Submitted
}

// SubmitResult tells the storefront where to go next. Card orders carry a
// RedirectURL; bank-transfer orders carry the invoice or InvoicePending.
type SubmitResult struct {
	Order          *models.Order
	Duplicate      bool
	Quote          *pricing.Quote
	PaymentID      string
	RedirectURL    string
	InvoiceNumber  string
	InvoiceURL     string
	InvoicePending bool
}

// PaymentRedirect is a freshly created hosted payment page.
type PaymentRedirect struct {
	OrderNumber string `json:"order_number"`
	PaymentID   string `json:"payment_id"`
	RedirectURL string `json:"redirect_url"`
}

// Service runs quotes and order submission for both checkout variants.
type Service interface {
	Quote(ctx context.Context, shopID string, req pricing.Request) (*pricing.Quote, error)
	Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error)
	InitiatePayment(ctx context.Context, orderNumber string) (*PaymentRedirect, error)
}

type ServiceParams struct {
	Orders      orders.Service
	Shops       *shops.Registry
	Invoices    invoiceGenerator
	Gateway     nexi.Gateway
	PaymentLogs paymentlogs.Service
	Metrics     *metrics.Workflow
	Logger      *logger.Logger
	// PublicURL is the externally reachable base of this API.
	PublicURL string
}

type service struct {
	orders    orders.Service
	shops     *shops.Registry
	invoices  invoiceGenerator
	gateway   nexi.Gateway
	logs      paymentlogs.Service
	metrics   *metrics.Workflow
	logg      *logger.Logger
	publicURL string
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Orders == nil:
		return nil, fmt.Errorf("orders service required")
	case params.Shops == nil:
		return nil, fmt.Errorf("shop registry required")
	case params.Invoices == nil:
		return nil, fmt.Errorf("invoice generator required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.PaymentLogs == nil:
		return nil, fmt.Errorf("payment log service required")
	case strings.TrimSpace(params.PublicURL) == "":
		return nil, fmt.Errorf("public url required")
	}
	return &service{
		orders:    params.Orders,
		shops:     params.Shops,
		invoices:  params.Invoices,
		gateway:   params.Gateway,
		logs:      params.PaymentLogs,
		metrics:   params.Metrics,
		logg:      params.Logger,
		publicURL: strings.TrimRight(params.PublicURL, "/"),
	}, nil
}

func (s *service) Quote(ctx context.Context, shopID string, req pricing.Request) (*pricing.Quote, error) {
	shop, err := s.shops.Get(shopID)
	if err != nil {
		return nil, err
	}
	return pricing.Calculate(shop, req)
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	shop, err := s.shops.Get(input.ShopID)
	if err != nil {
		return nil, err
	}

	quote, err := pricing.Calculate(shop, pricing.Request{
		ProductCode:  input.ProductCode,
		Liters:       input.Liters,
		PostalCode:   input.DeliveryAddress.PostalCode,
		DiscountCode: input.DiscountCode,
	})
	if err != nil {
		return nil, err
	}
	if err := pricing.Verify(quote, input.Submitted); err != nil {
		return nil, err
	}

	var bankAccountID *string
	if !shop.UsesCard() {
		acct, ok := shop.BankAccount(input.BankAccountID)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown bank account").
				WithDetails(map[string]any{"bank_account_id": input.BankAccountID})
		}
		bankAccountID = &acct.ID
	}

	created, err := s.orders.Create(ctx, orders.CreateInput{
		RequestID:       input.RequestID,
		ShopID:          shop.ID,
		OrderPrefix:     shop.OrderPrefix,
		OriginDomain:    strings.TrimSpace(input.OriginDomain),
		Customer:        input.Customer,
		DeliveryAddress: input.DeliveryAddress,
		BillingAddress:  input.BillingAddress,
		Notes:           optional(input.Notes),
		ProductCode:     quote.ProductCode,
		Liters:          quote.Liters,
		PricePerLiter:   quote.PricePerLiter,
		BasePrice:       quote.BasePrice,
		DeliveryFee:     quote.DeliveryFee,
		Discount:        quote.Discount,
		DiscountCode:    optional(quote.DiscountCode),
		Total:           quote.Total,
		Currency:        shop.Currency,
		PaymentMethod:   shop.PaymentMethod,
		BankAccountID:   bankAccountID,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.OrderCreated(shop.ID, created.Duplicate)

	order := created.Order
	ctx = s.logCtx(ctx, order)
	result := &SubmitResult{Order: order, Duplicate: created.Duplicate, Quote: quote}
	if created.Duplicate && s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "request_id", order.RequestID), "duplicate checkout submission")
	}

	if order.PaymentMethod.RequiresGateway() {
		if order.Status != enums.OrderStatusPending {
			return result, nil
		}
		// A retried submission resumes the payment page it already opened.
		if created.Duplicate && order.NexiPaymentID != nil && order.NexiRedirectURL != nil {
			result.PaymentID = *order.NexiPaymentID
			result.RedirectURL = *order.NexiRedirectURL
			return result, nil
		}
		redirect, err := s.initiate(ctx, order)
		if err != nil {
			return nil, err
		}
		result.PaymentID = redirect.PaymentID
		result.RedirectURL = redirect.RedirectURL
		return result, nil
	}

	if order.HasInvoice() {
		fillInvoice(result, order)
		return result, nil
	}
	inv, err := s.invoices.Generate(ctx, invoices.GenerateInput{
		OrderID:       order.ID,
		ShopID:        shop.ID,
		BankAccountID: input.BankAccountID,
		Notes:         input.Notes,
	})
	if err != nil {
		// The order stands; operators retry the invoice from the back office.
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "invoice pending after checkout")
		}
		result.InvoicePending = true
		return result, nil
	}
	result.Order = inv.Order
	fillInvoice(result, inv.Order)
	return result, nil
}

func (s *service) InitiatePayment(ctx context.Context, orderNumber string) (*PaymentRedirect, error) {
	order, err := s.orders.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !order.PaymentMethod.RequiresGateway() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid by card")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}
	return s.initiate(s.logCtx(ctx, order), order)
}

// initiate opens a hosted payment page for order and links the provider id.
// Both outcomes are written to the payment log.
func (s *service) initiate(ctx context.Context, order *models.Order) (*PaymentRedirect, error) {
	req := nexi.InitiateRequest{
		OrderNumber:     order.OrderNumber,
		AmountMinor:     nexi.ToMinorUnits(order.TotalAmount),
		Currency:        string(order.Currency),
		CustomerEmail:   order.CustomerEmail,
		Language:        order.Language,
		ReturnURL:       s.publicURL + ReturnPath,
		CancelURL:       s.publicURL + CancelPath,
		NotificationURL: s.publicURL + WebhookPath,
	}

	start := time.Now()
	res, err := s.gateway.Initiate(ctx, req)
	s.metrics.ObserveGateway("initiate", time.Since(start))
	orderID := order.ID

	if err != nil {
		if _, logErr := s.logs.Record(ctx, nil, paymentlogs.Entry{
			OrderID:     &orderID,
			OrderNumber: order.OrderNumber,
			Type:        enums.PaymentLogInitiationFailed,
			Source:      enums.PaymentSourceGateway,
			Payload:     types.JSONMap{"error": err.Error(), "amount_minor": req.AmountMinor},
		}); logErr != nil && s.logg != nil {
			s.logg.Error(ctx, "append payment log", logErr)
		}
		if s.logg != nil {
			s.logg.Error(ctx, "payment initiation failed", err)
		}
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			typed = pkgerrors.Wrap(pkgerrors.CodeDependency, err, nexi.PublicErrorMessage)
		}
		return nil, typed.WithDetails(map[string]any{"order_number": order.OrderNumber})
	}

	if err := s.orders.AttachPayment(ctx, order.ID, res.PaymentID, res.RedirectURL); err != nil {
		return nil, err
	}
	paymentID, redirectURL := res.PaymentID, res.RedirectURL
	order.NexiPaymentID = &paymentID
	order.NexiRedirectURL = &redirectURL

	if _, err := s.logs.Record(ctx, nil, paymentlogs.Entry{
		PaymentID:   res.PaymentID,
		OrderID:     &orderID,
		OrderNumber: order.OrderNumber,
		Type:        enums.PaymentLogInitiated,
		Source:      enums.PaymentSourceGateway,
		Payload:     types.JSONMap{"redirect_url": res.RedirectURL, "amount_minor": req.AmountMinor},
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "append payment log", err)
	}

	return &PaymentRedirect{
		OrderNumber: order.OrderNumber,
		PaymentID:   res.PaymentID,
		RedirectURL: res.RedirectURL,
	}, nil
}

func (s *service) logCtx(ctx context.Context, order *models.Order) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithShopID(s.logg.WithOrderNumber(ctx, order.OrderNumber), order.ShopID)
}

func fillInvoice(result *SubmitResult, order *models.Order) {
	if order.InvoiceNumber != nil {
		result.InvoiceNumber = *order.InvoiceNumber
	}
	if order.InvoiceFileURL != nil {
		result.InvoiceURL = *order.InvoiceFileURL
	}
	result.InvoicePending = !order.HasInvoice()
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
