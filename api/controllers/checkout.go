package controllers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/api/responses"
	"github.com/heatflow/oilshop-backend/api/validators"
	checkoutsvc "github.com/heatflow/oilshop-backend/internal/checkout"
	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/pricing"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

const maxNotesLen = 2000

type customerRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone,omitempty" validate:"max=40"`
	Language string `json:"language" validate:"required,min=2,max=5"`
}

type expectedAmounts struct {
	PricePerLiter *decimal.Decimal `json:"price_per_liter,omitempty"`
	BasePrice     *decimal.Decimal `json:"base_price,omitempty"`
	DeliveryFee   *decimal.Decimal `json:"delivery_fee,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
	Total         *decimal.Decimal `json:"total" validate:"required"`
}

type checkoutRequest struct {
	RequestID       string          `json:"request_id" validate:"required,max=64"`
	Customer        customerRequest `json:"customer"`
	DeliveryAddress types.Address   `json:"delivery_address"`
	BillingAddress  *types.Address  `json:"billing_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`

	ProductCode   string           `json:"product_code" validate:"required,max=64"`
	Liters        *decimal.Decimal `json:"liters" validate:"required"`
	DiscountCode  string           `json:"discount_code,omitempty" validate:"max=64"`
	BankAccountID string           `json:"bank_account_id,omitempty" validate:"max=64"`

	Expected expectedAmounts `json:"expected"`
}

type checkoutResponse struct {
	OrderNumber    string              `json:"order_number"`
	Status         enums.OrderStatus   `json:"status"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	Currency       enums.Currency      `json:"currency"`
	Total          decimal.Decimal     `json:"total"`
	Duplicate      bool                `json:"duplicate"`
	Quote          *pricing.Quote      `json:"quote,omitempty"`
	PaymentID      string              `json:"payment_id,omitempty"`
	RedirectURL    string              `json:"redirect_url,omitempty"`
	InvoiceNumber  string              `json:"invoice_number,omitempty"`
	InvoiceURL     string              `json:"invoice_url,omitempty"`
	InvoicePending bool                `json:"invoice_pending"`
}

// CheckoutSubmit stores an order for the shop in the path. New orders answer
// 201, a repeated request_id answers 200 with duplicate set.
func CheckoutSubmit(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"shop_id": shopIDParam(r), "checkout_request_id": payload.RequestID})
		}

		result, err := svc.Submit(ctx, checkoutsvc.SubmitInput{
			ShopID:       shopIDParam(r),
			RequestID:    strings.TrimSpace(payload.RequestID),
			OriginDomain: originDomain(r),
			Customer: orders.Customer{
				Name:     payload.Customer.Name,
				Email:    payload.Customer.Email,
				Phone:    payload.Customer.Phone,
				Language: payload.Customer.Language,
			},
			DeliveryAddress: payload.DeliveryAddress,
			BillingAddress:  payload.BillingAddress,
			Notes:           validators.CleanText(payload.Notes, maxNotesLen),
			ProductCode:     payload.ProductCode,
			Liters:          *payload.Liters,
			DiscountCode:    payload.DiscountCode,
			BankAccountID:   payload.BankAccountID,
			Submitted: pricing.Submitted{
				PricePerLiter: payload.Expected.PricePerLiter,
				BasePrice:     payload.Expected.BasePrice,
				DeliveryFee:   payload.Expected.DeliveryFee,
				Discount:      payload.Expected.Discount,
				Total:         *payload.Expected.Total,
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, newCheckoutResponse(result))
	}
}

func newCheckoutResponse(result *checkoutsvc.SubmitResult) checkoutResponse {
	order := result.Order
	return checkoutResponse{
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PaymentMethod:  order.PaymentMethod,
		Currency:       order.Currency,
		Total:          order.TotalAmount,
		Duplicate:      result.Duplicate,
		Quote:          result.Quote,
		PaymentID:      result.PaymentID,
		RedirectURL:    result.RedirectURL,
		InvoiceNumber:  result.InvoiceNumber,
		InvoiceURL:     result.InvoiceURL,
		InvoicePending: result.InvoicePending,
	}
}

// originDomain is the storefront host taken from Origin, then Referer.
func originDomain(r *http.Request) string {
	for _, header := range []string{"Origin", "Referer"} {
		raw := strings.TrimSpace(r.Header.Get(header))
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	return ""
}
