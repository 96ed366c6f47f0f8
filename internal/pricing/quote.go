// Package pricing computes heating-oil quotes. Every computation is pure and
// uses decimal arithmetic end to end.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/internal/shops"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
)

// Tolerance is the largest difference accepted between a client-submitted
// amount and the server-side quote.
var Tolerance = decimal.RequireFromString("0.01")

// Request is the input of a quote.
type Request struct {
	ProductCode  string
	Liters       decimal.Decimal
	PostalCode   string
	DiscountCode string
}

// VAT is the informational tax split shown by shops that display it.
type VAT struct {
	Rate decimal.Decimal `json:"rate"`
	Net  decimal.Decimal `json:"net"`
	Tax  decimal.Decimal `json:"tax"`
}

// Quote is the full price breakdown of an order.
type Quote struct {
	ProductCode   string          `json:"product_code"`
	Liters        decimal.Decimal `json:"liters"`
	PricePerLiter decimal.Decimal `json:"price_per_liter"`
	BasePrice     decimal.Decimal `json:"base_price"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	Discount      decimal.Decimal `json:"discount"`
	DiscountCode  string          `json:"discount_code,omitempty"`
	Total         decimal.Decimal `json:"total"`
	VAT           *VAT            `json:"vat,omitempty"`
}

// Calculate prices req against shop. Unknown products, out-of-range liters
// and unknown discount codes are validation errors.
func Calculate(shop *shops.Shop, req Request) (*Quote, error) {
	if shop == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
	}
	product, ok := shop.Product(req.ProductCode)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown product").
			WithDetails(map[string]any{"product_code": req.ProductCode})
	}
	if !req.Liters.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "liters must be positive")
	}
	if product.MinLiters.IsPositive() && req.Liters.LessThan(product.MinLiters) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "liters below product minimum").
			WithDetails(map[string]any{"min_liters": product.MinLiters.String()})
	}
	if product.MaxLiters.IsPositive() && req.Liters.GreaterThan(product.MaxLiters) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "liters above product maximum").
			WithDetails(map[string]any{"max_liters": product.MaxLiters.String()})
	}

	pricePerLiter := product.PricePerLiter.Add(shop.SurchargeFor(req.PostalCode))
	base := req.Liters.Mul(pricePerLiter).Round(2)

	fee := shop.DeliveryFee.Round(2)
	if req.Liters.GreaterThanOrEqual(shop.FreeDeliveryThreshold) {
		fee = decimal.Zero
	}

	discount := decimal.Zero
	code := strings.ToUpper(strings.TrimSpace(req.DiscountCode))
	if code != "" {
		amount, ok := shop.Discount(code)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown discount code").
				WithDetails(map[string]any{"discount_code": req.DiscountCode})
		}
		discount = decimal.Min(amount.Round(2), base.Add(fee))
	}

	q := &Quote{
		ProductCode:   product.Code,
		Liters:        req.Liters,
		PricePerLiter: pricePerLiter,
		BasePrice:     base,
		DeliveryFee:   fee,
		Discount:      discount,
		DiscountCode:  code,
		Total:         base.Add(fee).Sub(discount),
	}
	if shop.VATDisplayRate.IsPositive() {
		q.VAT = SplitVAT(q.Total, shop.VATDisplayRate)
	}
	return q, nil
}

// SplitVAT derives net and tax from a gross total: net is rounded and the
// tax absorbs the rounding so net + tax == total.
func SplitVAT(total, rate decimal.Decimal) *VAT {
	net := total.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	return &VAT{
		Rate: rate,
		Net:  net,
		Tax:  total.Sub(net),
	}
}

// Submitted is what the checkout UI claims the order costs.
type Submitted struct {
	PricePerLiter *decimal.Decimal
	BasePrice     *decimal.Decimal
	DeliveryFee   *decimal.Decimal
	Discount      *decimal.Decimal
	Total         decimal.Decimal
}

// Verify rejects a submission whose amounts drift from the quote by more
// than Tolerance.
func Verify(q *Quote, s Submitted) error {
	mismatches := map[string]any{}
	check := func(field string, submitted *decimal.Decimal, expected decimal.Decimal) {
		if submitted == nil {
			return
		}
		if submitted.Sub(expected).Abs().GreaterThan(Tolerance) {
			mismatches[field] = map[string]string{
				"submitted": submitted.String(),
				"expected":  expected.StringFixed(2),
			}
		}
	}
	total := s.Total
	check("total", &total, q.Total)
	check("base_price", s.BasePrice, q.BasePrice)
	check("delivery_fee", s.DeliveryFee, q.DeliveryFee)
	check("discount", s.Discount, q.Discount)
	check("price_per_liter", s.PricePerLiter, q.PricePerLiter)

	if len(mismatches) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "submitted price does not match the current quote").
			WithDetails(mismatches)
	}
	return nil
}
