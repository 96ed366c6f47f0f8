package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/api/responses"
	"github.com/heatflow/oilshop-backend/api/validators"
	checkoutsvc "github.com/heatflow/oilshop-backend/internal/checkout"
	"github.com/heatflow/oilshop-backend/internal/pricing"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

type quoteRequest struct {
	ProductCode  string           `json:"product_code" validate:"required,max=64"`
	Liters       *decimal.Decimal `json:"liters" validate:"required"`
	PostalCode   string           `json:"postal_code" validate:"required,max=12"`
	DiscountCode string           `json:"discount_code,omitempty" validate:"max=64"`
}

// Quote prices an order for the shop in the path without storing anything.
func Quote(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload quoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Quote(r.Context(), shopIDParam(r), pricing.Request{
			ProductCode:  payload.ProductCode,
			Liters:       *payload.Liters,
			PostalCode:   payload.PostalCode,
			DiscountCode: payload.DiscountCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

func shopIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "shopId"))
}
