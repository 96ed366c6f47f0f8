package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/heatflow/oilshop-backend/api/responses"
	checkoutsvc "github.com/heatflow/oilshop-backend/internal/checkout"
	nexiwebhook "github.com/heatflow/oilshop-backend/internal/webhooks/nexi"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

// PaymentReconciler applies browser returns and success-page checks.
type PaymentReconciler interface {
	HandleRedirect(ctx context.Context, values url.Values, cancelled bool) (*nexiwebhook.RedirectResult, error)
	VerifyPayment(ctx context.Context, orderNumber string) (*nexiwebhook.PaymentStatus, error)
}

// PaymentReturn applies the hosted page return and sends the browser on to
// the shop. cancelled marks the cancel endpoint.
func PaymentReturn(svc PaymentReconciler, cancelled bool, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
			return
		}
		if err := r.ParseForm(); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid redirect parameters"))
			return
		}

		res, err := svc.HandleRedirect(r.Context(), r.Form, cancelled)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteRedirect(w, r, res.Location)
	}
}

// PaymentStatus re-verifies a card payment for the shop success page.
func PaymentStatus(svc PaymentReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
			return
		}
		orderNumber, err := orderNumberParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderNumber(ctx, orderNumber)
		}
		status, err := svc.VerifyPayment(ctx, orderNumber)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// ReinitiatePayment opens a new hosted payment page for a pending card order.
func ReinitiatePayment(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		orderNumber, err := orderNumberParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderNumber(ctx, orderNumber)
		}
		redirect, err := svc.InitiatePayment(ctx, orderNumber)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, redirect)
	}
}

func orderNumberParam(r *http.Request) (string, error) {
	value := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "orderNumber")))
	if value == "" || len(value) > 32 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid order number")
	}
	return value, nil
}
