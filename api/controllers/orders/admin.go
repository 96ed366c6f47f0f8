package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/heatflow/oilshop-backend/api/middleware"
	"github.com/heatflow/oilshop-backend/api/responses"
	"github.com/heatflow/oilshop-backend/api/validators"
	"github.com/heatflow/oilshop-backend/internal/admin"
	internalorders "github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/paymentlogs"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

const maxNoteLen = 1000

type mutationRequest struct {
	Note string `json:"note,omitempty" validate:"max=1000"`
}

type invoiceRequest struct {
	BankAccountID string `json:"bank_account_id,omitempty" validate:"max=64"`
	Notes         string `json:"notes,omitempty" validate:"max=2000"`
}

// List returns one page of orders, newest first.
func List(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		q := r.URL.Query()
		page, err := validators.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		hidden, err := parseHidden(q.Get("hidden"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shopID, err := scopedShop(r.Context(), strings.TrimSpace(q.Get("shop_id")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), internalorders.ListFilter{
			ShopID: shopID,
			Status: enums.OrderStatus(strings.TrimSpace(q.Get("status"))),
			Hidden: hidden,
			Search: validators.CleanText(q.Get("q"), 100),
			Params: page,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := listResponse{Orders: make([]orderResponse, 0, len(result.Items)), NextCursor: result.Cursor}
		for i := range result.Items {
			resp.Orders = append(resp.Orders, newOrderResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

// Detail returns the order with its audit trail, payment log and emails.
func Detail(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Detail(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := checkShop(r.Context(), detail.Order); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newDetailResponse(detail))
	}
}

type transitionFunc func(ctx context.Context, m admin.Mutation) (*internalorders.TransitionResult, error)

// MarkPaid, MarkExchanged and MarkDown move the order to the matching status.
func MarkPaid(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(s admin.Service) transitionFunc { return s.MarkPaid })
}

func MarkExchanged(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(s admin.Service) transitionFunc { return s.MarkExchanged })
}

func MarkDown(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(s admin.Service) transitionFunc { return s.MarkDown })
}

func transition(svc admin.Service, logg *logger.Logger, pick func(admin.Service) transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		m, err := mutationFromRequest(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := pick(svc)(r.Context(), m)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transitionResponse{
			Order:   newOrderResponse(res.Order),
			From:    res.From,
			Changed: res.Changed,
		})
	}
}

// Hide and Unhide toggle the order's visibility in the default list.
func Hide(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return visibility(svc, logg, true)
}

func Unhide(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return visibility(svc, logg, false)
}

func visibility(svc admin.Service, logg *logger.Logger, hide bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		m, err := mutationFromRequest(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var order *models.Order
		if hide {
			order, err = svc.Hide(r.Context(), m)
		} else {
			order, err = svc.Unhide(r.Context(), m)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// RetryInvoice generates the invoice of an order whose generation failed or
// never ran. An already invoiced order answers with its existing invoice.
func RetryInvoice(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload invoiceRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeOrder(r.Context(), svc, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := svc.RetryInvoice(r.Context(), admin.InvoiceRetry{
			OrderID:       orderID,
			Actor:         middleware.ActorFromContext(r.Context()),
			BankAccountID: strings.TrimSpace(payload.BankAccountID),
			Notes:         validators.CleanText(payload.Notes, 2000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := invoiceResponse{InvoiceNumber: res.InvoiceNumber, FileURL: res.FileURL, Existing: res.Existing}
		if res.Order != nil {
			resp.OrderNumber = res.Order.OrderNumber
		}
		responses.WriteSuccess(w, resp)
	}
}

// PaymentLogs lists payment log rows by payment_id or order_number.
func PaymentLogs(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		q := r.URL.Query()
		filter := paymentlogs.Filter{
			PaymentID:   strings.TrimSpace(q.Get("payment_id")),
			OrderNumber: strings.ToUpper(strings.TrimSpace(q.Get("order_number"))),
		}
		if filter.PaymentID == "" && filter.OrderNumber == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment_id or order_number required"))
			return
		}
		if claims := middleware.ClaimsFromContext(r.Context()); claims != nil && len(claims.Shops) > 0 {
			filter.ShopIDs = claims.Shops
		}
		logs, err := svc.PaymentLogs(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentLogResponses(logs))
	}
}

func mutationFromRequest(r *http.Request, svc admin.Service) (admin.Mutation, error) {
	orderID, err := orderIDParam(r)
	if err != nil {
		return admin.Mutation{}, err
	}
	var payload mutationRequest
	if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
		return admin.Mutation{}, err
	}
	if err := authorizeOrder(r.Context(), svc, orderID); err != nil {
		return admin.Mutation{}, err
	}
	return admin.Mutation{
		OrderID: orderID,
		Actor:   middleware.ActorFromContext(r.Context()),
		Note:    validators.CleanText(payload.Note, maxNoteLen),
	}, nil
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}

func parseHidden(raw string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "false":
		v := false
		return &v, nil
	case "true":
		v := true
		return &v, nil
	case "all":
		return nil, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "hidden must be true, false or all")
}

// scopedShop applies the shop restriction of the operator token to a list
// filter. Tokens limited to one shop default to it.
func scopedShop(ctx context.Context, requested string) (string, error) {
	claims := middleware.ClaimsFromContext(ctx)
	if claims == nil || len(claims.Shops) == 0 {
		return requested, nil
	}
	if requested == "" {
		if len(claims.Shops) == 1 {
			return claims.Shops[0], nil
		}
		return "", pkgerrors.New(pkgerrors.CodeValidation, "shop_id required")
	}
	if !claims.AllowsShop(requested) {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "shop not permitted")
	}
	return requested, nil
}

func checkShop(ctx context.Context, order *models.Order) error {
	claims := middleware.ClaimsFromContext(ctx)
	if claims == nil || order == nil || claims.AllowsShop(order.ShopID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

// authorizeOrder loads the order only for shop-scoped tokens.
func authorizeOrder(ctx context.Context, svc admin.Service, orderID uuid.UUID) error {
	claims := middleware.ClaimsFromContext(ctx)
	if claims == nil || len(claims.Shops) == 0 {
		return nil
	}
	detail, err := svc.Detail(ctx, orderID)
	if err != nil {
		return err
	}
	return checkShop(ctx, detail.Order)
}
