// Package admin holds the back-office operations on orders: manual status
// changes, visibility, invoice retries and the reconciliation reads.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/heatflow/oilshop-backend/internal/invoices"
	"github.com/heatflow/oilshop-backend/internal/notifications"
	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/paymentlogs"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

type invoiceGenerator interface {
	Generate(ctx context.Context, input invoices.GenerateInput) (*invoices.Result, error)
}

type dispatchReader interface {
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.EmailDispatch, error)
}

// Mutation is an operator action on one order.
type Mutation struct {
	OrderID uuid.UUID
	Actor   string
	Note    string
}

// InvoiceRetry asks for the invoice of an order to be (re)generated.
type InvoiceRetry struct {
	OrderID       uuid.UUID
	Actor         string
	BankAccountID string
	Notes         string
}

// OrderDetail is the full back-office view of one order.
type OrderDetail struct {
	Order       *models.Order
	AuditTrail  []models.OrderAuditEvent
	PaymentLogs []models.PaymentLog
	Emails      []models.EmailDispatch
}

type Service interface {
	List(ctx context.Context, filter orders.ListFilter) (*orders.ListResult, error)
	Detail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error)
	MarkPaid(ctx context.Context, m Mutation) (*orders.TransitionResult, error)
	MarkExchanged(ctx context.Context, m Mutation) (*orders.TransitionResult, error)
	MarkDown(ctx context.Context, m Mutation) (*orders.TransitionResult, error)
	Hide(ctx context.Context, m Mutation) (*models.Order, error)
	Unhide(ctx context.Context, m Mutation) (*models.Order, error)
	RetryInvoice(ctx context.Context, req InvoiceRetry) (*invoices.Result, error)
	AuditTrail(ctx context.Context, orderID uuid.UUID) ([]models.OrderAuditEvent, error)
	PaymentLogs(ctx context.Context, filter paymentlogs.Filter) ([]models.PaymentLog, error)
}

type ServiceParams struct {
	Orders      orders.Service
	PaymentLogs paymentlogs.Service
	Invoices    invoiceGenerator
	Emails      dispatchReader
	Logger      *logger.Logger
}

type service struct {
	orders   orders.Service
	logs     paymentlogs.Service
	invoices invoiceGenerator
	emails   dispatchReader
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.PaymentLogs == nil {
		return nil, fmt.Errorf("payment log service required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice generator required")
	}
	return &service{
		orders:   params.Orders,
		logs:     params.PaymentLogs,
		invoices: params.Invoices,
		emails:   params.Emails,
		logg:     params.Logger,
	}, nil
}

func (s *service) List(ctx context.Context, filter orders.ListFilter) (*orders.ListResult, error) {
	return s.orders.List(ctx, filter)
}

func (s *service) Detail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	trail, err := s.orders.AuditTrail(ctx, orderID)
	if err != nil {
		return nil, err
	}
	id := order.ID
	logs, err := s.logs.List(ctx, paymentlogs.Filter{OrderID: &id})
	if err != nil {
		return nil, err
	}
	detail := &OrderDetail{Order: order, AuditTrail: trail, PaymentLogs: logs}
	if s.emails != nil {
		if detail.Emails, err = s.emails.ListForOrder(ctx, orderID); err != nil {
			return nil, err
		}
	}
	return detail, nil
}

func (s *service) MarkPaid(ctx context.Context, m Mutation) (*orders.TransitionResult, error) {
	return s.transition(ctx, m, enums.OrderStatusConfirmed)
}

func (s *service) MarkExchanged(ctx context.Context, m Mutation) (*orders.TransitionResult, error) {
	return s.transition(ctx, m, enums.OrderStatusExchanged)
}

func (s *service) MarkDown(ctx context.Context, m Mutation) (*orders.TransitionResult, error) {
	return s.transition(ctx, m, enums.OrderStatusDown)
}

func (s *service) transition(ctx context.Context, m Mutation, to enums.OrderStatus) (*orders.TransitionResult, error) {
	actor, err := requireActor(m)
	if err != nil {
		return nil, err
	}
	res, err := s.orders.UpdateStatus(ctx, orders.StatusChange{
		OrderID: m.OrderID,
		To:      to,
		Actor:   actor,
		Note:    strings.TrimSpace(m.Note),
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil && res.Changed {
		logCtx := s.logg.WithFields(s.logg.WithActor(ctx, actor), map[string]any{
			"order_number": res.Order.OrderNumber,
			"from":         res.From,
			"to":           to,
		})
		s.logg.Info(logCtx, "admin status change")
	}
	return res, nil
}

func (s *service) Hide(ctx context.Context, m Mutation) (*models.Order, error) {
	actor, err := requireActor(m)
	if err != nil {
		return nil, err
	}
	return s.orders.SetHidden(ctx, m.OrderID, true, actor)
}

func (s *service) Unhide(ctx context.Context, m Mutation) (*models.Order, error) {
	actor, err := requireActor(m)
	if err != nil {
		return nil, err
	}
	return s.orders.SetHidden(ctx, m.OrderID, false, actor)
}

func (s *service) RetryInvoice(ctx context.Context, req InvoiceRetry) (*invoices.Result, error) {
	actor, err := requireActor(Mutation{OrderID: req.OrderID, Actor: req.Actor})
	if err != nil {
		return nil, err
	}
	return s.invoices.Generate(ctx, invoices.GenerateInput{
		OrderID:       req.OrderID,
		BankAccountID: req.BankAccountID,
		Notes:         req.Notes,
		Actor:         actor,
	})
}

func (s *service) AuditTrail(ctx context.Context, orderID uuid.UUID) ([]models.OrderAuditEvent, error) {
	return s.orders.AuditTrail(ctx, orderID)
}

func (s *service) PaymentLogs(ctx context.Context, filter paymentlogs.Filter) ([]models.PaymentLog, error) {
	return s.logs.List(ctx, filter)
}

func requireActor(m Mutation) (string, error) {
	if m.OrderID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	actor := strings.TrimSpace(m.Actor)
	if actor == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity required")
	}
	return actor, nil
}

var _ dispatchReader = (notifications.Service)(nil)
