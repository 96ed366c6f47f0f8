package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/shops"
	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/metrics"
	"github.com/heatflow/oilshop-backend/pkg/sendgrid"
)

// Skip reasons reported when no mail is sent.
const (
	SkipAlreadySent = "already_sent"
	SkipInFlight    = "in_flight"
	SkipExclusive   = "exclusive_template_sent"
)

// DefaultQueuedTimeout is how long a queued row may sit unsent before another
// dispatch takes it over.
const DefaultQueuedTimeout = 15 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Request asks for one template to be mailed for an order.
type Request struct {
	OrderID       uuid.UUID
	ShopID        string
	Template      enums.EmailTemplate
	Locale        string
	Recipient     string
	RecipientName string
	Data          map[string]any
}

// Result reports what Dispatch did. Exactly one of Sent or Skipped is set on
// success.
type Result struct {
	Dispatch *models.EmailDispatch
	Sent     bool
	Skipped  bool
	Reason   string
}

// Service sends order emails at most once per template and never both the
// confirmation and the invoice mail for the same order.
type Service interface {
	Dispatch(ctx context.Context, req Request) (*Result, error)
	SendOrderEmail(ctx context.Context, orderID uuid.UUID) error
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.EmailDispatch, error)
}

type ServiceParams struct {
	Repo      Repository
	OrderRepo orders.Repository
	TxRunner  txRunner
	Shops     *shops.Registry
	Mailer    sendgrid.Mailer
	Metrics   *metrics.Workflow
	Logger    *logger.Logger
	Now       func() time.Time
	// QueuedTimeout defaults to DefaultQueuedTimeout.
	QueuedTimeout time.Duration
}

type service struct {
	repo    Repository
	orders  orders.Repository
	tx      txRunner
	shops   *shops.Registry
	mailer  sendgrid.Mailer
	metrics *metrics.Workflow
	logg    *logger.Logger
	now     func() time.Time
	queued  time.Duration
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("email dispatch repository required")
	}
	if params.OrderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Shops == nil {
		return nil, fmt.Errorf("shop registry required")
	}
	if params.Mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	queued := params.QueuedTimeout
	if queued <= 0 {
		queued = DefaultQueuedTimeout
	}
	return &service{
		repo:    params.Repo,
		orders:  params.OrderRepo,
		tx:      params.TxRunner,
		shops:   params.Shops,
		mailer:  params.Mailer,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
		queued:  queued,
	}, nil
}

func (s *service) Dispatch(ctx context.Context, req Request) (*Result, error) {
	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.OrderID == uuid.Nil || req.Recipient == "" || !req.Template.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id, recipient and a known template are required")
	}

	shop, err := s.shops.Get(req.ShopID)
	if err != nil {
		return nil, err
	}
	locale := shop.Locale(req.Locale)
	templateID, ok := shop.TemplateID(req.Template, locale)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "no mail template configured").
			WithDetails(map[string]any{"shop_id": shop.ID, "template": req.Template})
	}

	row, skip, err := s.reserve(ctx, req, locale)
	if err != nil {
		return nil, err
	}
	if skip != "" {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": req.OrderID.String(), "template": req.Template, "reason": skip})
			s.logg.Info(logCtx, "email dispatch skipped")
		}
		return &Result{Dispatch: row, Skipped: true, Reason: skip}, nil
	}

	data := make(map[string]any, len(req.Data)+1)
	for k, v := range req.Data {
		data[k] = v
	}
	data["locale"] = locale

	messageID, sendErr := s.mailer.Send(ctx, sendgrid.Message{
		TemplateID: templateID,
		ToEmail:    req.Recipient,
		ToName:     req.RecipientName,
		Data:       data,
		Category:   req.Template.String(),
	})
	s.metrics.EmailResult(req.Template.String(), sendErr)

	if sendErr != nil {
		if err := s.repo.MarkFailed(ctx, row.ID, sendErr.Error()); err != nil && s.logg != nil {
			s.logg.Error(ctx, "mark email dispatch failed", err)
		}
		row.Status = enums.EmailDispatchFailed
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, sendErr, "send email").
			WithDetails(map[string]any{"template": req.Template})
	}

	sentAt := s.now()
	if err := s.repo.MarkSent(ctx, row.ID, messageID, sentAt); err != nil && s.logg != nil {
		s.logg.Error(ctx, "mark email dispatch sent", err)
	}
	row.Status = enums.EmailDispatchSent
	row.SentAt = &sentAt
	if messageID != "" {
		row.ProviderMessageID = &messageID
	}
	return &Result{Dispatch: row, Sent: true}, nil
}

// reserve locks the order and either creates a queued row, re-queues a failed
// or abandoned one, or returns the reason nothing should be sent.
func (s *service) reserve(ctx context.Context, req Request, locale string) (*models.EmailDispatch, string, error) {
	var (
		row  *models.EmailDispatch
		skip string
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.orders.WithTx(tx).FindByIDForUpdate(ctx, req.OrderID); err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}

		repo := s.repo.WithTx(tx)
		existing, err := repo.ListByOrder(ctx, req.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load email dispatches")
		}

		exclusive := req.Template.Exclusive()
		for i := range existing {
			if existing[i].Template == exclusive {
				skip = SkipExclusive
				return nil
			}
		}
		for i := range existing {
			current := existing[i]
			if current.Template != req.Template {
				continue
			}
			row = &current
			staleBefore := s.now().Add(-s.queued)
			switch {
			case current.Status == enums.EmailDispatchSent:
				skip = SkipAlreadySent
			case current.Status == enums.EmailDispatchQueued && !current.UpdatedAt.Before(staleBefore):
				skip = SkipInFlight
			default:
				claimed, err := repo.Claim(ctx, current.ID, current.Attempts, staleBefore)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim email dispatch")
				}
				if !claimed {
					skip = SkipInFlight
					return nil
				}
				row.Status = enums.EmailDispatchQueued
				row.Attempts++
			}
			return nil
		}

		row = &models.EmailDispatch{
			OrderID:   req.OrderID,
			Template:  req.Template,
			Status:    enums.EmailDispatchQueued,
			Locale:    locale,
			Recipient: req.Recipient,
			Attempts:  1,
		}
		if err := repo.Insert(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "ux_email_dispatches_order_template") {
				return errConcurrentDispatch
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert email dispatch")
		}
		return nil
	})
	if errors.Is(err, errConcurrentDispatch) {
		return nil, SkipInFlight, nil
	}
	if err != nil {
		return nil, "", err
	}
	return row, skip, nil
}

var errConcurrentDispatch = errors.New("email dispatch inserted concurrently")

func (s *service) SendOrderEmail(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	_, err = s.Dispatch(ctx, Request{
		OrderID:       order.ID,
		ShopID:        order.ShopID,
		Template:      enums.EmailTemplateOrderConfirmation,
		Locale:        order.Language,
		Recipient:     order.CustomerEmail,
		RecipientName: order.CustomerName,
		Data:          OrderData(order),
	})
	return err
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.EmailDispatch, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list email dispatches")
	}
	return rows, nil
}

// OrderData is the template payload shared by every order email.
func OrderData(order *models.Order) map[string]any {
	data := map[string]any{
		"order_number":     order.OrderNumber,
		"customer_name":    order.CustomerName,
		"product_code":     order.ProductCode,
		"liters":           order.Liters.String(),
		"price_per_liter":  order.PricePerLiter.StringFixed(4),
		"base_price":       order.BasePrice.StringFixed(2),
		"delivery_fee":     order.DeliveryFee.StringFixed(2),
		"discount":         order.Discount.StringFixed(2),
		"total":            order.TotalAmount.StringFixed(2),
		"currency":         string(order.Currency),
		"delivery_address": order.DeliveryAddress.Lines(),
		"payment_method":   string(order.PaymentMethod),
	}
	if order.HasInvoice() {
		data["invoice_number"] = *order.InvoiceNumber
	}
	if order.InvoiceFileURL != nil {
		data["invoice_url"] = *order.InvoiceFileURL
	}
	return data
}
