package nexiwebhook

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/paymentlogs"
	"github.com/heatflow/oilshop-backend/internal/shops"
	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/metrics"
	"github.com/heatflow/oilshop-backend/pkg/nexi"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
	"github.com/heatflow/oilshop-backend/pkg/outbox/payloads"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ConfirmationSender sends the order confirmation email for an order.
type ConfirmationSender interface {
	SendOrderEmail(ctx context.Context, orderID uuid.UUID) error
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, fingerprint string) (bool, error)
	Release(ctx context.Context, fingerprint string) error
}

type ServiceParams struct {
	Orders        orders.Service
	OrderRepo     orders.Repository
	PaymentLogs   paymentlogs.Service
	Outbox        outboxPublisher
	TxRunner      txRunner
	Shops         *shops.Registry
	Gateway       nexi.Gateway
	Confirmations ConfirmationSender
	Guard         deliveryGuard
	WebhookSecret string
	// FallbackURL receives browser returns that match no order or shop.
	// Defaults to "/".
	FallbackURL string
	Metrics     *metrics.Workflow
	Logger      *logger.Logger
}

// Service reconciles provider notifications with orders.
type Service struct {
	orders        orders.Service
	orderRepo     orders.Repository
	logs          paymentlogs.Service
	outbox        outboxPublisher
	tx            txRunner
	shops         *shops.Registry
	gateway       nexi.Gateway
	confirmations ConfirmationSender
	guard         deliveryGuard
	secret        string
	fallbackURL   string
	metrics       *metrics.Workflow
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.OrderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.PaymentLogs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment log service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Shops == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "shop registry required")
	}
	fallback := strings.TrimSpace(params.FallbackURL)
	if fallback == "" {
		fallback = "/"
	}
	return &Service{
		orders:        params.Orders,
		orderRepo:     params.OrderRepo,
		logs:          params.PaymentLogs,
		outbox:        params.Outbox,
		tx:            params.TxRunner,
		shops:         params.Shops,
		gateway:       params.Gateway,
		confirmations: params.Confirmations,
		guard:         params.Guard,
		secret:        strings.TrimSpace(params.WebhookSecret),
		fallbackURL:   fallback,
		metrics:       params.Metrics,
		logg:          params.Logger,
	}, nil
}

// Result describes what a notification did to its order.
type Result struct {
	Order     *models.Order
	Outcome   enums.PaymentOutcome
	From      enums.OrderStatus
	Changed   bool
	Orphaned  bool
	Duplicate bool
}

// Reconcile applies one normalized notification. Unresolvable notifications
// are logged as orphaned and reported through Result, never as an error.
func (s *Service) Reconcile(ctx context.Context, source enums.PaymentSource, n Notification) (*Result, error) {
	outcome := n.Outcome()
	if _, err := s.logs.Record(ctx, nil, logEntry(n, source.ReceivedLogType(), source, outcome, nil)); err != nil {
		return nil, err
	}

	res := &Result{Outcome: outcome}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.findOrder(ctx, tx, n)
		if err != nil {
			return err
		}
		if order == nil {
			res.Orphaned = true
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentOrphaned,
				AggregateType: enums.AggregatePayment,
				AggregateID:   orphanAggregateID(n),
				Actor:         &outbox.ActorRef{Subject: provider, Kind: string(source)},
				Data: payloads.PaymentOrphanedEvent{
					TrackID:    n.TrackID,
					PaymentID:  n.PaymentID,
					ResultCode: n.ResultCode,
					Source:     source,
				},
			})
		}

		res.Order = order
		res.From = order.Status
		if err := s.orders.RecordPaymentNotification(ctx, tx, order, orders.PaymentUpdate{
			PaymentID:         n.PaymentID,
			TransactionStatus: n.ResultCode,
			Raw:               n.Raw,
		}); err != nil {
			return err
		}

		target, ok := targetStatus(order.Status, outcome)
		if !ok {
			return nil
		}
		tr, err := s.orders.ApplyTransition(ctx, tx, order, target, provider+":"+string(source), "payment "+string(outcome))
		if err != nil {
			return err
		}
		res.Changed = tr.Changed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Orphaned {
		s.metrics.OrphanedNotification(string(source))
		if _, err := s.logs.Record(ctx, nil, logEntry(n, source.OrphanedLogType(), source, outcome, nil)); err != nil {
			return nil, err
		}
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"track_id":   n.TrackID,
				"payment_id": n.PaymentID,
				"source":     source,
			})
			s.logg.Warn(logCtx, "payment notification orphaned")
		}
		return res, nil
	}

	s.metrics.PaymentNotification(string(source), string(outcome))
	if processed := source.ProcessedLogType(); processed != source.ReceivedLogType() {
		if _, err := s.logs.Record(ctx, nil, logEntry(n, processed, source, outcome, res.Order)); err != nil {
			return nil, err
		}
	}
	if s.logg != nil {
		logCtx := s.logg.WithOrderNumber(ctx, res.Order.OrderNumber)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"outcome": outcome,
			"from":    res.From,
			"to":      res.Order.Status,
			"changed": res.Changed,
		})
		s.logg.Info(logCtx, "payment notification applied")
	}

	if outcome == enums.PaymentOutcomeCompleted && res.Order.Status == enums.OrderStatusConfirmed {
		s.sendConfirmation(ctx, res.Order)
	}
	return res, nil
}

// targetStatus is the move a payment outcome asks for, if any.
func targetStatus(current enums.OrderStatus, outcome enums.PaymentOutcome) (enums.OrderStatus, bool) {
	switch outcome {
	case enums.PaymentOutcomeCompleted:
		if current == enums.OrderStatusPending || current == enums.OrderStatusCancelled {
			return enums.OrderStatusConfirmed, true
		}
	case enums.PaymentOutcomeFailed:
		if current == enums.OrderStatusPending {
			return enums.OrderStatusCancelled, true
		}
	}
	return "", false
}

func (s *Service) findOrder(ctx context.Context, tx *gorm.DB, n Notification) (*models.Order, error) {
	repo := s.orderRepo.WithTx(tx)
	var (
		order *models.Order
		err   error
	)
	if n.TrackID != "" {
		order, err = repo.FindByOrderNumber(ctx, n.TrackID)
		if err != nil && !db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by track id")
		}
	}
	if order == nil && n.PaymentID != "" {
		order, err = repo.FindByPaymentID(ctx, n.PaymentID)
		if err != nil && !db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by payment id")
		}
	}
	if order == nil {
		return nil, nil
	}
	locked, err := repo.FindByIDForUpdate(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	return locked, nil
}

func (s *Service) sendConfirmation(ctx context.Context, order *models.Order) {
	if s.confirmations == nil {
		return
	}
	shop, err := s.shops.Get(order.ShopID)
	if err != nil || shop.Notification != enums.EmailTemplateOrderConfirmation {
		return
	}
	if err := s.confirmations.SendOrderEmail(ctx, order.ID); err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderNumber(ctx, order.OrderNumber), "order confirmation email failed", err)
	}
}

// WebhookDelivery is the raw server-to-server notification.
type WebhookDelivery struct {
	Body        []byte
	ContentType string
	Signature   string
}

// HandleWebhook verifies, parses and reconciles a webhook. Duplicate
// deliveries are acknowledged without being applied again.
func (s *Service) HandleWebhook(ctx context.Context, delivery WebhookDelivery) (*Result, error) {
	if s.secret != "" && !VerifySignature(s.secret, delivery.Body, delivery.Signature) {
		_, _ = s.logs.Record(ctx, nil, paymentlogs.Entry{
			Type:    enums.PaymentLogWebhookRejected,
			Source:  enums.PaymentSourceWebhook,
			Payload: types.JSONMap{"reason": "signature mismatch", "body_bytes": len(delivery.Body)},
		})
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	n, err := parseWebhook(delivery)
	if err != nil {
		return nil, err
	}

	fingerprint := n.Fingerprint()
	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, fingerprint)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook delivery")
		}
		if seen {
			if _, err := s.logs.Record(ctx, nil, logEntry(n, enums.PaymentLogWebhookDuplicate, enums.PaymentSourceWebhook, n.Outcome(), nil)); err != nil {
				return nil, err
			}
			return &Result{Outcome: n.Outcome(), Duplicate: true}, nil
		}
	}

	res, err := s.Reconcile(ctx, enums.PaymentSourceWebhook, n)
	if err != nil && s.guard != nil {
		_ = s.guard.Release(ctx, fingerprint)
	}
	return res, err
}

func parseWebhook(delivery WebhookDelivery) (Notification, error) {
	body := strings.TrimSpace(string(delivery.Body))
	if body == "" {
		return Notification{}, pkgerrors.New(pkgerrors.CodeValidation, "empty webhook body")
	}
	contentType := strings.ToLower(delivery.ContentType)
	if strings.Contains(contentType, "json") || strings.HasPrefix(body, "{") {
		return FromJSON(delivery.Body)
	}
	values, err := url.ParseQuery(body)
	if err != nil {
		return Notification{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid form notification")
	}
	return FromValues(values), nil
}

// RedirectResult tells the browser where to go after a redirect was applied.
type RedirectResult struct {
	Result   *Result
	Location string
}

// HandleRedirect applies the browser return from the hosted payment page. The
// cancel return always counts as a failed payment. Returns no shop can be
// derived for are sent to the fallback URL.
func (s *Service) HandleRedirect(ctx context.Context, values url.Values, cancelled bool) (*RedirectResult, error) {
	n := FromValues(values)
	if cancelled {
		n.ResultCode = "CANCELLED"
	}

	res, err := s.Reconcile(ctx, enums.PaymentSourceRedirect, n)
	if err != nil {
		return nil, err
	}

	var (
		shop        *shops.Shop
		orderNumber = n.TrackID
		paymentID   = n.PaymentID
	)
	if res.Order != nil {
		shop, _ = s.shops.Get(res.Order.ShopID)
		orderNumber = res.Order.OrderNumber
		if paymentID == "" && res.Order.NexiPaymentID != nil {
			paymentID = *res.Order.NexiPaymentID
		}
	} else {
		shop, _ = s.shops.ForOrderNumber(n.TrackID)
	}
	target := s.fallbackURL
	if shop != nil {
		target = shop.SuccessURL
		if cancelled || res.Outcome == enums.PaymentOutcomeFailed {
			target = shop.CancelURL
		}
	}
	location, err := withQuery(target, map[string]string{"order": orderNumber, "payment_id": paymentID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build redirect url")
	}
	return &RedirectResult{Result: res, Location: location}, nil
}

func withQuery(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PaymentStatus is what the success page shows after re-verification.
type PaymentStatus struct {
	OrderNumber string               `json:"order_number"`
	Status      enums.OrderStatus    `json:"status"`
	Outcome     enums.PaymentOutcome `json:"outcome"`
	Verified    bool                 `json:"verified"`
}

// VerifyPayment re-reads the payment result from the gateway for a pending
// card order and reconciles it. Orders past pending are answered from the
// stored status.
func (s *Service) VerifyPayment(ctx context.Context, orderNumber string) (*PaymentStatus, error) {
	order, err := s.orders.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending || order.PaymentMethod != enums.PaymentMethodCard {
		return statusFor(order, false), nil
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, nexi.PublicErrorMessage)
	}

	start := time.Now()
	verified, err := s.gateway.Verify(ctx, order.OrderNumber)
	s.metrics.ObserveGateway("verify", time.Since(start))
	if err != nil {
		return nil, err
	}

	res, err := s.Reconcile(ctx, enums.PaymentSourceVerify, Notification{
		TrackID:    order.OrderNumber,
		PaymentID:  verified.PaymentID,
		ResultCode: verified.ResultCode,
		Raw:        verified.Raw,
	})
	if err != nil {
		return nil, err
	}
	if res.Order == nil {
		return statusFor(order, true), nil
	}
	return statusFor(res.Order, true), nil
}

func statusFor(order *models.Order, verified bool) *PaymentStatus {
	outcome := enums.PaymentOutcomeCompleted
	switch order.Status {
	case enums.OrderStatusPending:
		outcome = enums.PaymentOutcomePending
	case enums.OrderStatusCancelled:
		outcome = enums.PaymentOutcomeFailed
	}
	return &PaymentStatus{
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Outcome:     outcome,
		Verified:    verified,
	}
}

func logEntry(n Notification, logType enums.PaymentLogType, source enums.PaymentSource, outcome enums.PaymentOutcome, order *models.Order) paymentlogs.Entry {
	entry := paymentlogs.Entry{
		PaymentID:   n.PaymentID,
		OrderNumber: n.TrackID,
		Type:        logType,
		Source:      source,
		ResultCode:  n.ResultCode,
		Outcome:     outcome,
		Payload:     n.Raw,
	}
	if order != nil {
		id := order.ID
		entry.OrderID = &id
		entry.OrderNumber = order.OrderNumber
		if entry.PaymentID == "" && order.NexiPaymentID != nil {
			entry.PaymentID = *order.NexiPaymentID
		}
	}
	return entry
}

func orphanAggregateID(n Notification) uuid.UUID {
	key := n.PaymentID
	if key == "" {
		key = n.TrackID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("nexi:"+key))
}
