package orders

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
	"github.com/heatflow/oilshop-backend/pkg/outbox/payloads"
	"github.com/heatflow/oilshop-backend/pkg/pagination"
)

// OrderNumberSeed is the counter value a new prefix starts from, so the first
// order of a shop is <prefix>100001.
const OrderNumberSeed int64 = 100000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the order store: creation with request deduplication, the
// status state machine and the payment/visibility bookkeeping on orders.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
	UpdateStatus(ctx context.Context, change StatusChange) (*TransitionResult, error)
	ApplyTransition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor, note string) (*TransitionResult, error)
	SetHidden(ctx context.Context, id uuid.UUID, hidden bool, actor string) (*models.Order, error)
	AttachPayment(ctx context.Context, id uuid.UUID, paymentID, redirectURL string) error
	RecordPaymentNotification(ctx context.Context, tx *gorm.DB, order *models.Order, update PaymentUpdate) error
	AuditTrail(ctx context.Context, id uuid.UUID) ([]models.OrderAuditEvent, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewService wires the order store.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outbox}, nil
}

var errDuplicateInsert = errors.New("order insert hit unique index")

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	input.RequestID = strings.TrimSpace(input.RequestID)
	input.Customer.Email = normalizeEmail(input.Customer.Email)
	input.Customer.Name = strings.TrimSpace(input.Customer.Name)
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindByRequestID(ctx, input.RequestID); err == nil {
		return &CreateResult{Order: existing, Duplicate: true}, nil
	} else if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by request id")
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		seq, err := repo.NextSequence(ctx, input.OrderPrefix, OrderNumberSeed)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
		}

		order := buildOrder(input, FormatOrderNumber(input.OrderPrefix, seq))
		if err := repo.Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return errDuplicateInsert
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert order")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{Subject: "checkout", Kind: "system"},
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				ShopID:        order.ShopID,
				PaymentMethod: order.PaymentMethod,
				TotalAmount:   order.TotalAmount,
				Currency:      order.Currency,
				Liters:        order.Liters,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
		}
		created = order
		return nil
	})
	if err == nil {
		return &CreateResult{Order: created}, nil
	}
	if !errors.Is(err, errDuplicateInsert) {
		return nil, err
	}

	// A concurrent submission with the same request id won the insert.
	existing, lookupErr := s.repo.FindByRequestID(ctx, input.RequestID)
	if lookupErr == nil {
		return &CreateResult{Order: existing, Duplicate: true}, nil
	}
	if db.IsNotFound(lookupErr) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order could not be stored")
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lookupErr, "lookup order by request id")
}

// FormatOrderNumber renders prefix + zero padded sequence, e.g. H100001.
func FormatOrderNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s%06d", prefix, seq)
}

func buildOrder(input CreateInput, orderNumber string) *models.Order {
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyEUR
	}
	return &models.Order{
		OrderNumber:     orderNumber,
		RequestID:       input.RequestID,
		CustomerName:    input.Customer.Name,
		CustomerEmail:   input.Customer.Email,
		CustomerPhone:   strings.TrimSpace(input.Customer.Phone),
		Language:        input.Customer.Language,
		DeliveryAddress: input.DeliveryAddress,
		BillingAddress:  input.BillingAddress,
		Notes:           input.Notes,
		ProductCode:     input.ProductCode,
		Liters:          input.Liters,
		PricePerLiter:   input.PricePerLiter,
		BasePrice:       input.BasePrice,
		DeliveryFee:     input.DeliveryFee,
		Discount:        input.Discount,
		DiscountCode:    input.DiscountCode,
		TotalAmount:     input.Total,
		Currency:        currency,
		Status:          enums.OrderStatusPending,
		PaymentMethod:   input.PaymentMethod,
		BankAccountID:   input.BankAccountID,
		OriginDomain:    input.OriginDomain,
		ShopID:          input.ShopID,
	}
}

func validateCreate(input CreateInput) error {
	fields := map[string]string{}
	if input.RequestID == "" {
		fields["request_id"] = "required"
	}
	if strings.TrimSpace(input.ShopID) == "" {
		fields["shop_id"] = "required"
	}
	if len(input.OrderPrefix) != 1 || input.OrderPrefix[0] < 'A' || input.OrderPrefix[0] > 'Z' {
		fields["order_prefix"] = "must be a single uppercase letter"
	}
	if input.Customer.Name == "" {
		fields["customer.name"] = "required"
	}
	if _, err := mail.ParseAddress(input.Customer.Email); err != nil {
		fields["customer.email"] = "invalid"
	}
	if strings.TrimSpace(input.Customer.Language) == "" {
		fields["customer.language"] = "required"
	}
	if strings.TrimSpace(input.DeliveryAddress.PostalCode) == "" || strings.TrimSpace(input.DeliveryAddress.City) == "" {
		fields["delivery_address"] = "postal code and city required"
	}
	if strings.TrimSpace(input.ProductCode) == "" {
		fields["product_code"] = "required"
	}
	if !input.Liters.IsPositive() {
		fields["liters"] = "must be positive"
	}
	for name, amount := range map[string]decimal.Decimal{
		"price_per_liter": input.PricePerLiter,
		"base_price":      input.BasePrice,
		"delivery_fee":    input.DeliveryFee,
		"discount":        input.Discount,
		"total":           input.Total,
	} {
		if amount.IsNegative() {
			fields[name] = "must not be negative"
		}
	}
	if !input.BasePrice.Add(input.DeliveryFee).Sub(input.Discount).Equal(input.Total) {
		fields["total"] = "must equal base price + delivery fee - discount"
	}
	if !input.PaymentMethod.IsValid() {
		fields["payment_method"] = "invalid"
	}
	if input.Currency != "" && !input.Currency.IsValid() {
		fields["currency"] = "unsupported"
	}
	if len(fields) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid order").WithDetails(map[string]any{"fields": fields})
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	return order, mapLookupError(err)
}

func (s *service) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := s.repo.FindByOrderNumber(ctx, orderNumber)
	return order, mapLookupError(err)
}

func (s *service) GetByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	order, err := s.repo.FindByPaymentID(ctx, paymentID)
	return order, mapLookupError(err)
}

func mapLookupError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

func (s *service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": string(filter.Status)})
	}
	cursor, err := pagination.ParseCursor(filter.Params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, listQuery{
		shopID: strings.TrimSpace(filter.ShopID),
		status: filter.Status,
		hidden: filter.Hidden,
		search: strings.ToLower(strings.TrimSpace(filter.Search)),
		cursor: cursor,
		limit:  pagination.LimitWithBuffer(filter.Params.Limit),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	items, next := pagination.Split(rows, filter.Params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return &ListResult{Items: items, Cursor: next}, nil
}

func (s *service) UpdateStatus(ctx context.Context, change StatusChange) (*TransitionResult, error) {
	if change.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if strings.TrimSpace(change.Actor) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor required")
	}

	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, change.OrderID)
		if err != nil {
			return mapLookupError(err)
		}
		result, err = s.ApplyTransition(ctx, tx, order, change.To, change.Actor, change.Note)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyTransition moves order to the target status inside tx. Moves to the
// current status succeed without writing anything. order is updated in place.
func (s *service) ApplyTransition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor, note string) (*TransitionResult, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	from := order.Status
	if err := CheckTransition(from, to); err != nil {
		return nil, err
	}
	if from == to {
		return &TransitionResult{Order: order, From: from, Changed: false}, nil
	}

	repo := s.repo.WithTx(tx)
	ok, err := repo.UpdateStatusIf(ctx, order.ID, from, to)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	audit := &models.OrderAuditEvent{
		OrderID:    order.ID,
		Action:     enums.OrderAuditStatusChange,
		FromStatus: &from,
		ToStatus:   &to,
		Actor:      actor,
		Note:       optionalString(note),
	}
	if err := repo.AppendAudit(ctx, audit); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append audit event")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{Subject: actor},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			ShopID:      order.ShopID,
			From:        from,
			To:          to,
			Actor:       actor,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit status changed")
	}

	order.Status = to
	return &TransitionResult{Order: order, From: from, Changed: true}, nil
}

func (s *service) SetHidden(ctx context.Context, id uuid.UUID, hidden bool, actor string) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return mapLookupError(err)
		}
		if order.IsHidden == hidden {
			return nil
		}
		if err := repo.Update(ctx, id, map[string]any{"is_hidden": hidden}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order visibility")
		}

		action := enums.OrderAuditUnhide
		if hidden {
			action = enums.OrderAuditHide
		}
		if err := repo.AppendAudit(ctx, &models.OrderAuditEvent{
			OrderID: id,
			Action:  action,
			Actor:   actor,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append audit event")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderVisibilityChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   id,
			Actor:         &outbox.ActorRef{Subject: actor},
			Data: payloads.OrderVisibilityChangedEvent{
				OrderID:     id,
				OrderNumber: order.OrderNumber,
				Hidden:      hidden,
				Actor:       actor,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit visibility changed")
		}
		order.IsHidden = hidden
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// AttachPayment links the gateway payment id and hosted page returned at
// initiation. A later initiation replaces both.
func (s *service) AttachPayment(ctx context.Context, id uuid.UUID, paymentID, redirectURL string) error {
	paymentID = strings.TrimSpace(paymentID)
	if id == uuid.Nil || paymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and payment id required")
	}
	updates := map[string]any{"nexi_payment_id": paymentID, "nexi_redirect_url": nil}
	if redirectURL = strings.TrimSpace(redirectURL); redirectURL != "" {
		updates["nexi_redirect_url"] = redirectURL
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach payment id")
	}
	return nil
}

// RecordPaymentNotification stores the latest provider status and payload on
// the order. The last write wins; an already linked payment id is kept.
func (s *service) RecordPaymentNotification(ctx context.Context, tx *gorm.DB, order *models.Order, update PaymentUpdate) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	updates := map[string]any{}
	if status := strings.TrimSpace(update.TransactionStatus); status != "" {
		updates["nexi_transaction_status"] = status
		order.NexiTransactionStatus = &status
	}
	if update.Raw != nil {
		updates["nexi_webhook_data"] = update.Raw
		order.NexiWebhookData = update.Raw
	}
	paymentID := strings.TrimSpace(update.PaymentID)
	if paymentID != "" && (order.NexiPaymentID == nil || *order.NexiPaymentID == "") {
		updates["nexi_payment_id"] = paymentID
		order.NexiPaymentID = &paymentID
	}
	if err := s.repo.WithTx(tx).Update(ctx, order.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment notification")
	}
	return nil
}

func (s *service) AuditTrail(ctx context.Context, id uuid.UUID) ([]models.OrderAuditEvent, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	events, err := s.repo.ListAudit(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit events")
	}
	return events, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
