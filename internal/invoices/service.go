package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/internal/notifications"
	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/shops"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/metrics"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
	"github.com/heatflow/oilshop-backend/pkg/outbox/payloads"
	"github.com/heatflow/oilshop-backend/pkg/storage/gcs"
)

const systemActor = "invoice-generator"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, req notifications.Request) (*notifications.Result, error)
}

// GenerateInput selects the order to invoice. BankAccountID falls back to the
// account chosen at checkout, then to the shop default.
type GenerateInput struct {
	OrderID       uuid.UUID
	ShopID        string
	BankAccountID string
	Notes         string
	Actor         string
}

// Result is the invoice linkage of the order. Existing is set when the order
// had been invoiced before and nothing new was generated.
type Result struct {
	Order         *models.Order
	InvoiceNumber string
	FileURL       string
	Existing      bool
	Email         *notifications.Result
}

// Service generates each order's invoice exactly once.
type Service interface {
	Generate(ctx context.Context, input GenerateInput) (*Result, error)
	ResendEmail(ctx context.Context, orderID uuid.UUID) (*notifications.Result, error)
}

type ServiceParams struct {
	Orders     orders.Service
	OrderRepo  orders.Repository
	TxRunner   txRunner
	Outbox     outboxPublisher
	Shops      *shops.Registry
	Storage    gcs.Uploader
	Dispatcher dispatcher
	Metrics    *metrics.Workflow
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	orders     orders.Service
	repo       orders.Repository
	tx         txRunner
	outbox     outboxPublisher
	shops      *shops.Registry
	storage    gcs.Uploader
	dispatcher dispatcher
	metrics    *metrics.Workflow
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Orders == nil:
		return nil, fmt.Errorf("orders service required")
	case params.OrderRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.TxRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Shops == nil:
		return nil, fmt.Errorf("shop registry required")
	case params.Storage == nil:
		return nil, fmt.Errorf("invoice storage required")
	case params.Dispatcher == nil:
		return nil, fmt.Errorf("notification dispatcher required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		orders:     params.Orders,
		repo:       params.OrderRepo,
		tx:         params.TxRunner,
		outbox:     params.Outbox,
		shops:      params.Shops,
		storage:    params.Storage,
		dispatcher: params.Dispatcher,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        now,
	}, nil
}

// CounterScope is the sequence that numbers a shop's invoices in a year.
func CounterScope(shopID string, year int) string {
	return fmt.Sprintf("invoice:%s:%d", shopID, year)
}

// FormatNumber renders <CC>-<year>-<6 digits>.
func FormatNumber(country string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", strings.ToUpper(country), year, seq)
}

var (
	errAlreadyInvoiced = errors.New("order already carries an invoice")
	errOrderCancelled  = errors.New("order is cancelled")
)

func cancelledError(order *models.Order) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled orders cannot be invoiced").
		WithDetails(map[string]any{"order_number": order.OrderNumber})
}

func (s *service) Generate(ctx context.Context, input GenerateInput) (*Result, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		actor = systemActor
	}

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.HasInvoice() {
		return existingResult(order), nil
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, cancelledError(order)
	}

	shopID := strings.TrimSpace(input.ShopID)
	if shopID == "" {
		shopID = order.ShopID
	}
	if shopID != order.ShopID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order belongs to a different shop")
	}
	shop, err := s.shops.Get(shopID)
	if err != nil {
		return nil, err
	}
	bank, ok := shop.BankAccount(s.bankAccountID(input, order))
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown bank account").
			WithDetails(map[string]any{"bank_account_id": input.BankAccountID})
	}

	ctx = s.logCtx(ctx, order)
	issuedAt := s.now()

	var (
		number  string
		fileURL string
	)
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.HasInvoice() {
			order = locked
			return errAlreadyInvoiced
		}
		if locked.Status == enums.OrderStatusCancelled {
			return errOrderCancelled
		}

		seq, err := repo.NextSequence(ctx, CounterScope(shop.ID, issuedAt.Year()), 0)
		if err != nil {
			return fmt.Errorf("next invoice number: %w", err)
		}
		number = FormatNumber(shop.Country, issuedAt.Year(), seq)

		html, err := Render(NewDocument(number, issuedAt, locked, shop, bank, input.Notes))
		if err != nil {
			return err
		}
		fileURL, err = s.storage.Upload(ctx, number+".html", "text/html; charset=utf-8", html)
		if err != nil {
			return fmt.Errorf("upload invoice: %w", err)
		}

		claimed, err := repo.ClaimInvoice(ctx, locked.ID, number, fileURL)
		if err != nil {
			return fmt.Errorf("claim invoice: %w", err)
		}
		if !claimed {
			return errAlreadyInvoiced
		}
		if err := repo.Update(ctx, locked.ID, map[string]any{"bank_account_id": bank.ID}); err != nil {
			return fmt.Errorf("store bank account: %w", err)
		}
		locked.InvoiceNumber = &number
		locked.InvoiceFileURL = &fileURL
		locked.InvoiceError = nil
		locked.BankAccountID = &bank.ID

		note := "invoice " + number
		if orders.CanTransition(locked.Status, enums.OrderStatusInvoiceCreated) {
			if _, err := s.orders.ApplyTransition(ctx, tx, locked, enums.OrderStatusInvoiceCreated, actor, note); err != nil {
				return err
			}
		} else if err := repo.AppendAudit(ctx, &models.OrderAuditEvent{
			OrderID: locked.ID,
			Action:  enums.OrderAuditInvoice,
			Actor:   actor,
			Note:    &note,
		}); err != nil {
			return fmt.Errorf("append invoice audit: %w", err)
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceGenerated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   locked.ID,
			Actor:         &outbox.ActorRef{Subject: actor},
			Data: payloads.InvoiceGeneratedEvent{
				OrderID:       locked.ID,
				OrderNumber:   locked.OrderNumber,
				ShopID:        locked.ShopID,
				InvoiceNumber: number,
				FileURL:       fileURL,
			},
		}); err != nil {
			return fmt.Errorf("emit invoice event: %w", err)
		}
		order = locked
		return nil
	})

	if errors.Is(txErr, errAlreadyInvoiced) {
		if !order.HasInvoice() {
			if reloaded, err := s.orders.Get(ctx, order.ID); err == nil {
				order = reloaded
			}
		}
		return existingResult(order), nil
	}
	if errors.Is(txErr, errOrderCancelled) {
		return nil, cancelledError(order)
	}
	if txErr != nil {
		s.metrics.InvoiceResult(shop.ID, txErr)
		s.recordFailure(ctx, order.ID, txErr)
		if typed := pkgerrors.As(txErr); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			return nil, txErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvoice, txErr, "invoice generation failed").
			WithDetails(map[string]any{"order_number": order.OrderNumber})
	}
	s.metrics.InvoiceResult(shop.ID, nil)
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "invoice_number", number), "invoice generated")
	}

	result := &Result{Order: order, InvoiceNumber: number, FileURL: fileURL}
	email, err := s.sendInvoiceEmail(ctx, order, number, fileURL, bank)
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, "invoice email failed", err)
	}
	result.Email = email
	return result, nil
}

// ResendEmail sends the invoice email of an already invoiced order again.
// Rows that were sent before are skipped by the dispatcher.
func (s *service) ResendEmail(ctx context.Context, orderID uuid.UUID) (*notifications.Result, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.HasInvoice() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no invoice yet").
			WithDetails(map[string]any{"order_number": order.OrderNumber})
	}
	shop, err := s.shops.Get(order.ShopID)
	if err != nil {
		return nil, err
	}
	bank, ok := shop.BankAccount(s.bankAccountID(GenerateInput{}, order))
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown bank account")
	}
	fileURL := ""
	if order.InvoiceFileURL != nil {
		fileURL = *order.InvoiceFileURL
	}
	return s.sendInvoiceEmail(s.logCtx(ctx, order), order, *order.InvoiceNumber, fileURL, bank)
}

func (s *service) bankAccountID(input GenerateInput, order *models.Order) string {
	if id := strings.TrimSpace(input.BankAccountID); id != "" {
		return id
	}
	if order.BankAccountID != nil {
		return *order.BankAccountID
	}
	return ""
}

// recordFailure keeps the last error on the order for an operator retry. It
// runs outside the rolled back transaction.
func (s *service) recordFailure(ctx context.Context, orderID uuid.UUID, cause error) {
	msg := cause.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	if err := s.repo.Update(ctx, orderID, map[string]any{"invoice_error": msg}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "record invoice error", err)
	}
	if s.logg != nil {
		s.logg.Error(ctx, "invoice generation failed", cause)
	}
}

func (s *service) sendInvoiceEmail(ctx context.Context, order *models.Order, number, fileURL string, bank shops.BankAccount) (*notifications.Result, error) {
	data := notifications.OrderData(order)
	data["invoice_number"] = number
	data["invoice_url"] = fileURL
	data["bank_holder"] = bank.Holder
	data["bank_iban"] = bank.IBAN
	data["bank_bic"] = bank.BIC
	data["bank_name"] = bank.BankName

	return s.dispatcher.Dispatch(ctx, notifications.Request{
		OrderID:       order.ID,
		ShopID:        order.ShopID,
		Template:      enums.EmailTemplateInvoice,
		Locale:        order.Language,
		Recipient:     order.CustomerEmail,
		RecipientName: order.CustomerName,
		Data:          data,
	})
}

func (s *service) logCtx(ctx context.Context, order *models.Order) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithOrderNumber(ctx, order.OrderNumber)
	return s.logg.WithShopID(ctx, order.ShopID)
}

func existingResult(order *models.Order) *Result {
	res := &Result{Order: order, Existing: true}
	if order.InvoiceNumber != nil {
		res.InvoiceNumber = *order.InvoiceNumber
	}
	if order.InvoiceFileURL != nil {
		res.FileURL = *order.InvoiceFileURL
	}
	return res
}
