package invoices

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/internal/notifications"
	"github.com/heatflow/oilshop-backend/internal/orders"
	"github.com/heatflow/oilshop-backend/internal/shops"
	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/db/dbtest"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

type stubUploader struct {
	objects map[string][]byte
	err     error
	calls   int
}

func (s *stubUploader) Upload(_ context.Context, objectName, _ string, data []byte) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[objectName] = data
	return "https://storage.example/invoices/" + objectName, nil
}

type stubDispatcher struct {
	requests []notifications.Request
}

func (s *stubDispatcher) Dispatch(_ context.Context, req notifications.Request) (*notifications.Result, error) {
	s.requests = append(s.requests, req)
	return &notifications.Result{Sent: true}, nil
}

func bankShop() *shops.Shop {
	return &shops.Shop{
		ID:            "heizoel-de",
		Country:       "de",
		Currency:      enums.CurrencyEUR,
		Locales:       []string{"de"},
		DefaultLocale: "de",
		OrderPrefix:   "B",
		PaymentMethod: enums.PaymentMethodBankTransfer,
		Notification:  enums.EmailTemplateInvoice,
		Products: map[string]shops.Product{
			"standard": {Code: "standard", PricePerLiter: decimal.RequireFromString("1.05")},
		},
		BankAccounts: []shops.BankAccount{
			{ID: "main", Holder: "Heizöl GmbH", IBAN: "DE89370400440532013000", BIC: "COBADEFFXXX", BankName: "Commerzbank", Default: true},
			{ID: "second", Holder: "Heizöl GmbH", IBAN: "DE02120300000000202051", BIC: "BYLADEM1001"},
		},
		Seller: shops.Seller{Name: "Heizöl GmbH", AddressLines: []string{"Hafenstraße 1", "20457 Hamburg"}, VATID: "DE123456789"},
	}
}

type fixture struct {
	svc        Service
	orders     orders.Service
	uploader   *stubUploader
	dispatcher *stubDispatcher
	outboxRepo *outbox.Repository
	conn       *gorm.DB
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	runner := db.NewFromConn(conn)
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, nil)
	orderRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orderRepo, runner, emitter)
	require.NoError(t, err)
	registry, err := shops.NewRegistry(bankShop())
	require.NoError(t, err)

	uploader := &stubUploader{}
	dispatcher := &stubDispatcher{}
	svc, err := NewService(ServiceParams{
		Orders:     orderSvc,
		OrderRepo:  orderRepo,
		TxRunner:   runner,
		Outbox:     emitter,
		Shops:      registry,
		Storage:    uploader,
		Dispatcher: dispatcher,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	return &fixture{svc: svc, orders: orderSvc, uploader: uploader, dispatcher: dispatcher, outboxRepo: outboxRepo, conn: conn}
}

func (f *fixture) createOrder(t *testing.T) *models.Order {
	t.Helper()
	res, err := f.orders.Create(context.Background(), orders.CreateInput{
		RequestID:       uuid.NewString(),
		ShopID:          "heizoel-de",
		OrderPrefix:     "B",
		Customer:        orders.Customer{Name: "Jonas Weber", Email: "jonas@example.de", Language: "de"},
		DeliveryAddress: types.Address{Street: "Lindenallee", HouseNo: "7", PostalCode: "50667", City: "Köln", Country: "DE"},
		ProductCode:     "standard",
		Liters:          decimal.NewFromInt(3000),
		PricePerLiter:   decimal.RequireFromString("1.05"),
		BasePrice:       decimal.RequireFromString("3150.00"),
		DeliveryFee:     decimal.Zero,
		Discount:        decimal.Zero,
		Total:           decimal.RequireFromString("3150.00"),
		Currency:        enums.CurrencyEUR,
		PaymentMethod:   enums.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	return res.Order
}

var march = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func TestGenerateAssignsNumberAndMovesStatus(t *testing.T) {
	f := newFixture(t, march)
	ctx := context.Background()
	order := f.createOrder(t)

	res, err := f.svc.Generate(ctx, GenerateInput{OrderID: order.ID, ShopID: "heizoel-de"})
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, "DE-2026-000001", res.InvoiceNumber)
	assert.Equal(t, "https://storage.example/invoices/DE-2026-000001.html", res.FileURL)
	assert.Equal(t, enums.OrderStatusInvoiceCreated, res.Order.Status)

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.InvoiceNumber)
	assert.Equal(t, "DE-2026-000001", *stored.InvoiceNumber)
	assert.Equal(t, enums.OrderStatusInvoiceCreated, stored.Status)
	require.NotNil(t, stored.BankAccountID)
	assert.Equal(t, "main", *stored.BankAccountID)

	html := string(f.uploader.objects["DE-2026-000001.html"])
	assert.Contains(t, html, "DE89370400440532013000")
	assert.Contains(t, html, "Rechnung")
	assert.Contains(t, html, "3150.00")

	require.Len(t, f.dispatcher.requests, 1)
	req := f.dispatcher.requests[0]
	assert.Equal(t, enums.EmailTemplateInvoice, req.Template)
	assert.Equal(t, "jonas@example.de", req.Recipient)
	assert.Equal(t, "DE-2026-000001", req.Data["invoice_number"])

	events, err := f.outboxRepo.ListForAggregate(f.conn, enums.AggregateOrder, order.ID)
	require.NoError(t, err)
	var eventTypes []enums.OutboxEventType
	for _, e := range events {
		eventTypes = append(eventTypes, e.EventType)
	}
	assert.Contains(t, eventTypes, enums.EventInvoiceGenerated)
	assert.Contains(t, eventTypes, enums.EventOrderStatusChanged)

	trail, err := f.orders.AuditTrail(ctx, order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	last := trail[len(trail)-1]
	require.NotNil(t, last.ToStatus)
	assert.Equal(t, enums.OrderStatusInvoiceCreated, *last.ToStatus)
	assert.Equal(t, systemActor, last.Actor)
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := newFixture(t, march)
	ctx := context.Background()
	order := f.createOrder(t)

	first, err := f.svc.Generate(ctx, GenerateInput{OrderID: order.ID})
	require.NoError(t, err)
	second, err := f.svc.Generate(ctx, GenerateInput{OrderID: order.ID})
	require.NoError(t, err)

	assert.True(t, second.Existing)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
	assert.Equal(t, first.FileURL, second.FileURL)
	assert.Equal(t, 1, f.uploader.calls)
	assert.Len(t, f.dispatcher.requests, 1)
}

func TestGenerateNumbersSequentiallyPerYear(t *testing.T) {
	f := newFixture(t, march)
	ctx := context.Background()

	a, err := f.svc.Generate(ctx, GenerateInput{OrderID: f.createOrder(t).ID})
	require.NoError(t, err)
	b, err := f.svc.Generate(ctx, GenerateInput{OrderID: f.createOrder(t).ID})
	require.NoError(t, err)
	assert.Equal(t, "DE-2026-000001", a.InvoiceNumber)
	assert.Equal(t, "DE-2026-000002", b.InvoiceNumber)

	var counter models.OrderCounter
	require.NoError(t, f.conn.Where("scope = ?", CounterScope("heizoel-de", 2026)).Take(&counter).Error)
	assert.Equal(t, int64(2), counter.LastValue)
}

func TestGenerateFailureKeepsOrderAndRecordsError(t *testing.T) {
	f := newFixture(t, march)
	ctx := context.Background()
	order := f.createOrder(t)

	f.uploader.err = errors.New("bucket unavailable")
	_, err := f.svc.Generate(ctx, GenerateInput{OrderID: order.ID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvoice))

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	assert.Nil(t, stored.InvoiceNumber)
	require.NotNil(t, stored.InvoiceError)
	assert.True(t, strings.Contains(*stored.InvoiceError, "bucket unavailable"))
	assert.Empty(t, f.dispatcher.requests)

	f.uploader.err = nil
	res, err := f.svc.Generate(ctx, GenerateInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, "DE-2026-000001", res.InvoiceNumber)

	stored, err = f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.InvoiceError)
}

func TestGenerateKeepsStatusWhenTransitionNotAllowed(t *testing.T) {
	f := newFixture(t, march)
	ctx := context.Background()
	order := f.createOrder(t)

	_, err := f.orders.UpdateStatus(ctx, orders.StatusChange{OrderID: order.ID, To: enums.OrderStatusConfirmed, Actor: "admin"})
	require.NoError(t, err)
	_, err = f.orders.UpdateStatus(ctx, orders.StatusChange{OrderID: order.ID, To: enums.OrderStatusExchanged, Actor: "admin"})
	require.NoError(t, err)

	res, err := f.svc.Generate(ctx, GenerateInput{OrderID: order.ID, BankAccountID: "second", Actor: "admin@shop"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusExchanged, res.Order.Status)
	assert.Contains(t, string(f.uploader.objects[res.InvoiceNumber+".html"]), "DE02120300000000202051")

	trail, err := f.orders.AuditTrail(ctx, order.ID)
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, enums.OrderAuditInvoice, last.Action)
	assert.Equal(t, "admin@shop", last.Actor)
}

func TestGenerateRejectsCancelledOrder(t *testing.T) {
	f := newFixture(t, march)
	ctx := context.Background()
	order := f.createOrder(t)

	_, err := f.orders.UpdateStatus(ctx, orders.StatusChange{OrderID: order.ID, To: enums.OrderStatusCancelled, Actor: "admin"})
	require.NoError(t, err)

	_, err = f.svc.Generate(ctx, GenerateInput{OrderID: order.ID, Actor: "admin@shop"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, f.uploader.objects)
	assert.Empty(t, f.dispatcher.requests)

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	assert.False(t, stored.HasInvoice())
	assert.Nil(t, stored.InvoiceError)

	events, err := f.outboxRepo.ListForAggregate(nil, enums.AggregateOrder, order.ID)
	require.NoError(t, err)
	for _, ev := range events {
		assert.NotEqual(t, enums.EventInvoiceGenerated, ev.EventType)
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	f := newFixture(t, march)
	ctx := context.Background()
	order := f.createOrder(t)

	_, err := f.svc.Generate(ctx, GenerateInput{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Generate(ctx, GenerateInput{OrderID: order.ID, ShopID: "other"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Generate(ctx, GenerateInput{OrderID: order.ID, BankAccountID: "missing"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Generate(ctx, GenerateInput{OrderID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRenderShowsVATSplitWhenConfigured(t *testing.T) {
	shop := bankShop()
	shop.Country = "IT"
	shop.Locales = []string{"it"}
	shop.DefaultLocale = "it"
	shop.VATDisplayRate = decimal.RequireFromString("0.22")
	order := &models.Order{
		OrderNumber:     "G100001",
		CustomerName:    "Mario Rossi",
		Language:        "it",
		DeliveryAddress: types.Address{Street: "Via Roma", HouseNo: "1", PostalCode: "00100", City: "Roma", Country: "IT"},
		ProductCode:     "standard",
		Liters:          decimal.NewFromInt(1000),
		PricePerLiter:   decimal.RequireFromString("1.22"),
		BasePrice:       decimal.RequireFromString("1220.00"),
		DeliveryFee:     decimal.Zero,
		Discount:        decimal.RequireFromString("20.00"),
		TotalAmount:     decimal.RequireFromString("1200.00"),
		Currency:        enums.CurrencyEUR,
	}
	bank, _ := shop.BankAccount("")

	html, err := Render(NewDocument("IT-2026-000007", march, order, shop, bank, "consegna mattina"))
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, "Fattura")
	assert.Contains(t, out, "IT-2026-000007")
	assert.Contains(t, out, "983.61")
	assert.Contains(t, out, "216.39")
	assert.Contains(t, out, "-20.00")
	assert.Contains(t, out, "consegna mattina")
	assert.Contains(t, out, "02.03.2026")
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "AT-2027-000042", FormatNumber("at", 2027, 42))
	assert.Equal(t, "invoice:heizoel-at:2027", CounterScope("heizoel-at", 2027))
}

func TestResendEmailUsesStoredInvoice(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	order := f.createOrder(t)

	_, err := f.svc.ResendEmail(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	generated, err := f.svc.Generate(ctx, GenerateInput{OrderID: order.ID, BankAccountID: "second"})
	require.NoError(t, err)

	res, err := f.svc.ResendEmail(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	require.Len(t, f.dispatcher.requests, 2)
	resent := f.dispatcher.requests[1]
	assert.Equal(t, enums.EmailTemplateInvoice, resent.Template)
	assert.Equal(t, generated.InvoiceNumber, resent.Data["invoice_number"])
	assert.Equal(t, "DE02120300000000202051", resent.Data["bank_iban"])
}
