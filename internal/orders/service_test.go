package orders

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/db/dbtest"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
	"github.com/heatflow/oilshop-backend/pkg/pagination"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

func newTestService(t *testing.T) (Service, *outbox.Repository, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	outboxRepo := outbox.NewRepository(conn)
	svc, err := NewService(NewRepository(conn), db.NewFromConn(conn), outbox.NewService(outboxRepo, nil))
	require.NoError(t, err)
	return svc, outboxRepo, conn
}

func sampleInput(requestID string) CreateInput {
	return CreateInput{
		RequestID:    requestID,
		ShopID:       "heizoel-de",
		OrderPrefix:  "H",
		OriginDomain: "heizoel.example.de",
		Customer: Customer{
			Name:     "Erika Mustermann",
			Email:    " Erika@Example.DE ",
			Phone:    "+49 30 1234",
			Language: "de",
		},
		DeliveryAddress: types.Address{Street: "Hauptstraße", HouseNo: "1", PostalCode: "10115", City: "Berlin", Country: "DE"},
		ProductCode:     "standard",
		Liters:          decimal.NewFromInt(3000),
		PricePerLiter:   decimal.RequireFromString("0.95"),
		BasePrice:       decimal.RequireFromString("2850.00"),
		DeliveryFee:     decimal.Zero,
		Discount:        decimal.Zero,
		Total:           decimal.RequireFromString("2850.00"),
		Currency:        enums.CurrencyEUR,
		PaymentMethod:   enums.PaymentMethodBankTransfer,
	}
}

func TestCreateAssignsOrderNumberAndEmitsEvent(t *testing.T) {
	svc, outboxRepo, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, sampleInput("req-1"))
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	assert.Equal(t, "H100001", res.Order.OrderNumber)
	assert.Equal(t, enums.OrderStatusPending, res.Order.Status)
	assert.Equal(t, "erika@example.de", res.Order.CustomerEmail)

	second, err := svc.Create(ctx, sampleInput("req-2"))
	require.NoError(t, err)
	assert.Equal(t, "H100002", second.Order.OrderNumber)

	events, err := outboxRepo.ListForAggregate(nil, enums.AggregateOrder, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
}

func TestCreateSameRequestIDReturnsExistingOrder(t *testing.T) {
	svc, _, conn := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, sampleInput("req-dup"))
	require.NoError(t, err)

	again, err := svc.Create(ctx, sampleInput("req-dup"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Order.ID, again.Order.ID)
	assert.Equal(t, first.Order.OrderNumber, again.Order.OrderNumber)

	var count int64
	require.NoError(t, conn.Table("orders").Where("request_id = ?", "req-dup").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateConcurrentSubmissionsGetDistinctNumbers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	numbers := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Create(ctx, sampleInput(fmt.Sprintf("req-%d", i)))
			if err != nil {
				errs <- err
				return
			}
			numbers <- res.Order.OrderNumber
		}(i)
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for number := range numbers {
		assert.False(t, seen[number], "order number %s assigned twice", number)
		seen[number] = true
	}
	assert.Len(t, seen, n)
}

func TestCreateConcurrentSameRequestIDStoresOneOrder(t *testing.T) {
	svc, _, conn := newTestService(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	results := make(chan *CreateResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Create(ctx, sampleInput("req-race"))
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	ids := map[uuid.UUID]bool{}
	for res := range results {
		ids[res.Order.ID] = true
		if !res.Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Len(t, ids, 1)

	var count int64
	require.NoError(t, conn.Table("orders").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	input := sampleInput("req-bad")
	input.Total = decimal.RequireFromString("2000.00")
	input.Customer.Email = "not-an-email"
	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input = sampleInput("req-bad-2")
	input.Liters = decimal.Zero
	_, err = svc.Create(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateStatusRecordsAuditAndEvent(t *testing.T) {
	svc, outboxRepo, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, sampleInput("req-status"))
	require.NoError(t, err)

	res, err := svc.UpdateStatus(ctx, StatusChange{OrderID: created.Order.ID, To: enums.OrderStatusConfirmed, Actor: "admin@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, enums.OrderStatusPending, res.From)

	stored, err := svc.Get(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, stored.Status)

	trail, err := svc.AuditTrail(ctx, created.Order.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, enums.OrderAuditStatusChange, trail[0].Action)
	assert.Equal(t, "admin@example.com", trail[0].Actor)
	require.NotNil(t, trail[0].FromStatus)
	assert.Equal(t, enums.OrderStatusPending, *trail[0].FromStatus)

	events, err := outboxRepo.ListForAggregate(nil, enums.AggregateOrder, created.Order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, enums.EventOrderStatusChanged, events[1].EventType)
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, sampleInput("req-noop"))
	require.NoError(t, err)

	res, err := svc.UpdateStatus(ctx, StatusChange{OrderID: created.Order.ID, To: enums.OrderStatusPending, Actor: "ops"})
	require.NoError(t, err)
	assert.False(t, res.Changed)

	trail, err := svc.AuditTrail(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, sampleInput("req-illegal"))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, StatusChange{OrderID: created.Order.ID, To: enums.OrderStatusExchanged, Actor: "ops"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	stored, err := svc.Get(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)

	_, err = svc.UpdateStatus(ctx, StatusChange{OrderID: created.Order.ID, To: "shipped", Actor: "ops"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateStatusFollowsTransitionTable(t *testing.T) {
	statuses := []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusConfirmed,
		enums.OrderStatusInvoiceCreated,
		enums.OrderStatusExchanged,
		enums.OrderStatusDown,
		enums.OrderStatusCancelled,
	}
	legal := map[enums.OrderStatus][]enums.OrderStatus{
		enums.OrderStatusPending:        {enums.OrderStatusConfirmed, enums.OrderStatusCancelled, enums.OrderStatusInvoiceCreated},
		enums.OrderStatusConfirmed:      {enums.OrderStatusInvoiceCreated, enums.OrderStatusExchanged, enums.OrderStatusDown},
		enums.OrderStatusInvoiceCreated: {enums.OrderStatusConfirmed},
		enums.OrderStatusExchanged:      {enums.OrderStatusConfirmed},
		enums.OrderStatusDown:           {enums.OrderStatusConfirmed},
		enums.OrderStatusCancelled:      {enums.OrderStatusConfirmed},
	}

	svc, _, conn := newTestService(t)
	ctx := context.Background()
	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(fmt.Sprintf("%s to %s", from, to), func(t *testing.T) {
				created, err := svc.Create(ctx, sampleInput(fmt.Sprintf("req-%s-%s", from, to)))
				require.NoError(t, err)
				require.NoError(t, conn.Model(&models.Order{}).Where("id = ?", created.Order.ID).
					UpdateColumn("status", from).Error)

				res, err := svc.UpdateStatus(ctx, StatusChange{OrderID: created.Order.ID, To: to, Actor: "ops"})
				stored, getErr := svc.Get(ctx, created.Order.ID)
				require.NoError(t, getErr)

				if from == to || slices.Contains(legal[from], to) {
					require.NoError(t, err)
					assert.Equal(t, from != to, res.Changed)
					assert.Equal(t, to, stored.Status)
					return
				}
				require.Error(t, err)
				assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), err.Error())
				assert.Equal(t, from, stored.Status)
			})
		}
	}
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.UpdateStatus(context.Background(), StatusChange{OrderID: uuid.New(), To: enums.OrderStatusConfirmed, Actor: "ops"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSetHiddenIsAuditedOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, sampleInput("req-hide"))
	require.NoError(t, err)

	order, err := svc.SetHidden(ctx, created.Order.ID, true, "ops")
	require.NoError(t, err)
	assert.True(t, order.IsHidden)

	_, err = svc.SetHidden(ctx, created.Order.ID, true, "ops")
	require.NoError(t, err)

	trail, err := svc.AuditTrail(ctx, created.Order.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, enums.OrderAuditHide, trail[0].Action)

	hidden := true
	page, err := svc.List(ctx, ListFilter{ShopID: "heizoel-de", Hidden: &hidden})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestRecordPaymentNotificationKeepsLinkedPaymentID(t *testing.T) {
	svc, _, conn := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, sampleInput("req-pay"))
	require.NoError(t, err)
	require.NoError(t, svc.AttachPayment(ctx, created.Order.ID, "pay-1", "https://pay.example/pay-1"))

	order, err := svc.GetByPaymentID(ctx, "pay-1")
	require.NoError(t, err)

	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.RecordPaymentNotification(ctx, tx, order, PaymentUpdate{
			PaymentID:         "pay-other",
			TransactionStatus: "APPROVED",
			Raw:               types.JSONMap{"result": "APPROVED"},
		})
	})
	require.NoError(t, err)

	stored, err := svc.GetByOrderNumber(ctx, created.Order.OrderNumber)
	require.NoError(t, err)
	require.NotNil(t, stored.NexiPaymentID)
	assert.Equal(t, "pay-1", *stored.NexiPaymentID)
	require.NotNil(t, stored.NexiTransactionStatus)
	assert.Equal(t, "APPROVED", *stored.NexiTransactionStatus)
	assert.Equal(t, "APPROVED", stored.NexiWebhookData["result"])
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, sampleInput(fmt.Sprintf("req-list-%d", i)))
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, ListFilter{ShopID: "heizoel-de", Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.Cursor)

	seen := map[uuid.UUID]bool{}
	for _, o := range first.Items {
		seen[o.ID] = true
	}
	cursor := first.Cursor
	for cursor != "" {
		page, err := svc.List(ctx, ListFilter{ShopID: "heizoel-de", Params: pagination.Params{Limit: 2, Cursor: cursor}})
		require.NoError(t, err)
		for _, o := range page.Items {
			assert.False(t, seen[o.ID], "order %s listed twice", o.OrderNumber)
			seen[o.ID] = true
		}
		cursor = page.Cursor
	}
	assert.Len(t, seen, 5)

	_, err = svc.List(ctx, ListFilter{Params: pagination.Params{Cursor: "%%%"}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestListInvoiceFailuresSkipsInvoicedAndCancelled(t *testing.T) {
	svc, _, conn := newTestService(t)
	ctx := context.Background()
	repo := NewRepository(conn)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		res, err := svc.Create(ctx, sampleInput(fmt.Sprintf("req-invoice-%d", i)))
		require.NoError(t, err)
		ids = append(ids, res.Order.ID)
	}
	for _, id := range ids[:3] {
		require.NoError(t, repo.Update(ctx, id, map[string]any{"invoice_error": "upload failed"}))
	}
	claimed, err := repo.ClaimInvoice(ctx, ids[1], "DE-2026-000001", "https://storage.example/DE-2026-000001.html")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.Update(ctx, ids[2], map[string]any{"status": enums.OrderStatusCancelled}))

	rows, err := repo.ListInvoiceFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ids[0], rows[0].ID)
}
