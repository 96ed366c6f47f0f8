package orders

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/pagination"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

// Customer is the buyer snapshot stored on the order.
type Customer struct {
	Name     string
	Email    string
	Phone    string
	Language string
}

// CreateInput is a fully priced order ready to be stored.
type CreateInput struct {
	RequestID    string
	ShopID       string
	OrderPrefix  string
	OriginDomain string

	Customer        Customer
	DeliveryAddress types.Address
	BillingAddress  *types.Address
	Notes           *string

	ProductCode   string
	Liters        decimal.Decimal
	PricePerLiter decimal.Decimal
	BasePrice     decimal.Decimal
	DeliveryFee   decimal.Decimal
	Discount      decimal.Decimal
	DiscountCode  *string
	Total         decimal.Decimal
	Currency      enums.Currency

	PaymentMethod enums.PaymentMethod
	BankAccountID *string
}

// CreateResult carries the stored order. Duplicate is set when request_id
// was already used and the existing order is returned instead.
type CreateResult struct {
	Order     *models.Order
	Duplicate bool
}

// StatusChange asks for an order to move to To on behalf of Actor.
type StatusChange struct {
	OrderID uuid.UUID
	To      enums.OrderStatus
	Actor   string
	Note    string
}

// TransitionResult reports what a status change did.
type TransitionResult struct {
	Order   *models.Order
	From    enums.OrderStatus
	Changed bool
}

// PaymentUpdate is the provider data recorded on every notification.
type PaymentUpdate struct {
	PaymentID         string
	TransactionStatus string
	Raw               types.JSONMap
}

// ListFilter narrows the admin order list.
type ListFilter struct {
	ShopID string
	Status enums.OrderStatus
	Hidden *bool
	Search string
	Params pagination.Params
}

// ListResult is one page of orders plus the cursor of the next page.
type ListResult struct {
	Items  []models.Order
	Cursor string
}

type listQuery struct {
	shopID string
	status enums.OrderStatus
	hidden *bool
	search string
	cursor *pagination.Cursor
	limit  int
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
