package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once per stored order.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	ShopID        string              `json:"shop_id"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	Currency      enums.Currency      `json:"currency"`
	Liters        decimal.Decimal     `json:"liters"`
}

// OrderStatusChangedEvent is emitted for every applied status transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	ShopID      string            `json:"shop_id"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	Actor       string            `json:"actor"`
}

// OrderVisibilityChangedEvent is emitted when an operator hides or unhides an order.
type OrderVisibilityChangedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Hidden      bool      `json:"hidden"`
	Actor       string    `json:"actor"`
}

// InvoiceGeneratedEvent carries the invoice linkage persisted on the order.
type InvoiceGeneratedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	ShopID        string    `json:"shop_id"`
	InvoiceNumber string    `json:"invoice_number"`
	FileURL       string    `json:"file_url"`
}

// PaymentOrphanedEvent flags a provider notification no order could be
// matched to, for manual reconciliation.
type PaymentOrphanedEvent struct {
	TrackID    string              `json:"track_id,omitempty"`
	PaymentID  string              `json:"payment_id,omitempty"`
	ResultCode string              `json:"result_code,omitempty"`
	Source     enums.PaymentSource `json:"source"`
}
