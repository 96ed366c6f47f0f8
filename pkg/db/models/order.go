package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

// Order is one heating-oil purchase with its customer and commercial snapshot.
type Order struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber string    `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	RequestID   string    `gorm:"column:request_id;not null;uniqueIndex:ux_orders_request_id"`

	CustomerName    string         `gorm:"column:customer_name;not null"`
	CustomerEmail   string         `gorm:"column:customer_email;not null"`
	CustomerPhone   string         `gorm:"column:customer_phone"`
	Language        string         `gorm:"column:language;not null"`
	DeliveryAddress types.Address  `gorm:"column:delivery_address;type:jsonb;serializer:json;not null"`
	BillingAddress  *types.Address `gorm:"column:billing_address;type:jsonb;serializer:json"`
	Notes           *string        `gorm:"column:notes"`

	ProductCode   string          `gorm:"column:product_code;not null"`
	Liters        decimal.Decimal `gorm:"column:liters;type:numeric(12,2);not null"`
	PricePerLiter decimal.Decimal `gorm:"column:price_per_liter;type:numeric(12,4);not null"`
	BasePrice     decimal.Decimal `gorm:"column:base_price;type:numeric(12,2);not null"`
	DeliveryFee   decimal.Decimal `gorm:"column:delivery_fee;type:numeric(12,2);not null"`
	Discount      decimal.Decimal `gorm:"column:discount;type:numeric(12,2);not null"`
	DiscountCode  *string         `gorm:"column:discount_code"`
	TotalAmount   decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency      enums.Currency  `gorm:"column:currency;not null;default:'EUR'"`

	Status   enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	IsHidden bool              `gorm:"column:is_hidden;not null;default:false"`

	PaymentMethod         enums.PaymentMethod `gorm:"column:payment_method;not null"`
	BankAccountID         *string             `gorm:"column:bank_account_id"`
	NexiPaymentID         *string             `gorm:"column:nexi_payment_id;index:ix_orders_nexi_payment_id"`
	NexiRedirectURL       *string             `gorm:"column:nexi_redirect_url"`
	NexiTransactionStatus *string             `gorm:"column:nexi_transaction_status"`
	NexiWebhookData       types.JSONMap       `gorm:"column:nexi_webhook_data;type:jsonb"`

	InvoiceNumber  *string `gorm:"column:invoice_number;uniqueIndex:ux_orders_invoice_number"`
	InvoiceFileURL *string `gorm:"column:invoice_file_url"`
	InvoiceError   *string `gorm:"column:invoice_error"`

	OriginDomain string    `gorm:"column:origin_domain"`
	ShopID       string    `gorm:"column:shop_id;not null;index:ix_orders_shop_created"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime;index:ix_orders_shop_created"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// HasInvoice reports whether an invoice number was already assigned.
func (o *Order) HasInvoice() bool {
	return o != nil && o.InvoiceNumber != nil && *o.InvoiceNumber != ""
}
