package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderEventRow mirrors the order_events BigQuery schema. Columns that an
// event type does not carry stay NULL.
type OrderEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	OrderID       *string            `bigquery:"order_id"`
	OrderNumber   *string            `bigquery:"order_number"`
	ShopID        *string            `bigquery:"shop_id"`
	StatusFrom    *string            `bigquery:"status_from"`
	StatusTo      *string            `bigquery:"status_to"`
	PaymentMethod *string            `bigquery:"payment_method"`
	Currency      *string            `bigquery:"currency"`
	TotalMinor    *int64             `bigquery:"total_minor"`
	Liters        *float64           `bigquery:"liters"`
	Hidden        *bool              `bigquery:"hidden"`
	InvoiceNumber *string            `bigquery:"invoice_number"`
	PaymentID     *string            `bigquery:"payment_id"`
	ResultCode    *string            `bigquery:"result_code"`
	Source        *string            `bigquery:"source"`
	Actor         *string            `bigquery:"actor"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}
