package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/internal/admin"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

type orderResponse struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     string              `json:"order_number"`
	ShopID          string              `json:"shop_id"`
	Status          enums.OrderStatus   `json:"status"`
	Hidden          bool                `json:"hidden"`
	CustomerName    string              `json:"customer_name"`
	CustomerEmail   string              `json:"customer_email"`
	CustomerPhone   string              `json:"customer_phone,omitempty"`
	Language        string              `json:"language"`
	DeliveryAddress types.Address       `json:"delivery_address"`
	BillingAddress  *types.Address      `json:"billing_address,omitempty"`
	Notes           *string             `json:"notes,omitempty"`
	ProductCode     string              `json:"product_code"`
	Liters          decimal.Decimal     `json:"liters"`
	PricePerLiter   decimal.Decimal     `json:"price_per_liter"`
	BasePrice       decimal.Decimal     `json:"base_price"`
	DeliveryFee     decimal.Decimal     `json:"delivery_fee"`
	Discount        decimal.Decimal     `json:"discount"`
	DiscountCode    *string             `json:"discount_code,omitempty"`
	Total           decimal.Decimal     `json:"total"`
	Currency        enums.Currency      `json:"currency"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	BankAccountID   *string             `json:"bank_account_id,omitempty"`
	PaymentID       *string             `json:"nexi_payment_id,omitempty"`
	PaymentStatus   *string             `json:"nexi_transaction_status,omitempty"`
	InvoiceNumber   *string             `json:"invoice_number,omitempty"`
	InvoiceURL      *string             `json:"invoice_file_url,omitempty"`
	InvoiceError    *string             `json:"invoice_error,omitempty"`
	OriginDomain    string              `json:"origin_domain,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type auditResponse struct {
	Action     enums.OrderAuditAction `json:"action"`
	FromStatus *enums.OrderStatus     `json:"from_status,omitempty"`
	ToStatus   *enums.OrderStatus     `json:"to_status,omitempty"`
	Actor      string                 `json:"actor"`
	Note       *string                `json:"note,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

type paymentLogResponse struct {
	ID              uuid.UUID            `json:"id"`
	PaymentID       *string              `json:"payment_id,omitempty"`
	OrderNumber     *string              `json:"order_number,omitempty"`
	TransactionType enums.PaymentLogType `json:"transaction_type"`
	Source          enums.PaymentSource  `json:"source"`
	ResultCode      *string              `json:"result_code,omitempty"`
	Outcome         *string              `json:"outcome,omitempty"`
	Payload         types.JSONMap        `json:"payload,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

type emailResponse struct {
	Template  enums.EmailTemplate       `json:"template"`
	Status    enums.EmailDispatchStatus `json:"status"`
	Locale    string                    `json:"locale"`
	Recipient string                    `json:"recipient"`
	Attempts  int                       `json:"attempts"`
	LastError *string                   `json:"last_error,omitempty"`
	SentAt    *time.Time                `json:"sent_at,omitempty"`
}

type listResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type detailResponse struct {
	Order       orderResponse        `json:"order"`
	AuditTrail  []auditResponse      `json:"audit_trail"`
	PaymentLogs []paymentLogResponse `json:"payment_logs"`
	Emails      []emailResponse      `json:"emails"`
}

type transitionResponse struct {
	Order   orderResponse     `json:"order"`
	From    enums.OrderStatus `json:"from"`
	Changed bool              `json:"changed"`
}

type invoiceResponse struct {
	OrderNumber   string `json:"order_number"`
	InvoiceNumber string `json:"invoice_number"`
	FileURL       string `json:"file_url"`
	Existing      bool   `json:"existing"`
}

func newOrderResponse(o *models.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		ShopID:          o.ShopID,
		Status:          o.Status,
		Hidden:          o.IsHidden,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		CustomerPhone:   o.CustomerPhone,
		Language:        o.Language,
		DeliveryAddress: o.DeliveryAddress,
		BillingAddress:  o.BillingAddress,
		Notes:           o.Notes,
		ProductCode:     o.ProductCode,
		Liters:          o.Liters,
		PricePerLiter:   o.PricePerLiter,
		BasePrice:       o.BasePrice,
		DeliveryFee:     o.DeliveryFee,
		Discount:        o.Discount,
		DiscountCode:    o.DiscountCode,
		Total:           o.TotalAmount,
		Currency:        o.Currency,
		PaymentMethod:   o.PaymentMethod,
		BankAccountID:   o.BankAccountID,
		PaymentID:       o.NexiPaymentID,
		PaymentStatus:   o.NexiTransactionStatus,
		InvoiceNumber:   o.InvoiceNumber,
		InvoiceURL:      o.InvoiceFileURL,
		InvoiceError:    o.InvoiceError,
		OriginDomain:    o.OriginDomain,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func newAuditResponses(events []models.OrderAuditEvent) []auditResponse {
	out := make([]auditResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditResponse{
			Action:     e.Action,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Actor:      e.Actor,
			Note:       e.Note,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

func newPaymentLogResponses(logs []models.PaymentLog) []paymentLogResponse {
	out := make([]paymentLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, paymentLogResponse{
			ID:              l.ID,
			PaymentID:       l.PaymentID,
			OrderNumber:     l.OrderNumber,
			TransactionType: l.TransactionType,
			Source:          l.Source,
			ResultCode:      l.ResultCode,
			Outcome:         l.Outcome,
			Payload:         l.Payload,
			CreatedAt:       l.CreatedAt,
		})
	}
	return out
}

func newEmailResponses(rows []models.EmailDispatch) []emailResponse {
	out := make([]emailResponse, 0, len(rows))
	for _, d := range rows {
		out = append(out, emailResponse{
			Template:  d.Template,
			Status:    d.Status,
			Locale:    d.Locale,
			Recipient: d.Recipient,
			Attempts:  d.Attempts,
			LastError: d.LastError,
			SentAt:    d.SentAt,
		})
	}
	return out
}

func newDetailResponse(d *admin.OrderDetail) detailResponse {
	return detailResponse{
		Order:       newOrderResponse(d.Order),
		AuditTrail:  newAuditResponses(d.AuditTrail),
		PaymentLogs: newPaymentLogResponses(d.PaymentLogs),
		Emails:      newEmailResponses(d.Emails),
	}
}
