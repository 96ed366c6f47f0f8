package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// EmailDispatch records the single send of a template for an order.
type EmailDispatch struct {
	ID                uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_email_dispatches_order_template"`
	Template          enums.EmailTemplate       `gorm:"column:template;not null;uniqueIndex:ux_email_dispatches_order_template"`
	Status            enums.EmailDispatchStatus `gorm:"column:status;not null"`
	Locale            string                    `gorm:"column:locale;not null"`
	Recipient         string                    `gorm:"column:recipient;not null"`
	ProviderMessageID *string                   `gorm:"column:provider_message_id"`
	LastError         *string                   `gorm:"column:last_error"`
	Attempts          int                       `gorm:"column:attempts;not null;default:0"`
	SentAt            *time.Time                `gorm:"column:sent_at"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
