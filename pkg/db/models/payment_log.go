package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

// PaymentLog is a write-once row for every inbound notification and outbound
// payment initiation.
type PaymentLog struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID       *string              `gorm:"column:payment_id;index"`
	OrderID         *uuid.UUID           `gorm:"column:order_id;type:uuid;index"`
	OrderNumber     *string              `gorm:"column:order_number;index"`
	TransactionType enums.PaymentLogType `gorm:"column:transaction_type;not null"`
	Source          enums.PaymentSource  `gorm:"column:source;not null"`
	ResultCode      *string              `gorm:"column:result_code"`
	Outcome         *string              `gorm:"column:outcome"`
	Payload         types.JSONMap        `gorm:"column:payload;type:jsonb"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
}
