package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// OrderAuditEvent is an append-only record of who changed an order, when and how.
type OrderAuditEvent struct {
	ID         uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	Action     enums.OrderAuditAction `gorm:"column:action;not null"`
	FromStatus *enums.OrderStatus     `gorm:"column:from_status"`
	ToStatus   *enums.OrderStatus     `gorm:"column:to_status"`
	Actor      string                 `gorm:"column:actor;not null"`
	Note       *string                `gorm:"column:note"`
	CreatedAt  time.Time              `gorm:"column:created_at;autoCreateTime"`
}
