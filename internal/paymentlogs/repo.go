package paymentlogs

import (
	"context"

	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/db/models"
)

// Repository appends and reads payment log rows. There is no update path.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.PaymentLog) error
	List(ctx context.Context, filter Filter, limit int) ([]models.PaymentLog, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, entry *models.PaymentLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, filter Filter, limit int) ([]models.PaymentLog, error) {
	query := r.db.WithContext(ctx).Model(&models.PaymentLog{})
	if filter.PaymentID != "" {
		query = query.Where("payment_id = ?", filter.PaymentID)
	}
	if filter.OrderNumber != "" {
		query = query.Where("order_number = ?", filter.OrderNumber)
	}
	if filter.OrderID != nil {
		query = query.Where("order_id = ?", *filter.OrderID)
	}
	if len(filter.ShopIDs) > 0 {
		shopOrders := r.db.Model(&models.Order{}).Select("id").Where("shop_id IN ?", filter.ShopIDs)
		query = query.Where("order_id IN (?)", shopOrders)
	}
	var rows []models.PaymentLog
	err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}
