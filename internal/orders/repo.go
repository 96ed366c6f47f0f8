package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// Repository defines persistence operations for orders, their audit trail
// and the number counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	NextSequence(ctx context.Context, scope string, seed int64) (int64, error)
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByRequestID(ctx context.Context, requestID string) (*models.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	List(ctx context.Context, q listQuery) ([]models.Order, error)
	ListInvoiceFailures(ctx context.Context, limit int) ([]models.Order, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ClaimInvoice(ctx context.Context, id uuid.UUID, invoiceNumber, fileURL string) (bool, error)
	AppendAudit(ctx context.Context, event *models.OrderAuditEvent) error
	ListAudit(ctx context.Context, orderID uuid.UUID) ([]models.OrderAuditEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// NextSequence bumps the counter of scope and returns the new value. The
// UPDATE takes a row lock, so concurrent callers are serialized until the
// surrounding transaction ends.
func (r *repository) NextSequence(ctx context.Context, scope string, seed int64) (int64, error) {
	seedRow := models.OrderCounter{Scope: scope, LastValue: seed}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "scope"}}, DoNothing: true}).
		Create(&seedRow).Error; err != nil {
		return 0, err
	}

	var next int64
	err := r.db.WithContext(ctx).
		Raw("UPDATE order_counters SET last_value = last_value + 1 WHERE scope = ? RETURNING last_value", scope).
		Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByIDForUpdate row-locks the order until the surrounding transaction ends.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return r.findOne(ctx, "order_number = ?", orderNumber)
}

func (r *repository) FindByRequestID(ctx context.Context, requestID string) (*models.Order, error) {
	return r.findOne(ctx, "request_id = ?", requestID)
}

func (r *repository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return r.findOne(ctx, "nexi_payment_id = ?", paymentID)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where(query, arg).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns orders newest first using cursor pagination.
func (r *repository) List(ctx context.Context, q listQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if q.shopID != "" {
		query = query.Where("shop_id = ?", q.shopID)
	}
	if q.status != "" {
		query = query.Where("status = ?", q.status)
	}
	if q.hidden != nil {
		query = query.Where("is_hidden = ?", *q.hidden)
	}
	if q.search != "" {
		like := "%" + q.search + "%"
		query = query.Where("(order_number = ? OR LOWER(customer_email) LIKE ? OR LOWER(customer_name) LIKE ?)", q.search, like, like)
	}
	if q.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", q.cursor.CreatedAt, q.cursor.CreatedAt, q.cursor.ID)
	}

	var rows []models.Order
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(q.limit).
		Find(&rows).Error
	return rows, err
}

// ListInvoiceFailures returns live orders whose invoice generation failed,
// least recently touched first.
func (r *repository) ListInvoiceFailures(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("invoice_number IS NULL AND invoice_error IS NOT NULL").
		Where("status <> ?", enums.OrderStatusCancelled).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// UpdateStatusIf moves the order only while it still holds from. It reports
// false when another writer changed the status first.
func (r *repository) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ClaimInvoice stores the invoice linkage unless one is already present.
func (r *repository) ClaimInvoice(ctx context.Context, id uuid.UUID, invoiceNumber, fileURL string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND invoice_number IS NULL", id).
		Updates(map[string]any{
			"invoice_number":   invoiceNumber,
			"invoice_file_url": fileURL,
			"invoice_error":    nil,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AppendAudit(ctx context.Context, event *models.OrderAuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListAudit(ctx context.Context, orderID uuid.UUID) ([]models.OrderAuditEvent, error) {
	var events []models.OrderAuditEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
