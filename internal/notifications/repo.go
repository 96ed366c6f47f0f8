package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// Repository exposes persistence helpers for email dispatch rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.EmailDispatch, error)
	ListRetryable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.EmailDispatch, error)
	Insert(ctx context.Context, row *models.EmailDispatch) error
	Claim(ctx context.Context, id uuid.UUID, attempts int, staleBefore time.Time) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a dispatch repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.EmailDispatch, error) {
	var rows []models.EmailDispatch
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListRetryable returns rows that still have attempts left and either failed
// or have been queued since before staleBefore, oldest first.
func (r *repositoryImpl) ListRetryable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.EmailDispatch, error) {
	var rows []models.EmailDispatch
	err := r.db.WithContext(ctx).
		Where("attempts < ?", maxAttempts).
		Where(r.db.Where("status = ?", enums.EmailDispatchFailed).
			Or("status = ? AND updated_at < ?", enums.EmailDispatchQueued, staleBefore)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) Insert(ctx context.Context, row *models.EmailDispatch) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// Claim re-queues a failed row, or a queued row abandoned before staleBefore.
// The attempts guard makes the claim succeed for a single caller only.
func (r *repositoryImpl) Claim(ctx context.Context, id uuid.UUID, attempts int, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EmailDispatch{}).
		Where("id = ? AND attempts = ?", id, attempts).
		Where(r.db.Where("status = ?", enums.EmailDispatchFailed).
			Or("status = ? AND updated_at < ?", enums.EmailDispatchQueued, staleBefore)).
		Updates(map[string]any{
			"status":     enums.EmailDispatchQueued,
			"attempts":   attempts + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, at time.Time) error {
	updates := map[string]any{
		"status":     enums.EmailDispatchSent,
		"sent_at":    at,
		"last_error": nil,
		"updated_at": at,
	}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}
	return r.db.WithContext(ctx).
		Model(&models.EmailDispatch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.EmailDispatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.EmailDispatchFailed,
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		}).Error
}
