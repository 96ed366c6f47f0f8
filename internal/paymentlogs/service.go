package paymentlogs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/types"
)

const maxListLimit = 500

// Entry is one line of the payment audit trail.
type Entry struct {
	PaymentID   string
	OrderID     *uuid.UUID
	OrderNumber string
	Type        enums.PaymentLogType
	Source      enums.PaymentSource
	ResultCode  string
	Outcome     enums.PaymentOutcome
	Payload     types.JSONMap
}

// Filter selects log rows for manual reconciliation. At least one field is required.
type Filter struct {
	PaymentID   string
	OrderNumber string
	OrderID     *uuid.UUID
	// ShopIDs limits rows to orders of these shops. Rows without an order are
	// then left out.
	ShopIDs []string
}

// Service is the append-only payment log.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.PaymentLog, error)
	List(ctx context.Context, filter Filter) ([]models.PaymentLog, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payment log repository required")
	}
	return &service{repo: repo}, nil
}

// Record appends entry. A nil tx writes outside any transaction so the row
// survives a rollback of the caller's work.
func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.PaymentLog, error) {
	if entry.Type == "" || entry.Source == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment log type and source required")
	}
	row := &models.PaymentLog{
		PaymentID:       optional(entry.PaymentID),
		OrderID:         entry.OrderID,
		OrderNumber:     optional(entry.OrderNumber),
		TransactionType: entry.Type,
		Source:          entry.Source,
		ResultCode:      optional(entry.ResultCode),
		Outcome:         optional(string(entry.Outcome)),
		Payload:         entry.Payload,
	}
	if err := s.repo.WithTx(tx).Insert(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append payment log")
	}
	return row, nil
}

func (s *service) List(ctx context.Context, filter Filter) ([]models.PaymentLog, error) {
	filter.PaymentID = strings.TrimSpace(filter.PaymentID)
	filter.OrderNumber = strings.TrimSpace(filter.OrderNumber)
	if filter.PaymentID == "" && filter.OrderNumber == "" && filter.OrderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_id or order_number required")
	}
	rows, err := s.repo.List(ctx, filter, maxListLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment logs")
	}
	return rows, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
