package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/heatflow/oilshop-backend/internal/notifications"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

const (
	defaultEmailMaxAttempts = 5
	defaultBatchSize        = 25
)

type failedEmailLister interface {
	ListRetryable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.EmailDispatch, error)
}

type confirmationSender interface {
	SendOrderEmail(ctx context.Context, orderID uuid.UUID) error
}

type invoiceMailer interface {
	ResendEmail(ctx context.Context, orderID uuid.UUID) (*notifications.Result, error)
}

type EmailRetryJobParams struct {
	Logger        *logger.Logger
	Dispatches    failedEmailLister
	Confirmations confirmationSender
	Invoices      invoiceMailer
	MaxAttempts   int
	BatchSize     int
	// QueuedTimeout must match the dispatcher's; rows queued longer are
	// treated as abandoned.
	QueuedTimeout time.Duration
	Now           func() time.Time
}

func NewEmailRetryJob(params EmailRetryJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Dispatches == nil:
		return nil, fmt.Errorf("email dispatch repository required")
	case params.Confirmations == nil:
		return nil, fmt.Errorf("confirmation sender required")
	case params.Invoices == nil:
		return nil, fmt.Errorf("invoice mailer required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultEmailMaxAttempts
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	queued := params.QueuedTimeout
	if queued <= 0 {
		queued = notifications.DefaultQueuedTimeout
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &emailRetryJob{
		logg:          params.Logger,
		dispatches:    params.Dispatches,
		confirmations: params.Confirmations,
		invoices:      params.Invoices,
		maxAttempts:   maxAttempts,
		batch:         batch,
		queued:        queued,
		now:           now,
	}, nil
}

// emailRetryJob sends failed or abandoned transactional emails again until a
// row runs out of attempts. The dispatcher re-claims the row itself.
type emailRetryJob struct {
	logg          *logger.Logger
	dispatches    failedEmailLister
	confirmations confirmationSender
	invoices      invoiceMailer
	maxAttempts   int
	batch         int
	queued        time.Duration
	now           func() time.Time
}

func (j *emailRetryJob) Name() string { return "email-retry" }

func (j *emailRetryJob) Run(ctx context.Context) (Outcome, error) {
	rows, err := j.dispatches.ListRetryable(ctx, j.maxAttempts, j.now().Add(-j.queued), j.batch)
	if err != nil {
		return nil, fmt.Errorf("list retryable emails: %w", err)
	}
	outcome := Outcome{}
	var errs error
	for _, row := range rows {
		var sendErr error
		switch row.Template {
		case enums.EmailTemplateOrderConfirmation:
			sendErr = j.confirmations.SendOrderEmail(ctx, row.OrderID)
		case enums.EmailTemplateInvoice:
			_, sendErr = j.invoices.ResendEmail(ctx, row.OrderID)
		default:
			outcome["skipped"]++
			continue
		}
		if sendErr != nil {
			outcome["failed"]++
			errs = multierr.Append(errs, fmt.Errorf("%s for order %s: %w", row.Template, row.OrderID, sendErr))
			continue
		}
		outcome["retried"]++
	}
	return outcome, errs
}
