package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/heatflow/oilshop-backend/internal/invoices"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

const invoiceRetryActor = "invoice-retry"

type invoiceFailureLister interface {
	ListInvoiceFailures(ctx context.Context, limit int) ([]models.Order, error)
}

type invoiceGenerator interface {
	Generate(ctx context.Context, input invoices.GenerateInput) (*invoices.Result, error)
}

type InvoiceRetryJobParams struct {
	Logger    *logger.Logger
	Orders    invoiceFailureLister
	Invoices  invoiceGenerator
	BatchSize int
}

func NewInvoiceRetryJob(params InvoiceRetryJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Invoices == nil:
		return nil, fmt.Errorf("invoice generator required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &invoiceRetryJob{logg: params.Logger, orders: params.Orders, invoices: params.Invoices, batch: batch}, nil
}

// invoiceRetryJob regenerates invoices whose first attempt failed. The
// order keeps its stored bank account; a new failure overwrites invoice_error.
type invoiceRetryJob struct {
	logg     *logger.Logger
	orders   invoiceFailureLister
	invoices invoiceGenerator
	batch    int
}

func (j *invoiceRetryJob) Name() string { return "invoice-retry" }

func (j *invoiceRetryJob) Run(ctx context.Context) (Outcome, error) {
	pending, err := j.orders.ListInvoiceFailures(ctx, j.batch)
	if err != nil {
		return nil, fmt.Errorf("list invoice failures: %w", err)
	}
	outcome := Outcome{}
	var errs error
	for _, order := range pending {
		res, err := j.invoices.Generate(ctx, invoices.GenerateInput{
			OrderID: order.ID,
			ShopID:  order.ShopID,
			Actor:   invoiceRetryActor,
		})
		if err != nil {
			outcome["failed"]++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.OrderNumber, err))
			continue
		}
		if res.Existing {
			outcome["skipped"]++
			continue
		}
		outcome["generated"]++
		j.logg.Info(j.logg.WithField(ctx, "invoice_number", res.InvoiceNumber), "invoice generated on retry")
	}
	return outcome, errs
}
