// Package router turns order events into rows of the order_events table.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/heatflow/oilshop-backend/internal/analytics/types"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers rows to BigQuery.
type Writer interface {
	Insert(ctx context.Context, row types.OrderEventRow) error
}

type Router struct {
	writer Writer
	logg   *logger.Logger
}

func New(writer Writer, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Router{writer: writer, logg: logg}, nil
}

// Handle projects envelope into a row and hands it to the writer. Event types
// without a projection return ErrUnsupportedEventType.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	project, ok := projections[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("%s event %s has no payload", envelope.EventType, envelope.EventID)
	}
	row, err := project(envelope)
	if err != nil {
		return err
	}
	if err := r.writer.Insert(ctx, row); err != nil {
		return fmt.Errorf("write %s row: %w", envelope.EventType, err)
	}
	if envelope.EventType == enums.EventPaymentOrphaned {
		r.logg.Warn(r.logg.WithField(ctx, "payment_id", deref(row.PaymentID)), "orphaned payment exported")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
