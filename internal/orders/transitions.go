package orders

import (
	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
)

// allowedTransitions lists every legal move out of a status. No status is
// terminal: operators can always bring an order back to confirmed.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusConfirmed,
		enums.OrderStatusCancelled,
		enums.OrderStatusInvoiceCreated,
	},
	enums.OrderStatusConfirmed: {
		enums.OrderStatusInvoiceCreated,
		enums.OrderStatusExchanged,
		enums.OrderStatusDown,
	},
	enums.OrderStatusInvoiceCreated: {enums.OrderStatusConfirmed},
	enums.OrderStatusExchanged:      {enums.OrderStatusConfirmed},
	enums.OrderStatusDown:           {enums.OrderStatusConfirmed},
	enums.OrderStatusCancelled:      {enums.OrderStatusConfirmed},
}

// CanTransition reports whether from -> to is in the table. A move to the
// current status is always allowed and is a no-op.
func CanTransition(from, to enums.OrderStatus) bool {
	if from == to {
		return from.IsValid()
	}
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a STATE_CONFLICT error for illegal moves.
func CheckTransition(from, to enums.OrderStatus) error {
	if !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": string(to)})
	}
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}
