package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/internal/analytics/types"
	analyticswriter "github.com/heatflow/oilshop-backend/internal/analytics/writer"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/outbox/payloads"
)

type projection func(types.Envelope) (types.OrderEventRow, error)

var projections = map[enums.OutboxEventType]projection{
	enums.EventOrderCreated: project(func(e *payloads.OrderCreatedEvent, row *types.OrderEventRow) {
		liters, _ := e.Liters.Float64()
		total := minorUnits(e.TotalAmount)
		row.OrderID = optional(e.OrderID.String())
		row.OrderNumber = optional(e.OrderNumber)
		row.ShopID = optional(e.ShopID)
		row.PaymentMethod = optional(string(e.PaymentMethod))
		row.Currency = optional(string(e.Currency))
		row.TotalMinor = &total
		row.Liters = &liters
	}),
	enums.EventOrderStatusChanged: project(func(e *payloads.OrderStatusChangedEvent, row *types.OrderEventRow) {
		row.OrderID = optional(e.OrderID.String())
		row.OrderNumber = optional(e.OrderNumber)
		row.ShopID = optional(e.ShopID)
		row.StatusFrom = optional(string(e.From))
		row.StatusTo = optional(string(e.To))
		overrideActor(row, e.Actor)
	}),
	enums.EventOrderVisibilityChanged: project(func(e *payloads.OrderVisibilityChangedEvent, row *types.OrderEventRow) {
		hidden := e.Hidden
		row.OrderID = optional(e.OrderID.String())
		row.OrderNumber = optional(e.OrderNumber)
		row.Hidden = &hidden
		overrideActor(row, e.Actor)
	}),
	enums.EventInvoiceGenerated: project(func(e *payloads.InvoiceGeneratedEvent, row *types.OrderEventRow) {
		row.OrderID = optional(e.OrderID.String())
		row.OrderNumber = optional(e.OrderNumber)
		row.ShopID = optional(e.ShopID)
		row.InvoiceNumber = optional(e.InvoiceNumber)
	}),
	enums.EventPaymentOrphaned: project(func(e *payloads.PaymentOrphanedEvent, row *types.OrderEventRow) {
		row.PaymentID = optional(e.PaymentID)
		if row.PaymentID == nil {
			row.PaymentID = optional(e.TrackID)
		}
		row.ResultCode = optional(e.ResultCode)
		row.Source = optional(string(e.Source))
	}),
}

// project decodes the payload into T, fills the shared columns and lets fill
// set the ones specific to T.
func project[T any](fill func(*T, *types.OrderEventRow)) projection {
	return func(env types.Envelope) (types.OrderEventRow, error) {
		data := new(T)
		if err := json.Unmarshal(env.Payload, data); err != nil {
			return types.OrderEventRow{}, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
		payloadJSON, err := analyticswriter.EncodeJSON(data)
		if err != nil {
			return types.OrderEventRow{}, fmt.Errorf("encode %s payload: %w", env.EventType, err)
		}
		row := types.OrderEventRow{
			EventID:    env.EventID,
			EventType:  string(env.EventType),
			OccurredAt: env.OccurredAt.UTC(),
			Actor:      optional(env.Actor),
			Payload:    payloadJSON,
		}
		fill(data, &row)
		return row, nil
	}
}

// overrideActor prefers the actor named in the event data over the envelope's.
func overrideActor(row *types.OrderEventRow, actor string) {
	if a := optional(actor); a != nil {
		row.Actor = a
	}
}

// optional trims s and returns nil for an empty result so the column is NULL.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// minorUnits converts a euro amount to cents, rounding half away from zero.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}
