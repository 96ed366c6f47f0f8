package types

import (
	"encoding/json"
	"time"

	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// Envelope is one outbox event as delivered on the orders topic.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Actor         string
	Payload       json.RawMessage
}
