// Package registry knows which outbox event types exist, which aggregate
// each belongs to and how its data decodes.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
	"github.com/heatflow/oilshop-backend/pkg/outbox/payloads"
)

type descriptor struct {
	aggregate enums.OutboxAggregateType
	newData   func() any
}

var descriptors = map[enums.OutboxEventType]descriptor{
	enums.EventOrderCreated: {
		aggregate: enums.AggregateOrder,
		newData:   func() any { return &payloads.OrderCreatedEvent{} },
	},
	enums.EventOrderStatusChanged: {
		aggregate: enums.AggregateOrder,
		newData:   func() any { return &payloads.OrderStatusChangedEvent{} },
	},
	enums.EventOrderVisibilityChanged: {
		aggregate: enums.AggregateOrder,
		newData:   func() any { return &payloads.OrderVisibilityChangedEvent{} },
	},
	enums.EventInvoiceGenerated: {
		aggregate: enums.AggregateOrder,
		newData:   func() any { return &payloads.InvoiceGeneratedEvent{} },
	},
	enums.EventPaymentOrphaned: {
		aggregate: enums.AggregatePayment,
		newData:   func() any { return &payloads.PaymentOrphanedEvent{} },
	},
}

// Resolved is an outbox row whose envelope and data decoded cleanly.
type Resolved struct {
	Topic    string
	Envelope outbox.PayloadEnvelope
	Data     any
}

// Registry resolves rows and routes all of them to one topic, a Pub/Sub
// topic id or a Kafka topic depending on the sink.
type Registry struct {
	topic string
}

func New(topic string) (*Registry, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("orders topic is required")
	}
	return &Registry{topic: topic}, nil
}

func (r *Registry) Topic() string { return r.topic }

// Resolve checks the row against the known event types and decodes its data.
// Every error it returns is permanent: retrying the same row cannot help.
func (r *Registry) Resolve(event models.OutboxEvent) (*Resolved, error) {
	desc, ok := descriptors[event.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("unsupported event type %q", event.EventType))
	}
	if desc.aggregate != event.AggregateType {
		return nil, Permanent(fmt.Errorf("%s belongs to %s aggregates, row says %s", event.EventType, desc.aggregate, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, Permanent(fmt.Errorf("%s row has no aggregate id", event.EventType))
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	data := desc.newData()
	if err := json.Unmarshal(env.Data, data); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s data: %w", event.EventType, err))
	}
	return &Resolved{Topic: r.topic, Envelope: env, Data: data}, nil
}

// Known reports whether t has a descriptor.
func Known(t enums.OutboxEventType) bool {
	_, ok := descriptors[t]
	return ok
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or anything it wraps was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
