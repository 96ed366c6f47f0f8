// Package worker consumes order events from Pub/Sub and feeds them to the
// analytics router, at most once per event id.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/heatflow/oilshop-backend/internal/analytics/router"
	"github.com/heatflow/oilshop-backend/internal/analytics/types"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/outbox"
)

const consumerName = "analytics"

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type dedup interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	dedup        dedup
	logg         *logger.Logger
}

func NewService(subscription *gcppubsub.Subscriber, handler Handler, dedup dedup, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case dedup == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, dedup: dedup, logg: logg}, nil
}

// Run receives until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		if s.consume(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// consume reports whether msg should be acked. Messages that can never be
// handled are acked and logged; only infrastructure failures are redelivered.
func (s *Service) consume(ctx context.Context, msg *gcppubsub.Message) bool {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	env, eventID, err := decodeMessage(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping malformed order event")
		return true
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":     env.EventID,
		"event_type":   string(env.EventType),
		"aggregate_id": env.AggregateID,
	})

	seen, err := s.dedup.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		s.logg.Error(ctx, "dedup check failed", err)
		return false
	}
	if seen {
		s.logg.Debug(ctx, "duplicate order event skipped")
		return true
	}

	err = s.handler.Handle(ctx, env)
	switch {
	case err == nil:
		s.logg.Info(ctx, "order event exported")
		return true
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(ctx, "no analytics handler for event type")
		return true
	default:
		s.logg.Error(ctx, "export order event", err)
		if err := s.dedup.Delete(ctx, consumerName, eventID); err != nil {
			s.logg.Error(ctx, "release dedup key", err)
		}
		return false
	}
}

// decodeMessage combines the stored envelope in the body with the routing
// attributes the relay sets on every message.
func decodeMessage(msg *gcppubsub.Message) (types.Envelope, uuid.UUID, error) {
	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return types.Envelope{}, uuid.Nil, err
	}
	eventID := uuid.MustParse(stored.EventID)
	if attr := attribute(msg, "event_id"); attr != "" && attr != stored.EventID {
		return types.Envelope{}, uuid.Nil, fmt.Errorf("event_id attribute %s does not match envelope %s", attr, stored.EventID)
	}

	eventType, err := enums.ParseOutboxEventType(attribute(msg, "event_type"))
	if err != nil {
		return types.Envelope{}, uuid.Nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attribute(msg, "aggregate_type"))
	if err != nil {
		return types.Envelope{}, uuid.Nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attribute(msg, "aggregate_id")
	if aggregateID == "" {
		return types.Envelope{}, uuid.Nil, errors.New("aggregate_id attribute missing")
	}

	occurred := stored.OccurredAt
	if occurred.IsZero() {
		occurred = msg.PublishTime
	}
	env := types.Envelope{
		EventID:       stored.EventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurred.UTC(),
		Payload:       stored.Data,
	}
	if stored.Actor != nil {
		env.Actor = strings.TrimSpace(stored.Actor.Subject)
	}
	return env, eventID, nil
}

func attribute(msg *gcppubsub.Message, key string) string {
	return strings.TrimSpace(msg.Attributes[key])
}
