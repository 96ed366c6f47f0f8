package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/db/dbtest"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

type statusData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func newTestService(t *testing.T) (*Service, *Repository, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard})
	return NewService(repo, logg), repo, conn
}

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	svc, repo, conn := newTestService(t)
	orderID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{Subject: "nexi", Kind: "webhook"},
			Data:          statusData{From: "pending", To: "confirmed"},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListForAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "nexi", envelope.Actor.Subject)

	var data statusData
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "confirmed", data.To)
}

func TestEmitRolledBackWithTransaction(t *testing.T) {
	svc, repo, conn := newTestService(t)
	orderID := uuid.New()
	boom := errors.New("order update failed")

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]string{"order_number": "H100001"},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := repo.ListForAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitRejectsUnknownEventAndMissingTx(t *testing.T) {
	svc, _, conn := newTestService(t)

	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderCreated})
	require.Error(t, err)

	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.OutboxEventType("order.exploded"),
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
		})
	})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	svc, repo, conn := newTestService(t)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			if err := svc.Emit(context.Background(), tx, DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   id,
				Data:          map[string]string{"id": id.String()},
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	var fetched int
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		if err != nil {
			return err
		}
		fetched = len(rows)
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, rows[1].ID, errors.New("bad payload"), 3)
	}))
	assert.Equal(t, 2, fetched)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		fetched = len(rows)
		return err
	}))
	assert.Zero(t, fetched)
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	svc, repo, conn := newTestService(t)
	orderID := uuid.New()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventInvoiceGenerated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]string{"invoice_number": "DE-2026-000001"},
		})
	}))
	rows, err := repo.ListForAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, rows[0].ID, errors.New("broker down"))
	}))

	rows, err = repo.ListForAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "broker down", *rows[0].LastError)
}

func TestDeletePublishedBeforeKeepsLiveRows(t *testing.T) {
	svc, repo, conn := newTestService(t)
	orderID := uuid.New()
	ctx := context.Background()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < 4; i++ {
			if err := svc.Emit(ctx, tx, DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   orderID,
				Data:          map[string]int{"n": i},
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	rows, err := repo.ListForAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", rows[0].ID).
		Updates(map[string]any{"published_at": old, "created_at": old}).Error)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", rows[1].ID).
		Updates(map[string]any{"published_at": recent}).Error)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", rows[2].ID).
		Updates(map[string]any{"attempt_count": 10, "created_at": old}).Error)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	var deleted int64
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(ctx, tx, cutoff, 10)
		return err
	}))
	assert.EqualValues(t, 2, deleted)

	left, err := repo.ListForAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Len(t, left, 2)
	ids := []uuid.UUID{left[0].ID, left[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{rows[1].ID, rows[3].ID}, ids)
}

func TestEmitUsesRowIDAsEventID(t *testing.T) {
	svc, repo, conn := newTestService(t)
	orderID := uuid.New()
	occurred := time.Date(2026, 3, 2, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderVisibilityChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]bool{"hidden": true},
			OccurredAt:    occurred,
		})
	}))
	rows, err := repo.ListForAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	env, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, rows[0].ID.String(), env.EventID)
	assert.True(t, env.OccurredAt.Equal(occurred))
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
}

func TestEmitRejectsIncompleteEvents(t *testing.T) {
	svc, _, conn := newTestService(t)
	base := DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]string{"order_number": "H100001"},
	}
	cases := map[string]func(e *DomainEvent){
		"aggregate type": func(e *DomainEvent) { e.AggregateType = "invoice" },
		"aggregate id":   func(e *DomainEvent) { e.AggregateID = uuid.Nil },
		"data":           func(e *DomainEvent) { e.Data = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := base
			mutate(&event)
			err := conn.Transaction(func(tx *gorm.DB) error {
				return svc.Emit(context.Background(), tx, event)
			})
			require.Error(t, err)
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	id := uuid.NewString()
	env, err := DecodeEnvelope([]byte(`{"version":1,"eventId":"` + id + `","occurredAt":"2026-01-02T03:04:05Z","data":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, id, env.EventID)
	assert.JSONEq(t, `{"a":1}`, string(env.Data))

	for name, raw := range map[string]string{
		"garbage":   `{`,
		"version 0": `{"version":0,"eventId":"` + id + `","data":{}}`,
		"version 2": `{"version":2,"eventId":"` + id + `","data":{}}`,
		"bad id":    `{"version":1,"eventId":"evt-1","data":{}}`,
		"no data":   `{"version":1,"eventId":"` + id + `"}`,
		"null data": `{"version":1,"eventId":"` + id + `","data":null}`,
	} {
		_, err := DecodeEnvelope([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestDLQInsertValidatesAndTruncates(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository()
	long := strings.Repeat("x", maxLastErrorLen+50)
	entry := models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonRejected,
		ErrorMessage:  &long,
		FailedAt:      time.Now().UTC(),
	}

	require.Error(t, dlq.InsertTx(nil, entry))
	bad := entry
	bad.ErrorReason = "gave_up"
	require.Error(t, conn.Transaction(func(tx *gorm.DB) error { return dlq.InsertTx(tx, bad) }))

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error { return dlq.InsertTx(tx, entry) }))
	var stored models.OutboxDLQ
	require.NoError(t, conn.Where("event_id = ?", entry.EventID).First(&stored).Error)
	require.NotNil(t, stored.ErrorMessage)
	assert.Len(t, *stored.ErrorMessage, maxLastErrorLen)
	assert.Equal(t, enums.OutboxDLQReasonRejected, stored.ErrorReason)
}
