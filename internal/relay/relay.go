// Package relay moves committed outbox rows to the message broker. Each row
// is published at least once; consumers dedupe on the envelope event id.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/metrics"
	"github.com/heatflow/oilshop-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxAttempts    int
	PublishTimeout time.Duration
}

// ConfigFrom maps the environment settings, filling defaults for zero values.
func ConfigFrom(cfg config.OutboxConfig) Config {
	return Config{
		BatchSize:    cfg.BatchSize,
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		MaxAttempts:  cfg.MaxAttempts,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	return c
}

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.Resolved, error)
}

type Params struct {
	Config   Config
	Logger   *logger.Logger
	DB       txRunner
	Events   eventStore
	DLQ      deadLetters
	Registry resolver
	Sink     Sink
	Metrics  *metrics.OutboxMetrics
}

type Relay struct {
	cfg      Config
	logg     *logger.Logger
	db       txRunner
	events   eventStore
	dlq      deadLetters
	registry resolver
	sink     Sink
	metrics  *metrics.OutboxMetrics
	now      func() time.Time
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.Sink == nil:
		return nil, errors.New("event sink is required")
	}
	return &Relay{
		cfg:      p.Config.withDefaults(),
		logg:     p.Logger,
		db:       p.DB,
		events:   p.Events,
		dlq:      p.DLQ,
		registry: p.Registry,
		sink:     p.Sink,
		metrics:  p.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// BatchStats summarises one pass over the outbox.
type BatchStats struct {
	Fetched      int
	Published    int
	Retried      int
	DeadLettered int
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; failures back off exponentially up to maxIdleBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := r.sink.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", r.sink.Name(), err)
	}

	wait := r.cfg.PollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := r.RunBatch(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case stats.Fetched >= r.cfg.BatchSize:
			wait = r.cfg.PollInterval
			continue
		default:
			wait = r.cfg.PollInterval
		}
		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

// RunBatch locks up to BatchSize rows, publishes them in order and records
// each outcome in the same transaction.
func (r *Relay) RunBatch(ctx context.Context) (BatchStats, error) {
	var stats BatchStats
	start := time.Now()
	defer func() { r.metrics.ObserveBatch(time.Since(start)) }()

	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		stats = BatchStats{}
		rows, err := r.events.FetchUnpublishedForPublish(tx, r.cfg.BatchSize, r.cfg.MaxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		stats.Fetched = len(rows)
		for _, row := range rows {
			outcome, err := r.relayOne(ctx, tx, row)
			if err != nil {
				return err
			}
			switch outcome {
			case metrics.OutboxPublished:
				stats.Published++
			case metrics.OutboxRetried:
				stats.Retried++
			case metrics.OutboxDeadLettered:
				stats.DeadLettered++
			}
			r.metrics.Inc(string(row.EventType), outcome)
		}
		return nil
	})
	if err == nil && stats.Fetched > 0 {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"fetched":       stats.Fetched,
			"published":     stats.Published,
			"retried":       stats.Retried,
			"dead_lettered": stats.DeadLettered,
		}), "outbox batch relayed")
	}
	return stats, err
}

func (r *Relay) relayOne(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (string, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event_id":      row.ID.String(),
		"event_type":    string(row.EventType),
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
		"sink":          r.sink.Name(),
	})

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return metrics.OutboxDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonUndecodable, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	err = r.sink.Send(sendCtx, resolved.Topic, Message{
		Key:        row.AggregateID.String(),
		Data:       row.Payload,
		Attributes: attributes(row),
	})
	cancel()

	switch {
	case err == nil:
		if err := r.events.MarkPublishedTx(tx, row.ID); err != nil {
			return "", fmt.Errorf("mark %s published: %w", row.ID, err)
		}
		r.logg.Debug(ctx, "outbox event published")
		return metrics.OutboxPublished, nil
	case registry.IsPermanent(err):
		return metrics.OutboxDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonRejected, err)
	case row.AttemptCount+1 >= r.cfg.MaxAttempts:
		row.AttemptCount++
		return metrics.OutboxDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, err)
	default:
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox publish failed, will retry")
		if err := r.events.MarkFailedTx(tx, row.ID, err); err != nil {
			return "", fmt.Errorf("mark %s failed: %w", row.ID, err)
		}
		return metrics.OutboxRetried, nil
	}
}

// deadLetter copies row into the DLQ and pins its attempt count so it is
// never fetched again.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error":        msg,
		"error_reason": string(reason),
	}), "outbox event dead-lettered")

	if err := r.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.now(),
	}); err != nil {
		return fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	if err := r.events.MarkTerminalTx(tx, row.ID, cause, r.cfg.MaxAttempts); err != nil {
		return fmt.Errorf("mark %s terminal: %w", row.ID, err)
	}
	return nil
}

func attributes(row models.OutboxEvent) map[string]string {
	return map[string]string{
		"event_id":       row.ID.String(),
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
