// Package kafka relays outbox events to a Kafka cluster when the deployment
// uses Kafka instead of Pub/Sub.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

// Message is one record destined for a topic.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Writer struct {
	writer  messageWriter
	brokers []string
	dial    func(ctx context.Context, network, address string) (*kafka.Conn, error)
}

var errNoBrokers = errors.New("kafka brokers are required")

// NewWriter builds a topic-less writer; every message carries its topic.
func NewWriter(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Writer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}

	w := &Writer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		brokers: brokers,
		dial:    kafka.DialContext,
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "brokers", brokers), "kafka writer initialized")
	}
	return w, nil
}

// Publish writes msgs to topic. Records sharing a key land on the same
// partition so per-order ordering holds.
func (w *Writer) Publish(ctx context.Context, topic string, msgs ...Message) error {
	if w == nil || w.writer == nil {
		return errors.New("kafka writer not initialized")
	}
	if strings.TrimSpace(topic) == "" {
		return errors.New("kafka topic is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	records := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, kafka.Message{
			Topic:   topic,
			Key:     []byte(m.Key),
			Value:   m.Value,
			Headers: toHeaders(m.Headers),
			Time:    now,
		})
	}
	if err := w.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (w *Writer) Ping(ctx context.Context) error {
	if w == nil {
		return errors.New("kafka writer not initialized")
	}
	var lastErr error
	for _, broker := range w.brokers {
		conn, err := w.dial(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = errNoBrokers
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

// Close flushes pending writes.
func (w *Writer) Close() error {
	if w == nil || w.writer == nil {
		return nil
	}
	return w.writer.Close()
}

func toHeaders(attrs map[string]string) []kafka.Header {
	if len(attrs) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(attrs))
	for k, v := range attrs {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
