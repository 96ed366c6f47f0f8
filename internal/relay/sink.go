package relay

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/heatflow/oilshop-backend/pkg/kafka"
	"github.com/heatflow/oilshop-backend/pkg/outbox/registry"
)

// Message is one outbox row as handed to a sink. Data is the stored envelope,
// unchanged.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink delivers messages to a broker. Send wraps errors that will never
// succeed on retry with registry.Permanent.
type Sink interface {
	Name() string
	Ping(context.Context) error
	Send(ctx context.Context, topic string, msg Message) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// publishFunc publishes one message to topic and waits for the server id.
type publishFunc func(ctx context.Context, topic string, msg *gcppubsub.Message) (string, error)

type PubSubSink struct {
	client  pubSubClient
	publish publishFunc
}

func NewPubSubSink(client pubSubClient) *PubSubSink {
	s := &PubSubSink{client: client}
	s.publish = s.publishVia
	return s
}

func (s *PubSubSink) Name() string { return "pubsub" }

func (s *PubSubSink) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *PubSubSink) Send(ctx context.Context, topic string, msg Message) error {
	_, err := s.publish(ctx, topic, &gcppubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	return err
}

func (s *PubSubSink) publishVia(ctx context.Context, topic string, msg *gcppubsub.Message) (string, error) {
	pub := s.client.Publisher(topic)
	if pub == nil {
		return "", registry.Permanent(fmt.Errorf("no publisher for topic %s", topic))
	}
	res := pub.Publish(ctx, msg)
	if res == nil {
		return "", errors.New("publish returned no result")
	}
	return res.Get(ctx)
}

type kafkaWriter interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, msgs ...kafka.Message) error
}

type KafkaSink struct {
	writer kafkaWriter
}

func NewKafkaSink(writer kafkaWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Ping(ctx context.Context) error { return s.writer.Ping(ctx) }

// Send keys the record by aggregate id so one order's events stay on one
// partition, in order.
func (s *KafkaSink) Send(ctx context.Context, topic string, msg Message) error {
	return s.writer.Publish(ctx, topic, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Data,
		Headers: msg.Attributes,
	})
}
