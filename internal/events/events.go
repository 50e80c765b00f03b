// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/xenking/orderflow/internal/domain/order"
)

// Config selects the brokers and topic for order events.
type Config struct {
	Brokers []string `usage:"Kafka brokers for order events; empty disables publishing"`
	Topic   string   `default:"orders.events" usage:"Kafka topic for order events"`
}

// Producer writes Kafka messages.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publishes order events keyed by order id, so all events of
// one order land on the same partition in order.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

var _ order.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher over producer.
func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// NewWriter creates a Kafka writer for brokers.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Publish writes e to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, e order.Event) error {
	headers := []kafka.Header{{Key: "event_type", Value: []byte(e.Type)}}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(e.OrderID),
		Value:   Encode(e),
		Headers: headers,
		Time:    e.OccurredAt,
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s event", e.Type)
	}
	return nil
}

// Encode renders e as JSON. The total amount is written as an exact number.
func Encode(e order.Event) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("type")
	w.Str(string(e.Type))
	w.FieldStart("orderId")
	w.Str(e.OrderID)
	w.FieldStart("customerId")
	w.Str(e.CustomerID)
	w.FieldStart("status")
	w.Str(e.Status.String())
	w.FieldStart("totalAmount")
	w.Num(jx.Num(e.TotalAmount.String()))
	w.FieldStart("occurredAt")
	w.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return w.Bytes()
}

// Nop discards events.
type Nop struct{}

// Publish implements order.Publisher.
func (Nop) Publish(context.Context, order.Event) error { return nil }
