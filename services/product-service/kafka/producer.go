package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// Writer is the part of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes product events to one topic. Messages are keyed by
// product id so every change to a product lands on the same partition.
type Producer struct {
	writer Writer
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(writer, topic)
}

func NewProducerWithWriter(w Writer, topic string) *Producer {
	return &Producer{writer: w, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, e models.Event) error {
	body, err := models.EncodeEvent(e)
	if err != nil {
		return apperrors.BrokerFault("encode event", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.ProductID()),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(models.EventType(e.Kind()))},
			{Key: HeaderEventID, Value: []byte(e.Meta().ID)},
		},
		Time: e.Meta().OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return apperrors.BrokerFault("kafka write", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
