package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/events"
)

// Reader is the part of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the product topic as a member of a consumer group.
//
// Offsets are committed only after the handler succeeds. A handler error
// ends Start without committing, so the restarted reader fetches the same
// message again.
type Consumer struct {
	newReader func() Reader
	topic     string
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return NewConsumerWithReader(func() Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			MinBytes:    1,
			MaxBytes:    1e6,
			StartOffset: kafka.FirstOffset,
		})
	}, topic)
}

func NewConsumerWithReader(newReader func() Reader, topic string) *Consumer {
	return &Consumer{newReader: newReader, topic: topic}
}

func (c *Consumer) Start(ctx context.Context, h events.Handler) error {
	r := c.newReader()
	defer func() {
		if err := r.Close(); err != nil {
			zap.L().Warn("failed to close kafka reader", zap.Error(err))
		}
	}()

	zap.L().Info("kafka consumer started", zap.String("topic", c.topic))
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.BrokerFault("kafka fetch", err)
		}

		log := zap.L().With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
		e, poison, err := events.Decode(m.Value)
		if poison {
			log.Error("dropping malformed product event", zap.Error(err))
		} else if err := h(ctx, e); err != nil {
			log.Warn("product event handler failed, offset not committed",
				zap.String("event_id", e.Meta().ID), zap.Error(err))
			return apperrors.BrokerFault("handle event", fmt.Errorf("offset %d: %w", m.Offset, err))
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.BrokerFault("kafka commit", err)
		}
	}
}
