package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/events"
)

// BindAll matches every routing key on a topic exchange.
const BindAll = "#"

// Consumer drains a durable queue bound to every product event.
type Consumer struct {
	session  *Session
	exchange string
	queue    string
	prefetch int
	tag      string
}

func NewConsumer(session *Session, exchange, queue string, prefetch int) *Consumer {
	return &Consumer{session: session, exchange: exchange, queue: queue, prefetch: prefetch, tag: queue + "-consumer"}
}

// Start sets up the topology on a dedicated channel and dispatches
// deliveries to h until ctx ends (nil) or the channel closes (error).
func (c *Consumer) Start(ctx context.Context, h events.Handler) error {
	ch, err := c.session.OpenChannel()
	if err != nil {
		return apperrors.BrokerFault("open consumer channel", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, c.exchange); err != nil {
		return apperrors.BrokerFault("declare exchange", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return apperrors.BrokerFault("declare queue", err)
	}
	if err := ch.QueueBind(c.queue, BindAll, c.exchange, false, nil); err != nil {
		return apperrors.BrokerFault("bind queue", err)
	}
	if c.prefetch > 0 {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			return apperrors.BrokerFault("set qos", err)
		}
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return apperrors.BrokerFault("consume", err)
	}

	zap.L().Info("product event consumer started",
		zap.String("exchange", c.exchange),
		zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			return apperrors.BrokerFault("consume", fmt.Errorf("channel closed: %v", amqpErr))
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return apperrors.BrokerFault("consume", errors.New("delivery stream ended"))
			}
			c.handle(ctx, d, h)
		}
	}
}

// handle acks only after h succeeds. Undecodable bodies are acked and
// dropped; handler failures are requeued.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, h events.Handler) {
	log := zap.L().With(zap.String("routing_key", d.RoutingKey), zap.Uint64("delivery_tag", d.DeliveryTag))

	e, poison, err := events.Decode(d.Body)
	if poison {
		log.Error("dropping malformed product event", zap.Error(err))
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	if err := h(ctx, e); err != nil {
		log.Warn("product event handler failed, requeueing",
			zap.String("event_id", e.Meta().ID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err))
		if err := d.Nack(false, true); err != nil {
			log.Warn("nack failed", zap.Error(err))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}
