package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

const DefaultConfirmTimeout = 5 * time.Second

// Publisher sends product events to a durable topic exchange.
type Publisher struct {
	session        *Session
	exchange       string
	confirmTimeout time.Duration
}

func NewPublisher(session *Session, exchange string) *Publisher {
	return &Publisher{session: session, exchange: exchange, confirmTimeout: DefaultConfirmTimeout}
}

func declareExchange(ch Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Publish declares the exchange and publishes e as a persistent message
// routed by its event type. When the channel is in confirm mode it waits for
// the broker's ack. Any failure discards the channel and is returned as a
// broker fault.
func (p *Publisher) Publish(ctx context.Context, e models.Event) error {
	body, err := models.EncodeEvent(e)
	if err != nil {
		return apperrors.BrokerFault("encode event", err)
	}

	ch, err := p.session.Channel()
	if err != nil {
		return apperrors.BrokerFault("open channel", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		p.session.Discard(ch)
		return apperrors.BrokerFault("declare exchange", err)
	}

	meta := e.Meta()
	routingKey := models.EventType(e.Kind())
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    meta.ID,
		Timestamp:    meta.OccurredAt,
		Type:         routingKey,
		Body:         body,
	})
	if err != nil {
		p.session.Discard(ch)
		return apperrors.BrokerFault("publish", err)
	}

	if confirm != nil {
		waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
		defer cancel()
		acked, err := confirm.WaitContext(waitCtx)
		if err != nil {
			p.session.Discard(ch)
			return apperrors.BrokerFault("publish confirm", err)
		}
		if !acked {
			return apperrors.BrokerFault("publish confirm", fmt.Errorf("broker nacked %s", meta.ID))
		}
	}

	zap.L().Debug("product event published",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.String("event_id", meta.ID))
	return nil
}

func (p *Publisher) Close() error {
	return p.session.Close()
}
