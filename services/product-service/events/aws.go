package events

import (
	"context"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	awspkg "github.com/kevin-soria/system-design-playground/pkg/aws"
	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

// EventTypeAttribute is the SNS message attribute carrying the routing key,
// so subscriptions can filter the way a topic binding would.
const EventTypeAttribute = "event_type"

// SNSPublisher publishes product events to an SNS topic.
type SNSPublisher struct {
	client   awspkg.SNSPublisher
	topicArn string
}

func NewSNSPublisher(client awspkg.SNSPublisher, topicArn string) *SNSPublisher {
	return &SNSPublisher{client: client, topicArn: topicArn}
}

func (p *SNSPublisher) Publish(ctx context.Context, e models.Event) error {
	body, err := models.EncodeEvent(e)
	if err != nil {
		return apperrors.BrokerFault("encode event", err)
	}
	attrs := map[string]string{EventTypeAttribute: models.EventType(e.Kind())}
	if err := p.client.Publish(ctx, p.topicArn, body, attrs); err != nil {
		return apperrors.BrokerFault("sns publish", err)
	}
	return nil
}

func (p *SNSPublisher) Close() error { return nil }

// SQSConsumer drains an SQS queue subscribed to the product topic.
type SQSConsumer struct {
	queue *awspkg.SQSConsumer
}

func NewSQSConsumer(queue *awspkg.SQSConsumer) *SQSConsumer {
	return &SQSConsumer{queue: queue}
}

type snsNotification struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// unwrapSNS returns the published payload when body is an SNS notification
// delivered without raw message delivery.
func unwrapSNS(body string) []byte {
	var n snsNotification
	if err := json.Unmarshal([]byte(body), &n); err == nil && n.Type == "Notification" && n.Message != "" {
		return []byte(n.Message)
	}
	return []byte(body)
}

func (c *SQSConsumer) Start(ctx context.Context, h Handler) error {
	return c.queue.StartPolling(ctx, func(ctx context.Context, body string) error {
		e, poison, err := Decode(unwrapSNS(body))
		if poison {
			zap.L().Error("dropping malformed product event", zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		return h(ctx, e)
	})
}
