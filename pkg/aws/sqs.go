package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSAPI is the subset of the SQS client used by the consumer.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSConsumer long-polls one queue.
type SQSConsumer struct {
	client   SQSAPI
	queueURL string
	waitSecs int32
}

// NewSQSConsumer creates a new SQS consumer for the given queue URL
func NewSQSConsumer(cfg aws.Config, queueURL string) *SQSConsumer {
	return NewSQSConsumerWithAPI(sqs.NewFromConfig(cfg), queueURL)
}

func NewSQSConsumerWithAPI(api SQSAPI, queueURL string) *SQSConsumer {
	return &SQSConsumer{client: api, queueURL: queueURL, waitSecs: 20}
}

// MessageHandler processes one SQS message body. A nil return deletes the
// message; an error makes it visible again immediately.
type MessageHandler func(ctx context.Context, body string) error

// StartPolling polls until ctx is cancelled. Receive failures are returned
// so a supervisor can back off and restart.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	zap.L().Info("starting SQS polling", zap.String("queue_url", c.queueURL))
	for {
		if err := ctx.Err(); err != nil {
			zap.L().Info("SQS polling stopped")
			return err
		}
		if err := c.PollOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// PollOnce receives up to ten messages and dispatches them in order.
func (c *SQSConsumer) PollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.waitSecs,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		if err := handler(ctx, *msg.Body); err != nil {
			zap.L().Warn("sqs message handler failed, releasing for redelivery",
				zap.String("message_id", aws.ToString(msg.MessageId)), zap.Error(err))
			if _, verr := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(c.queueURL),
				ReceiptHandle:     msg.ReceiptHandle,
				VisibilityTimeout: 0,
			}); verr != nil {
				zap.L().Warn("failed to reset message visibility", zap.Error(verr))
			}
			continue
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			zap.L().Warn("failed to delete message", zap.Error(err))
		}
	}
	return nil
}
