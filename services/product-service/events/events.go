package events

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	awspkg "github.com/kevin-soria/system-design-playground/pkg/aws"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
)

// Publisher turns a committed product change into a broker message.
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
	Close() error
}

// Handler processes one delivered event. A non-nil error leaves the delivery
// unacknowledged so the broker redelivers it.
type Handler func(ctx context.Context, e models.Event) error

// Consumer drains the product event stream until ctx ends or the broker
// connection faults.
type Consumer interface {
	Start(ctx context.Context, h Handler) error
}

// Decode parses a delivery body. The bool result reports a poison message,
// one that should be dropped rather than retried.
func Decode(body []byte) (models.Event, bool, error) {
	e, err := models.DecodeEvent(body)
	if err != nil {
		return nil, errors.Is(err, models.ErrMalformedEvent), err
	}
	return e, false, nil
}

func LogHandler(ctx context.Context, e models.Event) error {
	zap.L().Info("product event received",
		zap.String("event_id", e.Meta().ID),
		zap.String("event_type", models.EventType(e.Kind())),
		zap.String("product_id", e.ProductID()))
	return nil
}

// Instrument counts every event next handled successfully.
func Instrument(m *awspkg.MetricsClient, next Handler) Handler {
	if !m.IsEnabled() {
		return next
	}
	return func(ctx context.Context, e models.Event) error {
		if err := next(ctx, e); err != nil {
			return err
		}
		dims := map[string]string{"EventType": models.EventType(e.Kind())}
		if err := m.RecordCount(ctx, awspkg.MetricEventsConsumed, dims); err != nil {
			zap.L().Debug("metric not recorded", zap.String("metric", awspkg.MetricEventsConsumed), zap.Error(err))
		}
		return nil
	}
}

const dedupPrefix = "product_event:"

// Deduplicate skips events whose id was already handled within ttl. The
// marker is written only after next succeeds, so a failed or interrupted
// handler always sees the redelivery. Concurrent duplicates may both run.
// If Redis is unreachable the event is handled anyway.
func Deduplicate(rdb redis.Cmdable, ttl time.Duration, next Handler) Handler {
	return func(ctx context.Context, e models.Event) error {
		key := dedupPrefix + e.Meta().ID
		seen, err := rdb.Exists(ctx, key).Result()
		if err != nil {
			zap.L().Warn("event dedup unavailable", zap.String("event_id", e.Meta().ID), zap.Error(err))
		} else if seen > 0 {
			zap.L().Debug("duplicate event skipped", zap.String("event_id", e.Meta().ID))
			return nil
		}

		if err := next(ctx, e); err != nil {
			return err
		}

		if err := rdb.Set(context.WithoutCancel(ctx), key, models.EventType(e.Kind()), ttl).Err(); err != nil {
			zap.L().Warn("failed to record handled event", zap.String("event_id", e.Meta().ID), zap.Error(err))
		}
		return nil
	}
}
