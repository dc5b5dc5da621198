package events

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Policy controls how Supervise restarts a background task.
type Policy struct {
	// Restart false runs the task once and leaves it down if it exits.
	Restart        bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultPolicy(maxBackoff time.Duration) Policy {
	return Policy{Restart: true, InitialBackoff: 500 * time.Millisecond, MaxBackoff: maxBackoff}
}

// Supervise runs task until ctx is done, restarting it with exponential
// backoff whenever it returns. A run that stayed up longer than MaxBackoff
// resets the backoff. It returns nil once ctx ends, or the task's error when
// restarts are disabled.
func Supervise(ctx context.Context, name string, p Policy, task func(context.Context) error) error {
	log := zap.L().With(zap.String("task", name))

	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.Reset()

	for {
		started := time.Now()
		err := task(ctx)
		if ctx.Err() != nil {
			log.Info("background task stopped")
			return nil
		}
		if !p.Restart {
			log.Error("background task exited and will not be restarted", zap.Error(err))
			return err
		}
		if time.Since(started) > b.MaxInterval {
			b.Reset()
		}

		wait := b.NextBackOff()
		log.Warn("background task exited, restarting", zap.Error(err), zap.Duration("backoff", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("background task stopped")
			return nil
		case <-timer.C:
		}
	}
}
