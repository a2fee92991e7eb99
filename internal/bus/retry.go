package bus

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
)

// RetryPolicy controls redelivery of messages whose handler failed with a retryable error.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // Zero retries until the context is cancelled
}

// DefaultRetryPolicy returns the policy used by consumers unless configured otherwise.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  0,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Deliver invokes handler until it succeeds, fails permanently or the policy gives up.
// Validation and not-found errors are permanent.
func Deliver(ctx context.Context, handler HandlerFunc, msg Message, policy RetryPolicy) error {
	op := func() error {
		err := handler(ctx, msg)
		if err != nil && !models.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Log.Warnw("handler failed, retrying",
			"topic", msg.Topic,
			"key", msg.Key,
			"wait", wait,
			"error", err,
		)
	}

	return backoff.RetryNotify(op, policy.backOff(ctx), notify)
}
