package middlewares

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sbilibin2017/gw-payflow/internal/bus"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
)

// ErrHandlerPanic marks a message whose handler panicked. It is not retried.
var ErrHandlerPanic = fmt.Errorf("%w: handler panicked", models.ErrInvalidEvent)

// EventLogging logs the outcome of every delivery to the named consumer.
func EventLogging(consumer string, next bus.HandlerFunc) bus.HandlerFunc {
	return func(ctx context.Context, msg bus.Message) error {
		start := time.Now()
		err := next(ctx, msg)

		fields := []interface{}{
			"consumer", consumer,
			"topic", msg.Topic,
			"key", msg.Key,
			"duration", time.Since(start),
		}
		switch {
		case err == nil:
			logger.Log.Debugw("event handled", fields...)
		case models.IsRetryable(err):
			logger.Log.Warnw("event handling failed", append(fields, "error", err)...)
		default:
			logger.Log.Errorw("event rejected", append(fields, "kind", models.KindOf(err), "error", err)...)
		}
		return err
	}
}

// EventRecoverer converts a handler panic into ErrHandlerPanic.
func EventRecoverer(next bus.HandlerFunc) bus.HandlerFunc {
	return func(ctx context.Context, msg bus.Message) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Log.Errorw("event handler panic",
					"topic", msg.Topic,
					"key", msg.Key,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
			}
		}()
		return next(ctx, msg)
	}
}
