package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures BreakerPublisher.
type BreakerSettings struct {
	Name                string
	MaxRequests         uint32        // Requests allowed while half-open
	Interval            time.Duration // Counter reset period while closed
	Timeout             time.Duration // Open period before half-open
	ConsecutiveFailures uint32        // Failures that trip the breaker
}

// DefaultBreakerSettings returns settings for a broker publisher.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:                name,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             5 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerPublisher stops calling an unhealthy publisher until it recovers.
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerPublisher wraps next with a circuit breaker.
func NewBreakerPublisher(next Publisher, s BreakerSettings) *BreakerPublisher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !models.IsRetryable(err)
		},
	})
	return &BreakerPublisher{next: next, cb: cb}
}

// Publish forwards to the wrapped publisher unless the breaker is open.
func (p *BreakerPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, topic, key, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publisher %s unavailable: %w", p.cb.Name(), err)
	}
	return err
}

// State reports the breaker state.
func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}
