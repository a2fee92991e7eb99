package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sbilibin2017/gw-payflow/internal/models"
)

// Message is one record on a topic. Records with the same key are delivered in order.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// HandlerFunc processes a delivered message. Returning an error asks for redelivery
// unless the error is classified as non-retryable.
type HandlerFunc func(ctx context.Context, msg Message) error

// Publisher publishes events to topics.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// Encode serializes event into a message.
func Encode(topic, key string, event any) (Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return Message{Topic: topic, Key: key, Value: value}, nil
}

// Typed adapts a handler of a concrete event type to a HandlerFunc.
// Undecodable or invalid payloads are reported as models.ErrInvalidEvent.
func Typed[E any, P interface {
	*E
	models.Event
}](fn func(ctx context.Context, evt E) error) HandlerFunc {
	return func(ctx context.Context, msg Message) error {
		var evt E
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrInvalidEvent, msg.Topic, err)
		}
		if err := P(&evt).Validate(); err != nil {
			return err
		}
		return fn(ctx, evt)
	}
}
