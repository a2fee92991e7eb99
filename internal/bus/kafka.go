package bus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

//go:generate mockgen -source=kafka.go -destination=kafka_mock.go -package=bus

// KafkaWriter defines the interface for publishing messages to Kafka.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReader defines the interface for consuming messages from one Kafka topic.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a writer that routes each message by key hash so that
// events of one transaction stay on one partition.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// NewKafkaReader creates a consumer-group reader for topic.
func NewKafkaReader(brokers []string, groupID, topic string) KafkaReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// KafkaPublisher publishes JSON events to Kafka.
type KafkaPublisher struct {
	writer KafkaWriter
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish writes event to topic keyed by key.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	msg, err := Encode(topic, key, event)
	if err != nil {
		logger.Log.Errorw("Failed to marshal event for Kafka", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
	}); err != nil {
		logger.Log.Errorw("Failed to publish event to Kafka", "topic", topic, "key", key, "error", err)
		return err
	}

	logger.Log.Infow("Event published to Kafka", "topic", topic, "key", key)
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads every topic with its own reader. Fetched messages are hashed
// by key onto in-order lanes, so a key whose handler keeps failing only holds back
// its own lane. Offsets are committed per partition once every earlier fetched
// offset of that partition has been handled.
type KafkaConsumer struct {
	readers  map[string]KafkaReader
	handlers map[string]HandlerFunc
	policy   RetryPolicy
	lanes    int
}

const laneBuffer = 64

// NewKafkaConsumer creates a consumer for the given topic handlers.
// newReader is called once per topic.
func NewKafkaConsumer(
	handlers map[string]HandlerFunc,
	newReader func(topic string) KafkaReader,
	policy RetryPolicy,
	lanes int,
) *KafkaConsumer {
	if lanes < 1 {
		lanes = 1
	}
	readers := make(map[string]KafkaReader, len(handlers))
	for topic := range handlers {
		readers[topic] = newReader(topic)
	}
	return &KafkaConsumer{readers: readers, handlers: handlers, policy: policy, lanes: lanes}
}

// Run consumes until ctx is cancelled or a reader fails.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for topic, reader := range c.readers {
		g.Go(func() error {
			return c.consume(ctx, topic, reader, c.handlers[topic])
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes every reader.
func (c *KafkaConsumer) Close() error {
	var errs []error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// offsetEvent is either a fetched message or a handled one.
type offsetEvent struct {
	msg  kafka.Message
	done bool
}

func (c *KafkaConsumer) consume(ctx context.Context, topic string, reader KafkaReader, handler HandlerFunc) error {
	logger.Log.Infow("Kafka consumer started", "topic", topic, "lanes", c.lanes)

	g, ctx := errgroup.WithContext(ctx)
	events := make(chan offsetEvent, c.lanes*laneBuffer)

	lanes := make([]chan kafka.Message, c.lanes)
	for i := range lanes {
		lane := make(chan kafka.Message, laneBuffer)
		lanes[i] = lane
		g.Go(func() error {
			return c.runLane(ctx, topic, lane, handler, events)
		})
	}

	g.Go(func() error {
		return c.commitLoop(ctx, topic, reader, events)
	})

	g.Go(func() error {
		for {
			km, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.Errorw("Failed to fetch message", "topic", topic, "error", err)
				return fmt.Errorf("fetch %s: %w", topic, err)
			}

			// Registered before dispatch so the commit loop sees it ahead of its completion.
			if err := send(ctx, events, offsetEvent{msg: km}); err != nil {
				return err
			}
			if err := send(ctx, lanes[laneFor(string(km.Key), len(lanes))], km); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}

func (c *KafkaConsumer) runLane(ctx context.Context, topic string, lane <-chan kafka.Message, handler HandlerFunc, events chan<- offsetEvent) error {
	for {
		var km kafka.Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case km = <-lane:
		}

		msg := Message{Topic: km.Topic, Key: string(km.Key), Value: km.Value}
		if err := Deliver(ctx, handler, msg, c.policy); err != nil {
			if ctx.Err() != nil {
				// Not committed, redelivered after restart.
				return ctx.Err()
			}
			logger.Log.Errorw("Dropping message",
				"topic", topic,
				"key", msg.Key,
				"partition", km.Partition,
				"offset", km.Offset,
				"kind", models.KindOf(err),
				"error", err,
			)
		}

		if err := send(ctx, events, offsetEvent{msg: km, done: true}); err != nil {
			return err
		}
	}
}

func (c *KafkaConsumer) commitLoop(ctx context.Context, topic string, reader KafkaReader, events <-chan offsetEvent) error {
	offsets := newOffsetTracker()
	for {
		var evt offsetEvent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt = <-events:
		}

		if !evt.done {
			offsets.fetched(evt.msg)
			continue
		}
		km, ok := offsets.handled(evt.msg)
		if !ok {
			continue
		}
		if err := reader.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.Errorw("Failed to commit message", "topic", topic, "partition", km.Partition, "offset", km.Offset, "error", err)
			return fmt.Errorf("commit %s: %w", topic, err)
		}
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func laneFor(key string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(lanes))
}

// offsetTracker finds, per partition, the highest offset below which every
// fetched message has been handled.
type offsetTracker struct {
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []int64 // fetched and not yet committed, ascending
	handled map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) partition(n int) *partitionOffsets {
	p, ok := t.partitions[n]
	if !ok {
		p = &partitionOffsets{handled: make(map[int64]kafka.Message)}
		t.partitions[n] = p
	}
	return p
}

func (t *offsetTracker) fetched(km kafka.Message) {
	p := t.partition(km.Partition)
	p.pending = append(p.pending, km.Offset)
}

// handled marks km as done and returns the message to commit, if the committable
// prefix of its partition advanced.
func (t *offsetTracker) handled(km kafka.Message) (kafka.Message, bool) {
	p := t.partition(km.Partition)
	p.handled[km.Offset] = km

	var (
		last kafka.Message
		ok   bool
	)
	for len(p.pending) > 0 {
		m, done := p.handled[p.pending[0]]
		if !done {
			break
		}
		delete(p.handled, p.pending[0])
		p.pending = p.pending[1:]
		last, ok = m, true
	}
	return last, ok
}
