package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/sbilibin2017/gw-payflow/internal/logger"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus is closed")

// MemoryBus is an in-process event bus. Messages are hashed by key onto partitions,
// each drained by its own goroutine, so messages sharing a key are delivered in order.
// Handlers failing with retryable errors are retried according to the policy.
type MemoryBus struct {
	partitions []*partition
	policy     RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu       sync.RWMutex
	subscribers map[string][]HandlerFunc

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
}

type partition struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Message
	closed bool
}

// NewMemoryBus starts a bus with the given number of partitions.
func NewMemoryBus(partitions int, policy RetryPolicy) *MemoryBus {
	if partitions < 1 {
		partitions = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBus{
		partitions:  make([]*partition, partitions),
		policy:      policy,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[string][]HandlerFunc),
	}
	b.idle = sync.NewCond(&b.mu)

	for i := range b.partitions {
		p := &partition{}
		p.cond = sync.NewCond(&p.mu)
		b.partitions[i] = p

		b.wg.Add(1)
		go b.drain(p)
	}
	return b
}

// Subscribe registers handler for topic.
func (b *MemoryBus) Subscribe(topic string, handler HandlerFunc) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish enqueues event for asynchronous delivery.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, event any) error {
	msg, err := Encode(topic, key, event)
	if err != nil {
		return err
	}
	return b.PublishMessage(ctx, msg)
}

// PublishMessage enqueues an already encoded message.
func (b *MemoryBus) PublishMessage(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.pending++
	b.mu.Unlock()

	p := b.partitions[laneFor(msg.Key, len(b.partitions))]
	p.mu.Lock()
	p.queue = append(p.queue, msg)
	p.mu.Unlock()
	p.cond.Signal()

	logger.Log.Debugw("event enqueued", "topic", msg.Topic, "key", msg.Key)
	return nil
}

// Wait blocks until every published message, including those published by handlers, is delivered.
func (b *MemoryBus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.mu.Lock()
		for b.pending > 0 && !b.closed {
			b.idle.Wait()
		}
		b.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages, cancels in-flight retries and waits for partitions to stop.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.idle.Broadcast()
	b.mu.Unlock()

	b.cancel()
	for _, p := range b.partitions {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	}
	b.wg.Wait()
	return nil
}

func (b *MemoryBus) drain(p *partition) {
	defer b.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		msg := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		b.dispatch(msg)

		b.mu.Lock()
		b.pending--
		if b.pending == 0 {
			b.idle.Broadcast()
		}
		b.mu.Unlock()
	}
}

func (b *MemoryBus) dispatch(msg Message) {
	b.subMu.RLock()
	handlers := b.subscribers[msg.Topic]
	b.subMu.RUnlock()

	for _, h := range handlers {
		if err := Deliver(b.ctx, h, msg, b.policy); err != nil {
			logger.Log.Errorw("Dropping message", "topic", msg.Topic, "key", msg.Key, "error", err)
		}
	}
}
