package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrPoolFull   = errors.New("worker pool queue is full")
)

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	queue chan func()
	group *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewPool starts size workers reading from a queue of queueSize tasks.
func NewPool(size, queueSize int) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		queue: make(chan func(), queueSize),
		group: new(errgroup.Group),
	}
	for i := 0; i < size; i++ {
		p.group.Go(p.work)
	}
	return p
}

// Submit enqueues task without blocking. The task runs with a context that keeps
// the values of ctx but is not cancelled with it.
func (p *Pool) Submit(ctx context.Context, task func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	detached := context.WithoutCancel(ctx)
	select {
	case p.queue <- func() { task(detached) }:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting tasks and waits for queued tasks to finish or ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work() error {
	for task := range p.queue {
		p.run(task)
	}
	return nil
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorw("worker task panicked", "panic", r)
		}
	}()
	task()
}
