// Package pool is a fixed set of workers consuming a bounded queue.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	ErrQueueFull = errors.New("queue is full")
	ErrClosed    = errors.New("pool is closed")
)

type Handler[T any] func(ctx context.Context, item T)

type Stats struct {
	Queued  int
	Running int
	Workers int
}

type Pool[T any] struct {
	size    int
	handler Handler[T]
	tasks   chan T
	wg      sync.WaitGroup
	running atomic.Int64

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New[T any](size, queueSize int, handler Handler[T]) *Pool[T] {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		size:    size,
		handler: handler,
		tasks:   make(chan T, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Pool[T]) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()
	for item := range p.tasks {
		p.running.Add(1)
		p.handler(p.ctx, item)
		p.running.Add(-1)
	}
}

// Submit blocks until the item is queued or ctx is done.
func (p *Pool[T]) Submit(ctx context.Context, item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues the item without waiting.
func (p *Pool[T]) TrySubmit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting items, lets the workers finish the queue and waits for them.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

// Abort cancels the context handed to running handlers and then closes the pool.
func (p *Pool[T]) Abort() {
	p.cancel()
	p.Close()
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Queued:  len(p.tasks),
		Running: int(p.running.Load()),
		Workers: p.size,
	}
}
