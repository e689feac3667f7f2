// Package batch coalesces items into batches by size or age and feeds
// them to a caller-supplied processing function. The input queue is
// bounded; overflow evicts the oldest waiting item and rejects its
// promise with a queue-capacity error.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/claude-flow/claude-flow/pkg/models"
)

// ErrClosed indicates a submit after the processor was closed.
var ErrClosed = errors.New("batch: processor closed")

// Config controls batching behaviour.
type Config struct {
	// MaxBatchSize triggers a batch as soon as this many items wait.
	MaxBatchSize int
	// MaxWait triggers a batch once the oldest item has waited this long.
	MaxWait time.Duration
	// MaxQueueSize caps waiting items; overflow evicts the oldest.
	MaxQueueSize int
}

// ProcessFunc handles one batch. results[i] must correspond to items[i].
type ProcessFunc[T, R any] func(items []T) ([]R, error)

// OverflowFunc is invoked with each item evicted from a full queue.
type OverflowFunc[T any] func(item T)

type outcome[R any] struct {
	result R
	err    error
}

type pendingItem[T, R any] struct {
	value    T
	enqueued time.Time
	done     chan outcome[R]
}

// Processor coalesces submitted items into batches. Batches are
// processed one at a time; result ordering within a batch corresponds
// position-wise to input ordering.
type Processor[T, R any] struct {
	cfg        Config
	process    ProcessFunc[T, R]
	onOverflow OverflowFunc[T]

	mu       sync.Mutex
	idleCond *sync.Cond
	pending  []*pendingItem[T, R]
	inFlight bool
	flushing bool
	closed   bool

	kick chan struct{}
	done chan struct{}
}

// New creates and starts a processor. onOverflow may be nil.
func New[T, R any](cfg Config, process ProcessFunc[T, R], onOverflow OverflowFunc[T]) (*Processor[T, R], error) {
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("batch: MaxBatchSize must be positive, got %d", cfg.MaxBatchSize)
	}
	if cfg.MaxQueueSize <= 0 {
		return nil, fmt.Errorf("batch: MaxQueueSize must be positive, got %d", cfg.MaxQueueSize)
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 100 * time.Millisecond
	}

	p := &Processor[T, R]{
		cfg:        cfg,
		process:    process,
		onOverflow: onOverflow,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	p.idleCond = sync.NewCond(&p.mu)

	go p.loop()
	return p, nil
}

// Submit enqueues an item and blocks until its batch is processed or
// ctx is cancelled. The returned result corresponds to this item's
// position in its batch.
func (p *Processor[T, R]) Submit(ctx context.Context, value T) (R, error) {
	var zero R

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrClosed
	}

	// Evict the oldest waiting item when the queue is full.
	var evicted *pendingItem[T, R]
	if len(p.pending) >= p.cfg.MaxQueueSize {
		evicted = p.pending[0]
		p.pending = p.pending[1:]
	}

	item := &pendingItem[T, R]{
		value:    value,
		enqueued: time.Now(),
		done:     make(chan outcome[R], 1),
	}
	p.pending = append(p.pending, item)
	p.mu.Unlock()

	if evicted != nil {
		evicted.done <- outcome[R]{err: models.NewSwarmError(models.CodeQueueCapacity, "item evicted from full batch queue")}
		if p.onOverflow != nil {
			p.onOverflow(evicted.value)
		}
	}

	p.wake()

	select {
	case out := <-item.done:
		return out.result, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Idle reports whether the queue is empty and no batch is in flight.
func (p *Processor[T, R]) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) == 0 && !p.inFlight
}

// FlushAll forces batches until the processor is idle.
func (p *Processor[T, R]) FlushAll() {
	p.mu.Lock()
	p.flushing = true
	p.mu.Unlock()
	p.wake()

	p.mu.Lock()
	for len(p.pending) > 0 || p.inFlight {
		p.idleCond.Wait()
	}
	p.flushing = false
	p.mu.Unlock()
}

// Close flushes remaining items and stops the worker. Submits after
// Close fail with ErrClosed.
func (p *Processor[T, R]) Close() {
	p.FlushAll()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wake()
	<-p.done
}

func (p *Processor[T, R]) wake() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// loop is the single worker that forms and processes batches.
func (p *Processor[T, R]) loop() {
	defer close(p.done)

	for {
		p.mu.Lock()
		if p.closed && len(p.pending) == 0 {
			p.mu.Unlock()
			return
		}

		if len(p.pending) == 0 {
			p.mu.Unlock()
			<-p.kick
			continue
		}

		age := time.Since(p.pending[0].enqueued)
		full := len(p.pending) >= p.cfg.MaxBatchSize
		due := age >= p.cfg.MaxWait
		forced := p.flushing || p.closed

		if !full && !due && !forced {
			wait := p.cfg.MaxWait - age
			p.mu.Unlock()
			select {
			case <-p.kick:
			case <-time.After(wait):
			}
			continue
		}

		n := len(p.pending)
		if n > p.cfg.MaxBatchSize {
			n = p.cfg.MaxBatchSize
		}
		batch := p.pending[:n]
		p.pending = append([]*pendingItem[T, R]{}, p.pending[n:]...)
		p.inFlight = true
		p.mu.Unlock()

		p.runBatch(batch)

		p.mu.Lock()
		p.inFlight = false
		p.idleCond.Broadcast()
		p.mu.Unlock()
	}
}

// runBatch processes one batch and delivers results position-wise.
func (p *Processor[T, R]) runBatch(batch []*pendingItem[T, R]) {
	values := make([]T, len(batch))
	for i, item := range batch {
		values[i] = item.value
	}

	results, err := p.process(values)
	if err == nil && len(results) != len(batch) {
		err = fmt.Errorf("batch: process returned %d results for %d items", len(results), len(batch))
	}

	for i, item := range batch {
		if err != nil {
			item.done <- outcome[R]{err: err}
			continue
		}
		item.done <- outcome[R]{result: results[i]}
	}
}
