package batch

import (
	"sync"
	"time"
)

// Coalescer collects items and hands them off as one slice when either the
// batch size is reached or the flush interval elapses. Used to group rapid
// keystroke operations into single broadcast frames.
type Coalescer[T any] struct {
	batchSize     int
	batchInterval time.Duration
	flush         func([]T)

	mu        sync.Mutex
	pending   []T
	flushChan chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewCoalescer creates a coalescer and starts its flush loop.
func NewCoalescer[T any](batchSize int, batchInterval time.Duration, flush func([]T)) *Coalescer[T] {
	c := &Coalescer[T]{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		flush:         flush,
		pending:       make([]T, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
	}

	go c.run()

	return c
}

// Add queues an item; a full batch triggers an immediate flush.
func (c *Coalescer[T]) Add(items ...T) {
	c.mu.Lock()
	c.pending = append(c.pending, items...)
	shouldFlush := len(c.pending) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		select {
		case c.flushChan <- struct{}{}:
		default:
		}
	}
}

// Flush drains pending items synchronously.
func (c *Coalescer[T]) Flush() {
	c.mu.Lock()
	items := c.pending
	c.pending = make([]T, 0, c.batchSize)
	c.mu.Unlock()

	if len(items) > 0 {
		c.flush(items)
	}
}

// Stop flushes remaining items and stops the flush loop.
func (c *Coalescer[T]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.Flush()
	})
}

func (c *Coalescer[T]) run() {
	ticker := time.NewTicker(c.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.flushChan:
			c.Flush()
		case <-c.stopChan:
			return
		}
	}
}
