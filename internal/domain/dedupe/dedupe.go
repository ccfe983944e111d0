// Package dedupe coalesces in-flight repair work.
//
// A divergent document can be reported by many toggles in a burst; the
// coalescer ensures it is queued for repair at most once until the
// repair completes (or the entry is evicted under pressure).
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Coalescer tracks repair keys that are already queued or running.
type Coalescer interface {
	// TryAcquire atomically records key as in flight. It returns false
	// if the key was already in flight (the new task should be dropped),
	// true if the caller now owns the key.
	TryAcquire(ctx context.Context, key string) bool

	// Release removes key from the in-flight set, allowing the next
	// report of the same document to queue a fresh repair.
	Release(ctx context.Context, key string)

	Size() int64
}

// inMemoryCoalescer implements Coalescer with a bounded FIFO set.
// When the bound is hit the oldest in-flight key is evicted; the worst
// case is one redundant repair, never a lost one.
type inMemoryCoalescer struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	order    []string
	maxSize  int
	size     atomic.Int64
}

// NewInMemoryCoalescer creates a coalescer with configuration options.
func NewInMemoryCoalescer(opts ...Option) Coalescer {
	c := &inMemoryCoalescer{
		maxSize: 10000, // default max size
	}

	for _, opt := range opts {
		opt(c)
	}

	hint := c.maxSize
	if hint < 0 {
		hint = 0
	}
	c.inflight = make(map[string]struct{}, hint)
	c.order = make([]string, 0, hint)

	return c
}

// TryAcquire atomically records key as in flight.
func (c *inMemoryCoalescer) TryAcquire(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inflight[key]; ok {
		return false
	}

	if c.maxSize > 0 && len(c.inflight) >= c.maxSize {
		c.evictOldest()
	}

	c.inflight[key] = struct{}{}
	c.order = append(c.order, key)
	c.size.Add(1)
	return true
}

// Release removes key from the in-flight set.
func (c *inMemoryCoalescer) Release(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inflight[key]; !ok {
		return
	}
	delete(c.inflight, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.size.Add(-1)
}

// evictOldest drops the oldest in-flight key. Must be called with c.mu held.
func (c *inMemoryCoalescer) evictOldest() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.inflight[oldest]; ok {
			delete(c.inflight, oldest)
			c.size.Add(-1)
			return
		}
	}
}

// Size returns the current number of in-flight keys.
func (c *inMemoryCoalescer) Size() int64 {
	return c.size.Load()
}
