package limiter

import (
	"context"
	"sync"

	"github.com/zhenxun-org/zhenxun-core/logger"
)

// Concurrency limits simultaneous executions per key with a counting
// semaphore of fixed capacity.
type Concurrency struct {
	capacity int
	mu       sync.Mutex
	permits  map[string]chan struct{}
	active   map[string]int
}

// NewConcurrency creates a keyed concurrency limiter. Capacity below one is
// clamped to one.
func NewConcurrency(capacity int) *Concurrency {
	if capacity < 1 {
		capacity = 1
	}
	return &Concurrency{
		capacity: capacity,
		permits:  make(map[string]chan struct{}),
		active:   make(map[string]int),
	}
}

// Acquire blocks until a permit is available for the key or the context is
// cancelled.
func (c *Concurrency) Acquire(ctx context.Context, key string) error {
	sem := c.semaphore(key)

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.active[key]++
	c.mu.Unlock()
	return nil
}

// Release returns a permit for the key. A release with no active holder logs
// a warning and no-ops.
func (c *Concurrency) Release(key string) {
	c.mu.Lock()
	if c.active[key] <= 0 {
		c.mu.Unlock()
		logger.Warnw("Concurrency release without matching acquire", "key", key)
		return
	}
	c.active[key]--
	sem := c.permits[key]
	c.mu.Unlock()

	<-sem
}

// Active returns the number of currently held permits for the key.
func (c *Concurrency) Active(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[key]
}

// semaphore returns the key's permit channel, creating it lazily.
func (c *Concurrency) semaphore(key string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	sem, ok := c.permits[key]
	if !ok {
		sem = make(chan struct{}, c.capacity)
		c.permits[key] = sem
	}
	return sem
}
