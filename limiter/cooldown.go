// Package limiter provides the process-local gating primitives used by the
// authorization pipeline: cooldown, sliding-window rate, daily count,
// self-healing user block and keyed concurrency limiting. State is per
// process and never persisted.
package limiter

import (
	"sync"
	"time"
)

// Cooldown tracks a per-key next-allowed time.
type Cooldown struct {
	defaultCD time.Duration
	mu        sync.Mutex
	nextTime  map[string]time.Time
	timeNow   func() time.Time // Injectable for testing
}

// NewCooldown creates a cooldown limiter with the given default duration.
func NewCooldown(defaultCD time.Duration) *Cooldown {
	return NewCooldownWithClock(defaultCD, time.Now)
}

// NewCooldownWithClock creates a cooldown limiter with injectable clock (for testing).
func NewCooldownWithClock(defaultCD time.Duration, timeNow func() time.Time) *Cooldown {
	return &Cooldown{
		defaultCD: defaultCD,
		nextTime:  make(map[string]time.Time),
		timeNow:   timeNow,
	}
}

// Check reports whether the key is out of cooldown.
func (c *Cooldown) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, ok := c.nextTime[key]
	if !ok {
		return true
	}
	return !c.timeNow().Before(next)
}

// Start begins a cooldown for the key. A non-positive duration uses the
// limiter default.
func (c *Cooldown) Start(key string, cd time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cd <= 0 {
		cd = c.defaultCD
	}
	c.nextTime[key] = c.timeNow().Add(cd)
}

// LeftTime returns the remaining cooldown for the key, zero when expired.
func (c *Cooldown) LeftTime(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, ok := c.nextTime[key]
	if !ok {
		return 0
	}
	left := next.Sub(c.timeNow())
	if left < 0 {
		return 0
	}
	return left
}
