package auth

import (
	"sync"
	"time"

	"github.com/zhenxun-org/zhenxun-core/logger"
)

// Breaker defaults.
const (
	// DefaultBreakerThreshold is how many consecutive timeouts open a
	// breaker.
	DefaultBreakerThreshold = 3
	// DefaultBreakerReset is how long an open breaker skips its check.
	DefaultBreakerReset = 300 * time.Second
)

// Breaker is a per-check circuit breaker. Repeated timeouts open it; while
// open, the check is skipped entirely to bound pipeline latency.
type Breaker struct {
	name      string
	threshold int
	reset     time.Duration

	mu        sync.Mutex
	failures  int
	active    bool
	resetTime time.Time
	timeNow   func() time.Time // Injectable for testing
}

// NewBreaker creates a breaker for the named check.
func NewBreaker(name string) *Breaker {
	return NewBreakerWithClock(name, DefaultBreakerThreshold, DefaultBreakerReset, time.Now)
}

// NewBreakerWithClock creates a breaker with injectable clock (for testing).
func NewBreakerWithClock(name string, threshold int, reset time.Duration, timeNow func() time.Time) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		reset:     reset,
		timeNow:   timeNow,
	}
}

// Open reports whether the check should be skipped. An expired breaker
// closes and zeroes its counter.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return false
	}
	if b.timeNow().After(b.resetTime) {
		b.active = false
		b.failures = 0
		logger.Infow("Circuit breaker reset", "check", b.name)
		return false
	}
	return true
}

// RecordTimeout counts one timeout; at the threshold the breaker opens.
func (b *Breaker) RecordTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold && !b.active {
		b.active = true
		b.resetTime = b.timeNow().Add(b.reset)
		logger.Warnw("Circuit breaker opened",
			"check", b.name,
			"failures", b.failures,
			"reset_after", b.reset.String(),
		)
	}
}

// RecordSuccess zeroes the consecutive timeout counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		b.failures = 0
	}
}
