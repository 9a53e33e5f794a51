package limiter

import (
	"sync"
	"time"
)

// blockTimeout is how long a user-block entry holds before it self-heals.
// Protects against a release that never happened (crashed handler).
const blockTimeout = 30 * time.Second

// UserBlock marks a key as "in flight" so re-entrant invocations are rejected
// until released or until the entry self-heals.
type UserBlock struct {
	mu      sync.Mutex
	flags   map[string]bool
	setTime map[string]time.Time
	timeNow func() time.Time // Injectable for testing
}

// NewUserBlock creates a user-block limiter.
func NewUserBlock() *UserBlock {
	return NewUserBlockWithClock(time.Now)
}

// NewUserBlockWithClock creates a user-block limiter with injectable clock (for testing).
func NewUserBlockWithClock(timeNow func() time.Time) *UserBlock {
	return &UserBlock{
		flags:   make(map[string]bool),
		setTime: make(map[string]time.Time),
		timeNow: timeNow,
	}
}

// Check reports whether the key may proceed. It returns false only when the
// key is blocked and the block is younger than the self-heal timeout.
func (b *UserBlock) Check(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.flags[key] {
		return true
	}
	return b.timeNow().Sub(b.setTime[key]) >= blockTimeout
}

// SetTrue blocks the key and stamps the block time.
func (b *UserBlock) SetTrue(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.flags[key] = true
	b.setTime[key] = b.timeNow()
}

// SetFalse releases the key.
func (b *UserBlock) SetFalse(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.flags[key] = false
}
