package limiter

import (
	"sync"
	"time"
)

// Rate enforces at most maxCalls per sliding window per key.
type Rate struct {
	maxCalls int
	window   time.Duration
	mu       sync.Mutex
	calls    map[string][]time.Time
	timeNow  func() time.Time // Injectable for testing
}

// NewRate creates a sliding-window rate limiter.
func NewRate(maxCalls int, window time.Duration) *Rate {
	return NewRateWithClock(maxCalls, window, time.Now)
}

// NewRateWithClock creates a rate limiter with injectable clock (for testing).
func NewRateWithClock(maxCalls int, window time.Duration, timeNow func() time.Time) *Rate {
	return &Rate{
		maxCalls: maxCalls,
		window:   window,
		calls:    make(map[string][]time.Time),
		timeNow:  timeNow,
	}
}

// Check evicts expired timestamps for the key, then reports whether another
// call is allowed. On success the call is recorded.
func (r *Rate) Check(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.evict(key, now)

	if len(r.calls[key]) >= r.maxCalls {
		return false
	}
	r.calls[key] = append(r.calls[key], now)
	return true
}

// LeftTime returns how long until the oldest recorded call leaves the window.
func (r *Rate) LeftTime(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.evict(key, now)

	times := r.calls[key]
	if len(times) == 0 {
		return 0
	}
	left := times[0].Add(r.window).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// evict removes call timestamps outside the sliding window.
// Must be called with lock held.
func (r *Rate) evict(key string, now time.Time) {
	cutoff := now.Add(-r.window)

	times := r.calls[key]
	expired := 0
	for _, callTime := range times {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}
	if expired > 0 {
		r.calls[key] = times[expired:]
	}
}
