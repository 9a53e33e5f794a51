package limiter

import (
	"sync"
	"time"
)

// Count limits uses per calendar day, resetting when the day changes in the
// configured timezone.
type Count struct {
	maxCount int
	loc      *time.Location
	mu       sync.Mutex
	counts   map[string]int
	day      map[string]int // year*1000 + yday of the last recorded call
	timeNow  func() time.Time // Injectable for testing
}

// NewCount creates a daily count limiter in the given timezone. A nil
// location means time.Local.
func NewCount(maxCount int, loc *time.Location) *Count {
	return NewCountWithClock(maxCount, loc, time.Now)
}

// NewCountWithClock creates a count limiter with injectable clock (for testing).
func NewCountWithClock(maxCount int, loc *time.Location, timeNow func() time.Time) *Count {
	if loc == nil {
		loc = time.Local
	}
	return &Count{
		maxCount: maxCount,
		loc:      loc,
		counts:   make(map[string]int),
		day:      make(map[string]int),
		timeNow:  timeNow,
	}
}

// Check reports whether the key has remaining uses today.
func (c *Count) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollover(key)
	return c.counts[key] < c.maxCount
}

// Increase bumps today's count for the key by n (minimum 1).
func (c *Count) Increase(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 1 {
		n = 1
	}
	c.rollover(key)
	c.counts[key] += n
}

// Remaining returns how many uses are left today for the key.
func (c *Count) Remaining(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollover(key)
	left := c.maxCount - c.counts[key]
	if left < 0 {
		return 0
	}
	return left
}

// rollover resets the key's count when the calendar day has changed.
// Must be called with lock held.
func (c *Count) rollover(key string) {
	now := c.timeNow().In(c.loc)
	today := now.Year()*1000 + now.YearDay()
	if c.day[key] != today {
		c.day[key] = today
		c.counts[key] = 0
	}
}
