package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for limiter tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCooldown(t *testing.T) {
	clock := newFakeClock()
	cd := NewCooldownWithClock(10*time.Second, clock.Now)

	assert.True(t, cd.Check("u1"), "fresh key has no cooldown")
	assert.Zero(t, cd.LeftTime("u1"))

	cd.Start("u1", 0)
	assert.False(t, cd.Check("u1"))
	assert.Equal(t, 10*time.Second, cd.LeftTime("u1"))

	// LeftTime is non-increasing between starts.
	clock.Advance(4 * time.Second)
	assert.Equal(t, 6*time.Second, cd.LeftTime("u1"))

	clock.Advance(6 * time.Second)
	assert.True(t, cd.Check("u1"))
	assert.Zero(t, cd.LeftTime("u1"))

	// Explicit duration wins over the default.
	cd.Start("u1", 2*time.Second)
	assert.Equal(t, 2*time.Second, cd.LeftTime("u1"))

	// Other keys are unaffected.
	assert.True(t, cd.Check("u2"))
}

func TestRateSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	r := NewRateWithClock(2, 60*time.Second, clock.Now)

	assert.True(t, r.Check("k"))
	clock.Advance(10 * time.Second)
	assert.True(t, r.Check("k"))

	// Window full: third call within 60s is rejected and not recorded.
	assert.False(t, r.Check("k"))
	assert.Equal(t, 50*time.Second, r.LeftTime("k"))

	// First call leaves the window after 60s from t0.
	clock.Advance(50 * time.Second)
	assert.True(t, r.Check("k"))
	assert.False(t, r.Check("k"))
}

func TestCountDailyRollover(t *testing.T) {
	clock := newFakeClock()
	c := NewCountWithClock(2, time.UTC, clock.Now)

	require.True(t, c.Check("g"))
	c.Increase("g", 1)
	c.Increase("g", 1)
	assert.False(t, c.Check("g"))
	assert.Zero(t, c.Remaining("g"))

	// Crossing midnight in the configured timezone resets the count.
	clock.Advance(13 * time.Hour)
	assert.True(t, c.Check("g"))
	assert.Equal(t, 2, c.Remaining("g"))
}

func TestUserBlockSelfHeals(t *testing.T) {
	clock := newFakeClock()
	b := NewUserBlockWithClock(clock.Now)

	assert.True(t, b.Check("u"))

	b.SetTrue("u")
	assert.False(t, b.Check("u"))

	// Released blocks pass immediately.
	b.SetFalse("u")
	assert.True(t, b.Check("u"))

	// A block that is never released heals after 30s.
	b.SetTrue("u")
	clock.Advance(29 * time.Second)
	assert.False(t, b.Check("u"))
	clock.Advance(1 * time.Second)
	assert.True(t, b.Check("u"))
}

func TestConcurrency(t *testing.T) {
	c := NewConcurrency(2)
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx, "k"))
	require.NoError(t, c.Acquire(ctx, "k"))
	assert.Equal(t, 2, c.Active("k"))

	// Third acquire blocks until a release.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := c.Acquire(blocked, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.Release("k")
	require.NoError(t, c.Acquire(ctx, "k"))

	// Keys do not share permits.
	require.NoError(t, c.Acquire(ctx, "other"))

	c.Release("k")
	c.Release("k")
	c.Release("other")
	assert.Zero(t, c.Active("k"))

	// Unmatched release is a warning no-op, not a panic.
	c.Release("k")
	assert.Zero(t, c.Active("k"))
}

func TestConcurrencyParallel(t *testing.T) {
	c := NewConcurrency(3)
	ctx := context.Background()

	var mu sync.Mutex
	inFlight, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Acquire(ctx, "k"))
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			c.Release("k")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 3)
	assert.Zero(t, c.Active("k"))
}
