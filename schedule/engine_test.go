package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEngine prepares an engine with a controllable clock. The periodic
// loop stays off; scans are driven manually through e.scan() so the fake
// clock is never read concurrently.
func startEngine(t *testing.T, now *time.Time) *Engine {
	t.Helper()
	e := NewEngine()
	e.timeNow = func() time.Time { return *now }
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	t.Cleanup(func() {
		e.cancel()
		e.wg.Wait()
	})
	return e
}

func TestEngineFiresDueEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	e := startEngine(t, &now)

	var fired atomic.Int32
	e.Add("job", IntervalTrigger(10*time.Second), PolicyAllow, func(context.Context) {
		fired.Add(1)
	})

	e.scan()
	assert.Zero(t, fired.Load())

	now = now.Add(11 * time.Second)
	e.scan()
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)

	// Not due again until the period elapses.
	e.scan()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestEnginePauseResume(t *testing.T) {
	now := time.Unix(1000, 0)
	e := startEngine(t, &now)

	var fired atomic.Int32
	e.Add("job", IntervalTrigger(10*time.Second), PolicyAllow, func(context.Context) {
		fired.Add(1)
	})

	e.Pause("job")
	now = now.Add(time.Minute)
	e.scan()
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, fired.Load())

	e.Resume("job")
	now = now.Add(11 * time.Second)
	e.scan()
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestEngineSkipPolicyDropsOverlap(t *testing.T) {
	now := time.Unix(1000, 0)
	e := startEngine(t, &now)

	var fired atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	e.Add("job", IntervalTrigger(time.Second), PolicySkip, func(context.Context) {
		started <- struct{}{}
		fired.Add(1)
		<-release
	})

	now = now.Add(2 * time.Second)
	e.scan()
	<-started

	// A second fire while the first is running is dropped.
	now = now.Add(2 * time.Second)
	e.scan()
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestEngineQueuePolicyReplaysOverlap(t *testing.T) {
	now := time.Unix(1000, 0)
	e := startEngine(t, &now)

	var fired atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	e.Add("job", IntervalTrigger(time.Second), PolicyQueue, func(context.Context) {
		started <- struct{}{}
		if fired.Add(1) == 1 {
			<-release
		}
	})

	now = now.Add(2 * time.Second)
	e.scan()
	<-started

	now = now.Add(2 * time.Second)
	e.scan()
	close(release)

	// The queued fire replays once the first finishes.
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, time.Millisecond)
}

func TestEngineCancelDuringJitterRestoresEntry(t *testing.T) {
	now := time.Unix(1000, 0)
	e := startEngine(t, &now)

	trigger, err := ParseTrigger(TriggerInterval,
		map[string]any{"seconds": float64(10), "jitter": float64(3600)}, time.UTC)
	require.NoError(t, err)

	var fired atomic.Int32
	e.Add("job", trigger, PolicyQueue, func(context.Context) { fired.Add(1) })

	now = now.Add(11 * time.Second)
	e.scan() // parked in the jitter wait
	now = now.Add(11 * time.Second)
	e.scan() // queued behind the parked run

	// Cancelling mid-jitter must clear both flags, or the entry could
	// never fire again.
	e.cancel()
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		ent := e.entries["job"]
		return ent != nil && !ent.running && !ent.queued
	}, time.Second, time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestEngineOneShotLeavesTable(t *testing.T) {
	now := time.Unix(1000, 0)
	e := startEngine(t, &now)

	var fired atomic.Int32
	e.Add("once", DateTrigger(now.Add(5*time.Second)), PolicyAllow, func(context.Context) {
		fired.Add(1)
	})
	require.True(t, e.Has("once"))

	now = now.Add(6 * time.Second)
	e.scan()
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return !e.Has("once") }, time.Second, time.Millisecond)
}
