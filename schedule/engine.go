package schedule

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/zhenxun-org/zhenxun-core/logger"
)

// scanInterval is how often the engine looks for due entries.
const scanInterval = time.Second

// RunFunc executes one fire of a live entry.
type RunFunc func(ctx context.Context)

type entry struct {
	key     string
	trigger *Trigger
	policy  string
	run     RunFunc

	nextRun time.Time
	paused  bool
	running bool
	queued  bool
}

// Engine is the live in-process scheduler: a table of trigger entries
// scanned once per second. The store is authoritative; entries here are a
// projection of the enabled rows plus ephemeral one-shots.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeNow func() time.Time

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewEngine creates a stopped engine.
func NewEngine() *Engine {
	return &Engine{
		entries: make(map[string]*entry),
		timeNow: time.Now,
	}
}

// Start launches the scan loop. Runs dispatched after Start are cancelled
// by Stop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.runCtx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.loop()
	logger.Info("Schedule engine started")
}

// Stop cancels in-flight runs and waits for the loop to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	logger.Info("Schedule engine stopped")
}

func (e *Engine) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.scan()
		}
	}
}

// Add registers or replaces a live entry. The first fire is computed from
// now; a trigger with no upcoming fire is dropped with a warning.
func (e *Engine) Add(key string, trigger *Trigger, policy string, run RunFunc) {
	now := e.timeNow()
	next, ok := trigger.Next(now)
	if !ok {
		logger.Warnw("Trigger has no upcoming fire, not scheduling", "job", key)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[key] = &entry{
		key:     key,
		trigger: trigger,
		policy:  policy,
		run:     run,
		nextRun: next,
	}
}

// Remove drops a live entry.
func (e *Engine) Remove(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, key)
}

// Pause keeps the entry but stops it from firing.
func (e *Engine) Pause(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[key]; ok {
		ent.paused = true
	}
}

// Resume re-enables a paused entry and recomputes its next fire.
func (e *Engine) Resume(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[key]
	if !ok {
		return
	}
	ent.paused = false
	if next, ok := ent.trigger.Next(e.timeNow()); ok {
		ent.nextRun = next
	}
}

// Has reports whether the key is live.
func (e *Engine) Has(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[key]
	return ok
}

// NextRun returns the entry's next fire time.
func (e *Engine) NextRun(key string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return ent.nextRun, true
}

// Keys returns the live entry keys.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	return keys
}

// scan dispatches every due entry and advances its next fire time.
func (e *Engine) scan() {
	now := e.timeNow()

	e.mu.Lock()
	var due []*entry
	for _, ent := range e.entries {
		if ent.paused || now.Before(ent.nextRun) {
			continue
		}
		if next, ok := ent.trigger.Next(now); ok {
			ent.nextRun = next
		} else {
			// No further fires; finish removes one-shots, push the
			// next fire past any horizon for the rest.
			ent.nextRun = now.Add(100 * 365 * 24 * time.Hour)
		}
		due = append(due, ent)
	}
	e.mu.Unlock()

	for _, ent := range due {
		e.dispatch(ent)
	}
}

// dispatch applies the entry's concurrency policy and starts the run.
func (e *Engine) dispatch(ent *entry) {
	e.mu.Lock()
	if ent.running {
		switch ent.policy {
		case PolicySkip:
			logger.Debugw("Overlapping fire dropped", "job", ent.key)
			e.mu.Unlock()
			return
		case PolicyQueue:
			ent.queued = true
			e.mu.Unlock()
			return
		}
	}
	ent.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// finish must run even when the jitter wait is cancelled, or the
		// entry would stay marked running forever.
		defer e.finish(ent)
		if jitter := ent.trigger.Jitter(); jitter > 0 {
			delay := time.Duration(rand.Int63n(int64(jitter))) + time.Nanosecond
			select {
			case <-e.runCtx.Done():
				return
			case <-time.After(delay):
			}
		}
		ent.run(e.runCtx)
	}()
}

// finish clears the running flag and replays one queued fire if any.
func (e *Engine) finish(ent *entry) {
	e.mu.Lock()
	ent.running = false
	replay := ent.queued
	ent.queued = false
	if ent.trigger.OneShot() {
		delete(e.entries, ent.key)
		replay = false
	}
	e.mu.Unlock()

	if replay {
		e.dispatch(ent)
	}
}
