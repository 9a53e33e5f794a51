package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenxun-org/zhenxun-core/bot"
	"github.com/zhenxun-org/zhenxun-core/cache"
	"github.com/zhenxun-org/zhenxun-core/conf"
	"github.com/zhenxun-org/zhenxun-core/errors"
	zxtesting "github.com/zhenxun-org/zhenxun-core/internal/testing"
	"github.com/zhenxun-org/zhenxun-core/plugin"
	"github.com/zhenxun-org/zhenxun-core/tags"
)

type schedulerFixture struct {
	store    *Store
	engine   *Engine
	executor *Executor
	manager  *Manager
	plugins  *plugin.Registry
	bot      *bot.Fake

	mu      sync.Mutex
	calls   []string
	active  int
	peak    int
	failErr error
	delay   time.Duration
}

func newSchedulerFixture(t *testing.T, groups ...string) *schedulerFixture {
	t.Helper()
	if len(groups) == 0 {
		groups = []string{"g1", "g2", "g3"}
	}
	db := zxtesting.CreateTestDB(t)
	f := &schedulerFixture{
		store:   NewStore(db),
		engine:  NewEngine(),
		plugins: plugin.NewRegistry(),
		bot:     bot.NewFake("bot1", groups...),
	}
	bots := bot.NewRegistry()
	bots.Connect(f.bot)

	cacheManager := cache.NewManager(cache.NewMemoryBackend(cache.DefaultTTL))
	tagManager := tags.NewManager(tags.NewStore(db), tags.NewRuleRegistry(), cacheManager)

	cfg := conf.SchedulerConfig{
		AllGroupsConcurrencyLimit: 2,
		DefaultSpreadSeconds:      0.01,
		Timezone:                  "UTC",
	}
	f.executor = NewExecutor(f.store, bots, f.plugins, tagManager, cfg, nil)
	f.manager = NewManager(f.store, f.engine, f.executor, f.plugins, cfg)

	require.NoError(t, f.plugins.Register(&plugin.Registration{
		Name: "morning_greet",
		Handler: func(ctx context.Context, b bot.Bot, inv *plugin.Invocation) error {
			f.mu.Lock()
			f.calls = append(f.calls, inv.GroupID)
			f.active++
			if f.active > f.peak {
				f.peak = f.active
			}
			err := f.failErr
			delay := f.delay
			f.mu.Unlock()

			if delay > 0 {
				time.Sleep(delay)
			}
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
			return err
		},
		ValidateKwargs: func(kwargs map[string]any) error {
			if _, ok := kwargs["msg"]; !ok {
				return errors.Wrap(errors.ErrInvalidRequest, "msg is required")
			}
			return nil
		},
	}))
	return f
}

func (f *schedulerFixture) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func TestAddScheduleRejectsUnknownPlugin(t *testing.T) {
	f := newSchedulerFixture(t)
	j := testJob()
	j.PluginName = "never-registered"
	_, err := f.manager.AddSchedule(context.Background(), j)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPluginNotRegistered))
}

func TestAddScheduleValidatesKwargs(t *testing.T) {
	f := newSchedulerFixture(t)
	j := testJob()
	j.JobKwargs = map[string]any{"wrong": true}
	_, err := f.manager.AddSchedule(context.Background(), j)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestLiveStoreAgreement(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	saved, err := f.manager.AddSchedule(ctx, testJob())
	require.NoError(t, err)
	assert.True(t, f.engine.Has(saved.LiveID()))

	require.NoError(t, f.manager.Remove(ctx, saved.ID))
	assert.False(t, f.engine.Has(saved.LiveID()))
	_, err = f.store.Get(ctx, saved.ID)
	require.Error(t, err)
}

func TestSerialFanoutOrder(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	j := testJob()
	j.TargetType = TargetAllGroups
	j.TargetIdentifier = ""
	j.ExecutionOptions = &ExecutionOptions{Interval: 0.01}
	saved, err := f.manager.AddSchedule(ctx, j)
	require.NoError(t, err)

	require.NoError(t, f.executor.Execute(ctx, saved.ID, false))
	// Serial mode walks the resolved targets in order.
	assert.Equal(t, []string{"g1", "g2", "g3"}, f.callLog())
}

func TestSerialFanoutSurvivesTargetFailure(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	f.failErr = errors.New("boom")

	j := testJob()
	j.TargetType = TargetAllGroups
	j.TargetIdentifier = ""
	j.ExecutionOptions = &ExecutionOptions{Interval: 0.01}
	saved, err := f.manager.AddSchedule(ctx, j)
	require.NoError(t, err)

	err = f.executor.Execute(ctx, saved.ID, false)
	require.Error(t, err)
	// Every target still ran despite the failures.
	assert.Len(t, f.callLog(), 3)

	got, err := f.store.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, got.LastRunStatus)
	assert.Equal(t, 1, got.ConsecutiveFailures)
}

func TestConcurrentSpreadRespectsLimit(t *testing.T) {
	f := newSchedulerFixture(t, "g1", "g2", "g3", "g4", "g5", "g6")
	ctx := context.Background()
	f.delay = 20 * time.Millisecond

	j := testJob()
	j.TargetType = TargetAllGroups
	j.TargetIdentifier = ""
	saved, err := f.manager.AddSchedule(ctx, j)
	require.NoError(t, err)

	require.NoError(t, f.executor.Execute(ctx, saved.ID, false))
	assert.Len(t, f.callLog(), 6)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.LessOrEqual(t, f.peak, 2)
}

func TestDisabledSkippedUnlessForced(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	saved, err := f.manager.AddSchedule(ctx, testJob())
	require.NoError(t, err)
	require.NoError(t, f.manager.Pause(ctx, saved.ID))

	require.NoError(t, f.executor.Execute(ctx, saved.ID, false))
	assert.Empty(t, f.callLog())

	require.NoError(t, f.manager.TriggerNow(ctx, saved.ID))
	assert.Equal(t, []string{"g1"}, f.callLog())
}

func TestSuccessAfterFailureResetsStreak(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	saved, err := f.manager.AddSchedule(ctx, testJob())
	require.NoError(t, err)

	f.failErr = errors.New("boom")
	require.Error(t, f.executor.Execute(ctx, saved.ID, false))
	f.mu.Lock()
	f.failErr = nil
	f.mu.Unlock()
	require.NoError(t, f.executor.Execute(ctx, saved.ID, false))

	got, err := f.store.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.LastRunStatus)
	assert.Zero(t, got.ConsecutiveFailures)
}

func TestOneOffCleanup(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	ran := make(chan string, 1)
	saved, err := f.manager.ScheduleOnce(ctx, func(ctx context.Context, b bot.Bot, inv *plugin.Invocation) error {
		ran <- inv.PluginName
		return nil
	}, time.Now().Add(time.Hour), &Job{
		TargetType:       TargetGroup,
		TargetIdentifier: "g1",
	})
	require.NoError(t, err)
	require.True(t, saved.IsOneOff)

	require.NoError(t, f.manager.TriggerNow(ctx, saved.ID))
	name := <-ran

	// The row, live entry, and synthetic plugin key are all gone.
	_, err = f.store.Get(ctx, saved.ID)
	assert.True(t, errors.IsNotFoundError(err))
	assert.False(t, f.engine.Has(saved.LiveID()))
	_, still := f.plugins.Lookup(name)
	assert.False(t, still)
}

func TestUpdateScheduleMergesKwargs(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	j := testJob()
	j.JobKwargs = map[string]any{"msg": "早上好", "extra": float64(1)}
	saved, err := f.manager.AddSchedule(ctx, j)
	require.NoError(t, err)

	updated, err := f.manager.UpdateSchedule(ctx, saved.ID, "", nil, map[string]any{"msg": "午安"})
	require.NoError(t, err)
	assert.Equal(t, "午安", updated.JobKwargs["msg"])
	assert.Equal(t, float64(1), updated.JobKwargs["extra"])

	// A merge that breaks validation is rejected.
	_, err = f.manager.UpdateSchedule(ctx, saved.ID, "interval", map[string]any{}, nil)
	require.Error(t, err)
}

func TestStartupSkipsUnregisteredPlugins(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	ghost := testJob()
	ghost.PluginName = "ghost"
	saved, err := f.store.Upsert(ctx, ghost)
	require.NoError(t, err)
	known, err := f.store.Upsert(ctx, testJob())
	require.NoError(t, err)

	require.NoError(t, f.manager.Startup(ctx))
	t.Cleanup(f.manager.Shutdown)

	assert.False(t, f.engine.Has(saved.LiveID()))
	assert.True(t, f.engine.Has(known.LiveID()))
}

func TestDeclarativeInsertIfAbsent(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	f.manager.RegisterInterval("morning_greet", time.Hour, TargetGroup, "g1", map[string]any{"msg": "hi"})

	require.NoError(t, f.manager.Startup(ctx))
	t.Cleanup(f.manager.Shutdown)

	jobs, err := f.store.Query(ctx, Filter{PluginName: "morning_greet"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, SourcePluginDefault, jobs[0].Source)

	// A user-modified row with the same key is never overwritten.
	_, err = f.manager.UpdateSchedule(ctx, jobs[0].ID, "", nil, map[string]any{"msg": "changed"})
	require.NoError(t, err)
	require.NoError(t, f.manager.Startup(ctx))

	jobs, err = f.store.Query(ctx, Filter{PluginName: "morning_greet"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "changed", jobs[0].JobKwargs["msg"])
}

func TestTargeterBulkPauseResume(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	for _, g := range []string{"g1", "g2"} {
		j := testJob()
		j.TargetIdentifier = g
		_, err := f.manager.AddSchedule(ctx, j)
		require.NoError(t, err)
	}

	n, err := f.manager.Target(Filter{PluginName: "morning_greet"}).Pause(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	jobs, err := f.store.Query(ctx, Filter{PluginName: "morning_greet"}, 0, 0)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.False(t, j.IsEnabled)
	}

	n, err = f.manager.Target(Filter{TargetIdentifier: "g1"}).Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStatusBulk(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	for _, g := range []string{"g1", "g2"} {
		j := testJob()
		j.TargetIdentifier = g
		_, err := f.manager.AddSchedule(ctx, j)
		require.NoError(t, err)
	}

	statuses, err := f.manager.StatusBulk(ctx, Filter{PluginName: "morning_greet"})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.True(t, st.Live)
		assert.False(t, st.Running)
		assert.NotNil(t, st.NextRun)
	}
}

func TestAutoDisableOnUnregisteredPlugin(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	saved, err := f.manager.AddSchedule(ctx, testJob())
	require.NoError(t, err)
	require.True(t, f.engine.Has(saved.LiveID()))

	f.plugins.Deregister("morning_greet")
	err = f.executor.Execute(ctx, saved.ID, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPluginNotRegistered))

	// The row is disabled and the live entry is gone, so the schedule
	// cannot keep firing into a missing handler.
	got, err := f.store.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
	assert.Equal(t, StatusFailure, got.LastRunStatus)
	assert.False(t, f.engine.Has(saved.LiveID()))
}

func TestControlFlowSkipDoesNotFailRun(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	f.failErr = plugin.ErrSkipped

	saved, err := f.manager.AddSchedule(ctx, testJob())
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, saved.ID, false))

	got, err := f.store.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.LastRunStatus)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Equal(t, []string{"g1"}, f.callLog())
}

func TestAddScheduleAppliesPluginDefaults(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	jitter := 5
	spread := 30.0
	require.NoError(t, f.plugins.Register(&plugin.Registration{
		Name: "daily_news",
		Handler: func(ctx context.Context, b bot.Bot, inv *plugin.Invocation) error {
			return nil
		},
		DefaultPermission: 8,
		DefaultJitter:     &jitter,
		DefaultSpread:     &spread,
	}))

	j := testJob()
	j.PluginName = "daily_news"
	saved, err := f.manager.AddSchedule(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, 8, saved.RequiredPermission)
	require.NotNil(t, saved.ExecutionOptions)
	assert.Equal(t, 5, saved.ExecutionOptions.Jitter)
	require.NotNil(t, saved.ExecutionOptions.Spread)
	assert.Equal(t, 30.0, *saved.ExecutionOptions.Spread)

	// The declared jitter reaches the live trigger.
	f.engine.mu.Lock()
	trig := f.engine.entries[saved.LiveID()].trigger
	f.engine.mu.Unlock()
	assert.Equal(t, 5*time.Second, trig.Jitter())

	// Caller-set options win over the defaults.
	j2 := testJob()
	j2.PluginName = "daily_news"
	j2.TargetIdentifier = "g2"
	j2.ExecutionOptions = &ExecutionOptions{Interval: 1}
	saved2, err := f.manager.AddSchedule(ctx, j2)
	require.NoError(t, err)
	assert.Nil(t, saved2.ExecutionOptions.Spread)
	assert.Equal(t, 1.0, saved2.ExecutionOptions.Interval)
}

func TestStatusReflectsRunningSet(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	f.delay = 50 * time.Millisecond

	saved, err := f.manager.AddSchedule(ctx, testJob())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.executor.Execute(ctx, saved.ID, false)
	}()

	require.Eventually(t, func() bool {
		st, err := f.manager.GetStatus(ctx, saved.ID)
		return err == nil && st.Running
	}, time.Second, 5*time.Millisecond)
	<-done

	st, err := f.manager.GetStatus(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.True(t, st.Live)
}
