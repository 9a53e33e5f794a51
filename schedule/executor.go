package schedule

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/zhenxun-org/zhenxun-core/bot"
	"github.com/zhenxun-org/zhenxun-core/conf"
	"github.com/zhenxun-org/zhenxun-core/errors"
	"github.com/zhenxun-org/zhenxun-core/limiter"
	"github.com/zhenxun-org/zhenxun-core/logger"
	"github.com/zhenxun-org/zhenxun-core/plugin"
	"github.com/zhenxun-org/zhenxun-core/retry"
	"github.com/zhenxun-org/zhenxun-core/tags"
)

// spreadSemKey is the key of the shared fan-out semaphore; every concurrent
// target execution in the process competes for the same permits.
const spreadSemKey = "all_groups"

// AdmissionFunc reports whether the plugin may run in the group. A blocked
// target is skipped silently, not failed.
type AdmissionFunc func(ctx context.Context, pluginName, groupID string) (bool, error)

// Executor runs one job invocation: resolve the bot, expand the target, fan
// out per-target executions, and write the run outcome back to the store.
type Executor struct {
	store     *Store
	bots      *bot.Registry
	plugins   *plugin.Registry
	tags      *tags.Manager
	admission AdmissionFunc

	cfg conf.SchedulerConfig
	sem *limiter.Concurrency

	mu      sync.Mutex
	running map[int64]struct{}
	timeNow func() time.Time

	// onOneOffDone removes the live entry and synthetic registration after
	// a successful one-off run. Wired by the manager.
	onOneOffDone func(j *Job)
	// onAutoDisable removes the live entry after a run disabled its row.
	// Wired by the manager.
	onAutoDisable func(j *Job)
}

// NewExecutor creates an executor. admission may be nil to admit all.
func NewExecutor(store *Store, bots *bot.Registry, plugins *plugin.Registry, tagManager *tags.Manager, cfg conf.SchedulerConfig, admission AdmissionFunc) *Executor {
	limit := cfg.AllGroupsConcurrencyLimit
	if limit <= 0 {
		limit = 5
	}
	return &Executor{
		store:     store,
		bots:      bots,
		plugins:   plugins,
		tags:      tagManager,
		admission: admission,
		cfg:       cfg,
		sem:       limiter.NewConcurrency(limit),
		running:   make(map[int64]struct{}),
		timeNow:   time.Now,
	}
}

// Running reports whether the job id has an in-flight invocation.
func (x *Executor) Running(id int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.running[id]
	return ok
}

// Execute runs one invocation of the persisted job. force bypasses the
// is_enabled check for manual triggers.
func (x *Executor) Execute(ctx context.Context, id int64, force bool) error {
	x.mu.Lock()
	x.running[id] = struct{}{}
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		delete(x.running, id)
		x.mu.Unlock()
	}()

	j, err := x.store.Get(ctx, id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			logger.Warnw("Schedule row vanished, skipping run", "schedule_id", id)
			return nil
		}
		return err
	}
	if !j.IsEnabled && !force {
		logger.Debugw("Schedule disabled, skipping run", "schedule_id", id)
		return nil
	}

	runErr := x.runJob(ctx, j)

	now := x.timeNow()
	status := StatusSuccess
	if runErr != nil {
		status = StatusFailure
		logger.Errorw("Schedule run failed",
			"schedule_id", id, "plugin", j.PluginName, "error", runErr)
	}
	if err := x.store.RecordRun(ctx, id, status, now); err != nil {
		logger.Errorw("Failed to record run outcome", "schedule_id", id, "error", err)
	}

	if runErr != nil && errors.Is(runErr, errors.ErrPluginNotRegistered) {
		logger.Warnw("Plugin no longer registered, disabling schedule",
			"schedule_id", id, "plugin", j.PluginName)
		if err := x.store.SetEnabled(ctx, id, false); err != nil {
			logger.Errorw("Failed to disable schedule", "schedule_id", id, "error", err)
		}
		if x.onAutoDisable != nil {
			x.onAutoDisable(j)
		}
	}

	if j.IsOneOff && runErr == nil {
		if err := x.store.Delete(ctx, id); err != nil && !errors.IsNotFoundError(err) {
			logger.Errorw("Failed to delete one-off schedule", "schedule_id", id, "error", err)
		}
		if x.onOneOffDone != nil {
			x.onOneOffDone(j)
		}
	}
	return runErr
}

func (x *Executor) runJob(ctx context.Context, j *Job) error {
	if _, ok := x.plugins.Lookup(j.PluginName); !ok {
		return errors.Wrapf(errors.ErrPluginNotRegistered, "plugin %s", j.PluginName)
	}

	b, err := x.resolveBot(j)
	if err != nil {
		return err
	}

	targets, err := x.resolveTargets(ctx, j, b)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		logger.Infow("Schedule resolved no targets",
			"schedule_id", j.ID, "plugin", j.PluginName, "target_type", j.TargetType)
		return nil
	}

	opts := j.ExecutionOptions
	if opts != nil && opts.Interval > 0 {
		return x.runSerial(ctx, j, b, targets, opts.Interval)
	}
	spread := x.cfg.DefaultSpreadSeconds
	if spread <= 0 {
		spread = 1.0
	}
	if opts != nil && opts.Spread != nil {
		spread = *opts.Spread
	}
	return x.runConcurrent(ctx, j, b, targets, spread)
}

// resolveBot picks the bound bot, or any online bot when the job is not
// bound. An offline bound bot fails the run.
func (x *Executor) resolveBot(j *Job) (bot.Bot, error) {
	b, err := x.bots.GetBot(j.BotID)
	if err != nil {
		return nil, errors.Wrapf(err, "no bot available for schedule %d", j.ID)
	}
	return b, nil
}

// resolveTargets expands the job's target into concrete group or user ids.
// GLOBAL yields one empty target.
func (x *Executor) resolveTargets(ctx context.Context, j *Job, b bot.Bot) ([]string, error) {
	switch j.TargetType {
	case TargetGroup, TargetUser:
		return []string{j.TargetIdentifier}, nil
	case TargetTag:
		return x.tags.Resolve(ctx, j.TargetIdentifier, b)
	case TargetAllGroups:
		return x.tags.Resolve(ctx, tags.SpecialAll, b)
	case TargetGlobal:
		return []string{""}, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown target type %q", j.TargetType)
	}
}

// runSerial iterates targets in order with a fixed sleep between them. One
// target's failure does not abort the rest.
func (x *Executor) runSerial(ctx context.Context, j *Job, b bot.Bot, targets []string, interval float64) error {
	var errs error
	sleep := time.Duration(interval * float64(time.Second))
	for i, target := range targets {
		if i > 0 {
			select {
			case <-ctx.Done():
				return multierr.Append(errs, ctx.Err())
			case <-time.After(sleep):
			}
		}
		if err := x.runTarget(ctx, j, b, target); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// runConcurrent starts one worker per target. Each worker sleeps a uniform
// random delay in (0, spread], then competes for the shared semaphore.
func (x *Executor) runConcurrent(ctx context.Context, j *Job, b bot.Bot, targets []string, spread float64) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs error

	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()

			delay := time.Duration(rand.Float64() * spread * float64(time.Second))
			if delay <= 0 {
				delay = time.Nanosecond
			}
			select {
			case <-ctx.Done():
				mu.Lock()
				errs = multierr.Append(errs, ctx.Err())
				mu.Unlock()
				return
			case <-time.After(delay):
			}

			if err := x.sem.Acquire(ctx, spreadSemKey); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return
			}
			defer x.sem.Release(spreadSemKey)

			if err := x.runTarget(ctx, j, b, target); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()
	return errs
}

// runTarget executes one task instance against one resolved target.
func (x *Executor) runTarget(ctx context.Context, j *Job, b bot.Bot, target string) error {
	if x.admission != nil && target != "" && j.TargetType != TargetUser {
		allowed, err := x.admission(ctx, j.PluginName, target)
		if err != nil {
			logger.Warnw("Admission lookup failed, skipping target",
				"schedule_id", j.ID, "target", target, "error", err)
			return nil
		}
		if !allowed {
			logger.Debugw("Target blocked, skipping",
				"schedule_id", j.ID, "plugin", j.PluginName, "target", target)
			return nil
		}
	}

	reg, ok := x.plugins.Lookup(j.PluginName)
	if !ok {
		return errors.Wrapf(errors.ErrPluginNotRegistered, "plugin %s", j.PluginName)
	}
	if err := x.plugins.Validate(j.PluginName, j.JobKwargs); err != nil {
		return err
	}

	inv := &plugin.Invocation{
		ScheduleID: j.ID,
		PluginName: j.PluginName,
		BotID:      b.ID(),
		GroupID:    target,
		Kwargs:     j.JobKwargs,
	}

	op := func(ctx context.Context) error {
		err := reg.Handler(ctx, b, inv)
		if err != nil && plugin.IsControlFlow(err) {
			logger.Warnw("Handler ended run early",
				"schedule_id", j.ID, "plugin", j.PluginName, "target", target, "reason", err)
			return nil
		}
		return err
	}

	opts := j.ExecutionOptions
	if opts != nil && opts.Retries > 0 {
		delay := time.Duration(opts.RetryDelaySeconds * float64(time.Second))
		return retry.Do(ctx, retry.Config{
			MaxAttempts: uint(opts.Retries + 1),
			Strategy:    retry.Fixed,
			Delay:       delay,
			LogName:     j.PluginName,
		}, op)
	}
	return op(ctx)
}
