package schedule

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhenxun-org/zhenxun-core/conf"
	"github.com/zhenxun-org/zhenxun-core/errors"
	"github.com/zhenxun-org/zhenxun-core/logger"
	"github.com/zhenxun-org/zhenxun-core/plugin"
)

// Status of one schedule as reported to callers.
type Status struct {
	Job     *Job
	Live    bool
	Running bool
	NextRun *time.Time
}

// declarativeJob is a schedule registered at handler load; inserted at
// startup only if no row with the same natural key exists.
type declarativeJob struct {
	pluginName    string
	targetType    string
	targetID      string
	botID         string
	triggerType   string
	triggerConfig map[string]any
	kwargs        map[string]any
}

// Manager is the public scheduler API: it validates, persists through the
// store, and keeps the live engine in sync.
type Manager struct {
	store       *Store
	engine      *Engine
	executor    *Executor
	plugins     *plugin.Registry
	cfg         conf.SchedulerConfig
	declarative []declarativeJob
}

// NewManager wires the scheduler. The engine is not started; call Startup.
func NewManager(store *Store, engine *Engine, executor *Executor, plugins *plugin.Registry, cfg conf.SchedulerConfig) *Manager {
	m := &Manager{
		store:    store,
		engine:   engine,
		executor: executor,
		plugins:  plugins,
		cfg:      cfg,
	}
	executor.onOneOffDone = m.oneOffDone
	executor.onAutoDisable = m.autoDisabled
	return m
}

// validate rejects jobs the executor could not run.
func (m *Manager) validate(j *Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if err := m.plugins.Validate(j.PluginName, j.JobKwargs); err != nil {
		return err
	}
	_, err := ParseTrigger(j.TriggerType, j.TriggerConfig, m.cfg.Location())
	return err
}

// applyPluginDefaults folds the registration's declared defaults into the
// fields the caller left unset.
func (m *Manager) applyPluginDefaults(j *Job) {
	reg, ok := m.plugins.Lookup(j.PluginName)
	if !ok {
		return
	}
	if j.RequiredPermission == 0 && reg.DefaultPermission > 0 {
		j.RequiredPermission = reg.DefaultPermission
	}
	if reg.DefaultJitter == nil && reg.DefaultSpread == nil && reg.DefaultInterval == nil {
		return
	}
	if j.ExecutionOptions == nil {
		j.ExecutionOptions = &ExecutionOptions{}
	}
	o := j.ExecutionOptions
	if o.Jitter == 0 && reg.DefaultJitter != nil {
		o.Jitter = *reg.DefaultJitter
	}
	// Interval and spread are mutually exclusive; a caller-set value for
	// either suppresses both defaults.
	if o.Interval == 0 && o.Spread == nil {
		if reg.DefaultInterval != nil {
			o.Interval = float64(*reg.DefaultInterval)
		} else if reg.DefaultSpread != nil {
			spread := *reg.DefaultSpread
			o.Spread = &spread
		}
	}
}

// addLive projects one enabled row into the engine.
func (m *Manager) addLive(j *Job) error {
	trigger, err := ParseTrigger(j.TriggerType, j.TriggerConfig, m.cfg.Location())
	if err != nil {
		return err
	}
	if o := j.ExecutionOptions; o != nil && o.Jitter > 0 && trigger.jitter == 0 {
		trigger.jitter = time.Duration(o.Jitter) * time.Second
	}
	id := j.ID
	m.engine.Add(j.LiveID(), trigger, j.ExecutionOptions.Policy(), func(ctx context.Context) {
		// Run errors are recorded on the row; the engine has no use for
		// them.
		_ = m.executor.Execute(ctx, id, false)
	})
	return nil
}

// AddSchedule upserts a schedule by its natural key and registers the live
// job. The persisted row is returned.
func (m *Manager) AddSchedule(ctx context.Context, j *Job) (*Job, error) {
	j.IsEnabled = true
	m.applyPluginDefaults(j)
	if err := m.validate(j); err != nil {
		return nil, err
	}
	saved, err := m.store.Upsert(ctx, j)
	if err != nil {
		return nil, err
	}
	if err := m.addLive(saved); err != nil {
		return nil, err
	}
	logger.Infow("Schedule saved",
		"schedule_id", saved.ID, "plugin", saved.PluginName,
		"target", saved.Description(), "trigger", saved.TriggerType)
	return saved, nil
}

// ScheduleOnce persists a one-off run of an ad-hoc handler under a synthetic
// plugin key. The row and the key are removed after a successful run.
func (m *Manager) ScheduleOnce(ctx context.Context, handler plugin.HandlerFunc, at time.Time, j *Job) (*Job, error) {
	syntheticName := OneOffPluginPrefix + uuid.NewString()
	if err := m.plugins.Register(&plugin.Registration{
		Name:    syntheticName,
		Handler: handler,
	}); err != nil {
		return nil, err
	}

	j.PluginName = syntheticName
	j.IsOneOff = true
	j.TriggerType = TriggerDate
	j.TriggerConfig = map[string]any{"run_date": at.Format(time.RFC3339)}
	saved, err := m.AddSchedule(ctx, j)
	if err != nil {
		m.plugins.Deregister(syntheticName)
		return nil, err
	}
	return saved, nil
}

// RunAt schedules an ephemeral one-shot in the live engine only. It is not
// persisted and does not survive a restart. The returned key can be removed.
func (m *Manager) RunAt(fn func(ctx context.Context), at time.Time) string {
	key := ephemeralIDPrefix + uuid.NewString()
	m.engine.Add(key, DateTrigger(at), PolicyAllow, fn)
	return key
}

// UpdateSchedule partially updates trigger and kwargs. Kwargs merge with the
// existing set before re-validation; the live job is re-registered.
func (m *Manager) UpdateSchedule(ctx context.Context, id int64, triggerType string, triggerConfig, kwargs map[string]any) (*Job, error) {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if triggerType != "" {
		j.TriggerType = triggerType
	}
	if triggerConfig != nil {
		j.TriggerConfig = triggerConfig
	}
	if kwargs != nil {
		if j.JobKwargs == nil {
			j.JobKwargs = make(map[string]any)
		}
		for k, v := range kwargs {
			j.JobKwargs[k] = v
		}
	}

	if err := m.validate(j); err != nil {
		return nil, err
	}
	if err := m.store.UpdateFields(ctx, j); err != nil {
		return nil, err
	}
	if j.IsEnabled {
		if err := m.addLive(j); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Pause disables the schedule and pauses the live job.
func (m *Manager) Pause(ctx context.Context, id int64) error {
	if err := m.store.SetEnabled(ctx, id, false); err != nil {
		return err
	}
	m.engine.Pause(liveID(id))
	return nil
}

// Resume re-enables the schedule and re-adds the live job if it was gone.
func (m *Manager) Resume(ctx context.Context, id int64) error {
	if err := m.store.SetEnabled(ctx, id, true); err != nil {
		return err
	}
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.engine.Has(j.LiveID()) {
		m.engine.Resume(j.LiveID())
		return nil
	}
	return m.addLive(j)
}

// Remove deletes the schedule and its live job.
func (m *Manager) Remove(ctx context.Context, id int64) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.engine.Remove(liveID(id))
	return nil
}

// TriggerNow runs the schedule immediately, bypassing is_enabled.
func (m *Manager) TriggerNow(ctx context.Context, id int64) error {
	return m.executor.Execute(ctx, id, true)
}

// GetSchedules returns rows matching the filter, paged.
func (m *Manager) GetSchedules(ctx context.Context, f Filter, page, pageSize int) ([]*Job, error) {
	return m.store.Query(ctx, f, page, pageSize)
}

// GetStatus reports one schedule's persisted and live state.
func (m *Manager) GetStatus(ctx context.Context, id int64) (*Status, error) {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Job:     j,
		Live:    m.engine.Has(j.LiveID()),
		Running: m.executor.Running(id),
	}
	if next, ok := m.engine.NextRun(j.LiveID()); ok {
		st.NextRun = &next
	}
	return st, nil
}

// StatusBulk reports persisted and live state for every schedule matching
// the filter.
func (m *Manager) StatusBulk(ctx context.Context, f Filter) ([]*Status, error) {
	jobs, err := m.store.Query(ctx, f, 0, 0)
	if err != nil {
		return nil, err
	}
	statuses := make([]*Status, 0, len(jobs))
	for _, j := range jobs {
		st := &Status{
			Job:     j,
			Live:    m.engine.Has(j.LiveID()),
			Running: m.executor.Running(j.ID),
		}
		if next, ok := m.engine.NextRun(j.LiveID()); ok {
			st.NextRun = &next
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// RegisterDaily declares a daily schedule created at startup if absent.
func (m *Manager) RegisterDaily(pluginName string, hour, minute int, targetType, targetID string, kwargs map[string]any) {
	m.declarative = append(m.declarative, declarativeJob{
		pluginName:  pluginName,
		targetType:  targetType,
		targetID:    targetID,
		triggerType: TriggerCron,
		triggerConfig: map[string]any{
			"minute": minute,
			"hour":   hour,
		},
		kwargs: kwargs,
	})
}

// RegisterInterval declares an interval schedule created at startup if
// absent.
func (m *Manager) RegisterInterval(pluginName string, every time.Duration, targetType, targetID string, kwargs map[string]any) {
	m.declarative = append(m.declarative, declarativeJob{
		pluginName:  pluginName,
		targetType:  targetType,
		targetID:    targetID,
		triggerType: TriggerInterval,
		triggerConfig: map[string]any{
			"seconds": every.Seconds(),
		},
		kwargs: kwargs,
	})
}

// Startup restores enabled rows into the engine, skipping unregistered
// plugins, then inserts declarative schedules that have no row yet, and
// starts the scan loop.
func (m *Manager) Startup(ctx context.Context) error {
	jobs, err := m.store.Enabled(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for _, j := range jobs {
		if _, ok := m.plugins.Lookup(j.PluginName); !ok {
			logger.Warnw("Skipping schedule for unregistered plugin",
				"schedule_id", j.ID, "plugin", j.PluginName)
			continue
		}
		if err := m.addLive(j); err != nil {
			logger.Errorw("Failed to restore schedule",
				"schedule_id", j.ID, "plugin", j.PluginName, "error", err)
			continue
		}
		restored++
	}
	logger.Infow("Schedules restored", "count", restored, "total", len(jobs))

	for _, d := range m.declarative {
		if err := m.ensureDeclarative(ctx, d); err != nil {
			logger.Errorw("Failed to create declarative schedule",
				"plugin", d.pluginName, "error", err)
		}
	}

	m.engine.Start(ctx)
	return nil
}

// ensureDeclarative inserts a declarative schedule only when no row with the
// same natural key exists; user-modified rows are never overwritten.
func (m *Manager) ensureDeclarative(ctx context.Context, d declarativeJob) error {
	_, err := m.store.FindByNaturalKey(ctx, d.pluginName, d.targetType, d.targetID, d.botID)
	if err == nil {
		return nil
	}
	if !errors.IsNotFoundError(err) {
		return err
	}
	_, err = m.AddSchedule(ctx, &Job{
		PluginName:       d.pluginName,
		Source:           SourcePluginDefault,
		BotID:            d.botID,
		TargetType:       d.targetType,
		TargetIdentifier: d.targetID,
		TriggerType:      d.triggerType,
		TriggerConfig:    d.triggerConfig,
		JobKwargs:        d.kwargs,
	})
	return err
}

// Shutdown stops the engine.
func (m *Manager) Shutdown() {
	m.engine.Stop()
}

// autoDisabled drops the live entry after the executor disabled the row.
func (m *Manager) autoDisabled(j *Job) {
	m.engine.Remove(j.LiveID())
	logger.Warnw("Schedule auto-disabled", "schedule_id", j.ID, "plugin", j.PluginName)
}

// oneOffDone cleans up after a successful one-off run.
func (m *Manager) oneOffDone(j *Job) {
	m.engine.Remove(j.LiveID())
	if strings.HasPrefix(j.PluginName, OneOffPluginPrefix) {
		m.plugins.Deregister(j.PluginName)
	}
}

func liveID(id int64) string {
	return (&Job{ID: id}).LiveID()
}
