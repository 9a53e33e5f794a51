// Package schedule implements the durable, targetable scheduler: persistent
// job records, a live in-process trigger engine, and the execution path that
// fans one job invocation out to its resolved targets.
package schedule

import (
	"fmt"
	"time"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// Job sources.
const (
	SourceUser          = "USER"
	SourcePluginDefault = "PLUGIN_DEFAULT"
)

// Target types.
const (
	TargetGroup     = "GROUP"
	TargetUser      = "USER"
	TargetTag       = "TAG"
	TargetAllGroups = "ALL_GROUPS"
	TargetGlobal    = "GLOBAL"
)

// Trigger types.
const (
	TriggerCron     = "cron"
	TriggerInterval = "interval"
	TriggerDate     = "date"
)

// Run statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Concurrency policies for re-entry of the same live job.
const (
	PolicyAllow = "ALLOW"
	PolicySkip  = "SKIP"
	PolicyQueue = "QUEUE"
)

// Live job id prefixes.
const (
	liveIDPrefix      = "zhenxun_schedule_"
	ephemeralIDPrefix = "ephemeral_runtime_"
	// OneOffPluginPrefix marks synthetic plugin keys registered by
	// ScheduleOnce; they are deregistered after the run.
	OneOffPluginPrefix = "runtime_one_off__"
)

// ExecutionOptions tunes how one invocation fans out to its targets.
type ExecutionOptions struct {
	// Jitter delays the trigger fire by a uniform-random amount of seconds.
	Jitter int `json:"jitter,omitempty"`
	// Spread is the per-target random delay ceiling in concurrent mode.
	Spread *float64 `json:"spread,omitempty"`
	// Interval switches to serial mode with a fixed inter-target sleep.
	Interval float64 `json:"interval,omitempty"`
	// ConcurrencyPolicy decides what re-entry of a still-running job does.
	ConcurrencyPolicy string  `json:"concurrency_policy,omitempty"`
	Retries           int     `json:"retries,omitempty"`
	RetryDelaySeconds float64 `json:"retry_delay_seconds,omitempty"`
}

// Validate rejects contradictory option combinations.
func (o *ExecutionOptions) Validate() error {
	if o == nil {
		return nil
	}
	if o.Interval > 0 && o.Spread != nil {
		return errors.Wrap(errors.ErrInvalidRequest, "interval and spread cannot both be set")
	}
	if o.Interval < 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "interval must be non-negative")
	}
	if o.Spread != nil && *o.Spread <= 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "spread must be positive")
	}
	switch o.ConcurrencyPolicy {
	case "", PolicyAllow, PolicySkip, PolicyQueue:
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown concurrency policy %q", o.ConcurrencyPolicy)
	}
	if o.Retries < 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "retries must be non-negative")
	}
	return nil
}

// Policy returns the effective concurrency policy.
func (o *ExecutionOptions) Policy() string {
	if o == nil || o.ConcurrencyPolicy == "" {
		return PolicyAllow
	}
	return o.ConcurrencyPolicy
}

// Job is one persisted schedule row. The live engine entry is a projection
// of the enabled rows.
type Job struct {
	ID                  int64
	Name                string
	CreatedBy           string
	RequiredPermission  int
	Source              string
	BotID               string
	PluginName          string
	TargetType          string
	TargetIdentifier    string
	TriggerType         string
	TriggerConfig       map[string]any
	JobKwargs           map[string]any
	IsEnabled           bool
	IsOneOff            bool
	LastRunAt           *time.Time
	LastRunStatus       string
	ConsecutiveFailures int
	ExecutionOptions    *ExecutionOptions
	CreateTime          time.Time
}

// LiveID is the job's key in the live engine.
func (j *Job) LiveID() string {
	return fmt.Sprintf("%s%d", liveIDPrefix, j.ID)
}

// Validate checks the fields the store cannot default.
func (j *Job) Validate() error {
	if j.PluginName == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "plugin_name is required")
	}
	switch j.TargetType {
	case TargetGroup, TargetUser, TargetTag, TargetAllGroups, TargetGlobal:
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown target type %q", j.TargetType)
	}
	switch j.TargetType {
	case TargetGroup, TargetUser, TargetTag:
		if j.TargetIdentifier == "" {
			return errors.Wrapf(errors.ErrInvalidRequest, "target type %s requires an identifier", j.TargetType)
		}
	}
	switch j.TriggerType {
	case TriggerCron, TriggerInterval, TriggerDate:
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown trigger type %q", j.TriggerType)
	}
	return j.ExecutionOptions.Validate()
}

// Description renders a human-readable target label for CLI output.
func (j *Job) Description() string {
	switch j.TargetType {
	case TargetGroup:
		return fmt.Sprintf("群 %s", j.TargetIdentifier)
	case TargetUser:
		return fmt.Sprintf("用户 %s", j.TargetIdentifier)
	case TargetTag:
		return fmt.Sprintf("标签 %s", j.TargetIdentifier)
	case TargetAllGroups:
		return "所有群组"
	default:
		return "全局"
	}
}
