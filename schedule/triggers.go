package schedule

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// cronParser accepts an optional seconds field in addition to the standard
// five cron fields.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Trigger computes fire times for one job. Exactly one of the kind-specific
// fields is populated, matching the trigger type.
type Trigger struct {
	Type string

	cronSchedule cron.Schedule
	period       time.Duration
	runDate      time.Time

	jitter    time.Duration
	startDate *time.Time
	endDate   *time.Time
	loc       *time.Location
}

// ParseTrigger builds a trigger from a job's trigger_type and trigger_config.
// defaultLoc applies when the config names no timezone.
func ParseTrigger(triggerType string, config map[string]any, defaultLoc *time.Location) (*Trigger, error) {
	if defaultLoc == nil {
		defaultLoc = time.Local
	}
	loc := defaultLoc
	if tz := stringField(config, "timezone"); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown timezone %q", tz)
		}
		loc = parsed
	}

	t := &Trigger{Type: triggerType, loc: loc}
	if jitter, ok := numberField(config, "jitter"); ok && jitter > 0 {
		t.jitter = time.Duration(jitter * float64(time.Second))
	}
	var err error
	if t.startDate, err = timeField(config, "start_date", loc); err != nil {
		return nil, err
	}
	if t.endDate, err = timeField(config, "end_date", loc); err != nil {
		return nil, err
	}

	switch triggerType {
	case TriggerCron:
		return parseCronTrigger(t, config)
	case TriggerInterval:
		return parseIntervalTrigger(t, config)
	case TriggerDate:
		return parseDateTrigger(t, config, loc)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown trigger type %q", triggerType)
	}
}

func parseCronTrigger(t *Trigger, config map[string]any) (*Trigger, error) {
	field := func(name, def string) string {
		if v := stringField(config, name); v != "" {
			return v
		}
		return def
	}

	spec := fmt.Sprintf("%s %s %s %s %s",
		field("minute", "*"),
		field("hour", "*"),
		field("day", "*"),
		field("month", "*"),
		field("day_of_week", "*"))
	if second := stringField(config, "second"); second != "" {
		spec = second + " " + spec
	}
	if t.loc != nil {
		spec = "CRON_TZ=" + t.loc.String() + " " + spec
	}

	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "invalid cron fields: %v", err)
	}
	t.cronSchedule = schedule
	return t, nil
}

func parseIntervalTrigger(t *Trigger, config map[string]any) (*Trigger, error) {
	var period time.Duration
	for name, unit := range map[string]time.Duration{
		"seconds": time.Second,
		"minutes": time.Minute,
		"hours":   time.Hour,
		"days":    24 * time.Hour,
		"weeks":   7 * 24 * time.Hour,
	} {
		if v, ok := numberField(config, name); ok {
			period += time.Duration(v * float64(unit))
		}
	}
	if period <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "interval trigger requires a positive period")
	}
	t.period = period
	return t, nil
}

func parseDateTrigger(t *Trigger, config map[string]any, loc *time.Location) (*Trigger, error) {
	runDate, err := timeField(config, "run_date", loc)
	if err != nil {
		return nil, err
	}
	if runDate == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "date trigger requires run_date")
	}
	t.runDate = *runDate
	return t, nil
}

// Next returns the first fire time strictly after the given instant, or
// ok=false when the trigger has no further runs.
func (t *Trigger) Next(after time.Time) (time.Time, bool) {
	if t.startDate != nil && after.Before(*t.startDate) {
		after = t.startDate.Add(-time.Nanosecond)
	}

	var next time.Time
	switch t.Type {
	case TriggerCron:
		next = t.cronSchedule.Next(after)
		if next.IsZero() {
			return time.Time{}, false
		}
	case TriggerInterval:
		next = after.Add(t.period)
	case TriggerDate:
		if !after.Before(t.runDate) {
			return time.Time{}, false
		}
		next = t.runDate
	default:
		return time.Time{}, false
	}

	if t.endDate != nil && next.After(*t.endDate) {
		return time.Time{}, false
	}
	return next, true
}

// Jitter is the trigger's fire-delay ceiling; zero means fire exactly on
// time.
func (t *Trigger) Jitter() time.Duration {
	return t.jitter
}

// OneShot reports whether the trigger fires at most once.
func (t *Trigger) OneShot() bool {
	return t.Type == TriggerDate
}

// DateTrigger builds a one-shot trigger for an absolute run time.
func DateTrigger(at time.Time) *Trigger {
	return &Trigger{Type: TriggerDate, runDate: at, loc: at.Location()}
}

// IntervalTrigger builds a fixed-period trigger.
func IntervalTrigger(period time.Duration) *Trigger {
	return &Trigger{Type: TriggerInterval, period: period}
}

func stringField(config map[string]any, name string) string {
	switch v := config[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func numberField(config map[string]any, name string) (float64, bool) {
	switch v := config[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func timeField(config map[string]any, name string, loc *time.Location) (*time.Time, error) {
	raw := stringField(config, name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return &parsed, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrInvalidRequest, "cannot parse %s %q", name, raw)
}
