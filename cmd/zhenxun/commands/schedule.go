package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhenxun-org/zhenxun-core/plugin"
	"github.com/zhenxun-org/zhenxun-core/schedule"
)

// ScheduleCmd groups the scheduler admin subcommands.
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and manage persistent schedules",
	Long: `Manage the durable scheduler.

Targets are selected with -g (group), -u (user), -t (tag), --all (every
group the bot sees), or --global. Triggers are declared with --cron,
--interval, --date, or --daily.

Examples:
  zhenxun schedule view -p greet --page 2
  zhenxun schedule set -p greet -g 123 --daily 08:30 --kwargs "msg=早上好"
  zhenxun schedule set -p cleanup --all --interval 6h
  zhenxun schedule pause 12
  zhenxun schedule trigger 12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleViewCmd = &cobra.Command{
	Use:   "view",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		page, _ := cmd.Flags().GetInt("page")
		jobs, err := a.scheduler.GetSchedules(context.Background(), filterFromFlags(cmd), page, 15)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No schedules found")
			return nil
		}
		for _, j := range jobs {
			printJob(j)
		}
		return nil
	},
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pluginName, _ := cmd.Flags().GetString("plugin")
		if pluginName == "" {
			return fmt.Errorf("-p <plugin> is required")
		}
		targetType, targetID, err := targetFromFlags(cmd)
		if err != nil {
			return err
		}
		triggerType, triggerConfig, err := triggerFromFlags(cmd)
		if err != nil {
			return err
		}
		kwargsRaw, _ := cmd.Flags().GetString("kwargs")
		botID, _ := cmd.Flags().GetString("bot")

		j := &schedule.Job{
			PluginName:       pluginName,
			BotID:            botID,
			TargetType:       targetType,
			TargetIdentifier: targetID,
			TriggerType:      triggerType,
			TriggerConfig:    triggerConfig,
			JobKwargs:        parseKwargs(kwargsRaw),
		}
		saved, err := a.scheduler.AddSchedule(context.Background(), j)
		if err != nil {
			return err
		}
		fmt.Printf("Schedule %d saved for plugin %s (%s)\n", saved.ID, saved.PluginName, saved.Description())
		return nil
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete schedules by id or by filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkOp(cmd, args, "deleted", func(a *app, ctx context.Context, id int64) error {
			return a.scheduler.Remove(ctx, id)
		}, func(a *app, ctx context.Context, f schedule.Filter) (int, error) {
			return a.scheduler.Target(f).Remove(ctx)
		})
	},
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause schedules by id or by filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkOp(cmd, args, "paused", func(a *app, ctx context.Context, id int64) error {
			return a.scheduler.Pause(ctx, id)
		}, func(a *app, ctx context.Context, f schedule.Filter) (int, error) {
			return a.scheduler.Target(f).Pause(ctx)
		})
	},
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume schedules by id or by filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkOp(cmd, args, "resumed", func(a *app, ctx context.Context, id int64) error {
			return a.scheduler.Resume(ctx, id)
		}, func(a *app, ctx context.Context, f schedule.Filter) (int, error) {
			return a.scheduler.Target(f).Resume(ctx)
		})
	},
}

var scheduleTriggerCmd = &cobra.Command{
	Use:   "trigger <id>",
	Short: "Run a schedule immediately, bypassing its enabled flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid schedule id %q", args[0])
		}
		if err := a.scheduler.TriggerNow(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Schedule %d triggered\n", id)
		return nil
	},
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Partially update a schedule's trigger or kwargs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid schedule id %q", args[0])
		}

		triggerType := ""
		var triggerConfig map[string]any
		if triggerSpecified(cmd) {
			triggerType, triggerConfig, err = triggerFromFlags(cmd)
			if err != nil {
				return err
			}
		}
		kwargsRaw, _ := cmd.Flags().GetString("kwargs")
		var kwargs map[string]any
		if kwargsRaw != "" {
			kwargs = parseKwargs(kwargsRaw)
		}

		updated, err := a.scheduler.UpdateSchedule(context.Background(), id, triggerType, triggerConfig, kwargs)
		if err != nil {
			return err
		}
		fmt.Printf("Schedule %d updated\n", updated.ID)
		return nil
	},
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one schedule's persisted and live state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid schedule id %q", args[0])
		}
		st, err := a.scheduler.GetStatus(context.Background(), id)
		if err != nil {
			return err
		}
		printJob(st.Job)
		fmt.Printf("  Live: %v  Running: %v\n", st.Live, st.Running)
		if st.NextRun != nil {
			fmt.Printf("  Next run: %s\n", st.NextRun.Format(time.RFC3339))
		}
		return nil
	},
}

var schedulePluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List schedulable plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := plugin.Default.Names()
		if len(names) == 0 {
			fmt.Println("No plugins registered")
			return nil
		}
		for _, name := range names {
			if reg, ok := plugin.Default.Lookup(name); ok && reg.CLIUsage != "" {
				fmt.Printf("%s\n    %s\n", name, reg.CLIUsage)
				continue
			}
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{
		scheduleViewCmd, scheduleSetCmd, scheduleDeleteCmd, schedulePauseCmd,
		scheduleResumeCmd, scheduleUpdateCmd,
	} {
		cmd.Flags().StringP("plugin", "p", "", "Plugin name")
		cmd.Flags().StringP("group", "g", "", "Target group id")
		cmd.Flags().StringP("user", "u", "", "Target user id")
		cmd.Flags().StringP("tag", "t", "", "Target tag name")
		cmd.Flags().Bool("all", false, "Target every group the bot sees")
		cmd.Flags().Bool("global", false, "Global target (no group context)")
		cmd.Flags().String("bot", "", "Bind the schedule to one bot id")
	}
	for _, cmd := range []*cobra.Command{scheduleSetCmd, scheduleUpdateCmd} {
		cmd.Flags().String("cron", "", `Cron fields "minute hour day month day_of_week"`)
		cmd.Flags().String("interval", "", `Fixed period, e.g. "30m" or "6h"`)
		cmd.Flags().String("date", "", "One-shot run time, RFC3339")
		cmd.Flags().String("daily", "", `Daily run time "HH:MM"`)
		cmd.Flags().String("kwargs", "", `Plugin kwargs "k=v;k=v"`)
	}
	scheduleViewCmd.Flags().Int("page", 1, "Result page")

	ScheduleCmd.AddCommand(scheduleViewCmd, scheduleSetCmd, scheduleDeleteCmd,
		schedulePauseCmd, scheduleResumeCmd, scheduleTriggerCmd,
		scheduleUpdateCmd, scheduleStatusCmd, schedulePluginsCmd)
}

// bulkOp applies an operation to one id argument, or to every row matching
// the filter flags when no id is given.
func bulkOp(cmd *cobra.Command, args []string, verb string,
	one func(*app, context.Context, int64) error,
	many func(*app, context.Context, schedule.Filter) (int, error)) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid schedule id %q", args[0])
		}
		if err := one(a, ctx, id); err != nil {
			return err
		}
		fmt.Printf("Schedule %d %s\n", id, verb)
		return nil
	}

	f := filterFromFlags(cmd)
	if f.PluginName == "" && f.TargetType == "" && f.TargetIdentifier == "" && f.BotID == "" {
		return fmt.Errorf("an id or at least one filter flag is required")
	}
	n, err := many(a, ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("%d schedule(s) %s\n", n, verb)
	return nil
}

func filterFromFlags(cmd *cobra.Command) schedule.Filter {
	f := schedule.Filter{}
	f.PluginName, _ = cmd.Flags().GetString("plugin")
	f.BotID, _ = cmd.Flags().GetString("bot")
	if g, _ := cmd.Flags().GetString("group"); g != "" {
		f.TargetType = schedule.TargetGroup
		f.TargetIdentifier = g
	} else if u, _ := cmd.Flags().GetString("user"); u != "" {
		f.TargetType = schedule.TargetUser
		f.TargetIdentifier = u
	} else if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
		f.TargetType = schedule.TargetTag
		f.TargetIdentifier = tag
	} else if all, _ := cmd.Flags().GetBool("all"); all {
		f.TargetType = schedule.TargetAllGroups
	} else if global, _ := cmd.Flags().GetBool("global"); global {
		f.TargetType = schedule.TargetGlobal
	}
	return f
}

func targetFromFlags(cmd *cobra.Command) (string, string, error) {
	if g, _ := cmd.Flags().GetString("group"); g != "" {
		return schedule.TargetGroup, g, nil
	}
	if u, _ := cmd.Flags().GetString("user"); u != "" {
		return schedule.TargetUser, u, nil
	}
	if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
		return schedule.TargetTag, tag, nil
	}
	if all, _ := cmd.Flags().GetBool("all"); all {
		return schedule.TargetAllGroups, "", nil
	}
	if global, _ := cmd.Flags().GetBool("global"); global {
		return schedule.TargetGlobal, "", nil
	}
	return "", "", fmt.Errorf("a target is required: -g, -u, -t, --all, or --global")
}

func triggerSpecified(cmd *cobra.Command) bool {
	for _, name := range []string{"cron", "interval", "date", "daily"} {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			return true
		}
	}
	return false
}

func triggerFromFlags(cmd *cobra.Command) (string, map[string]any, error) {
	if cronSpec, _ := cmd.Flags().GetString("cron"); cronSpec != "" {
		fields := strings.Fields(cronSpec)
		if len(fields) != 5 {
			return "", nil, fmt.Errorf(`--cron needs five fields "minute hour day month day_of_week"`)
		}
		return schedule.TriggerCron, map[string]any{
			"minute": fields[0], "hour": fields[1], "day": fields[2],
			"month": fields[3], "day_of_week": fields[4],
		}, nil
	}
	if interval, _ := cmd.Flags().GetString("interval"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return "", nil, fmt.Errorf("invalid --interval %q", interval)
		}
		return schedule.TriggerInterval, map[string]any{"seconds": d.Seconds()}, nil
	}
	if date, _ := cmd.Flags().GetString("date"); date != "" {
		if _, err := time.Parse(time.RFC3339, date); err != nil {
			return "", nil, fmt.Errorf("invalid --date %q, want RFC3339", date)
		}
		return schedule.TriggerDate, map[string]any{"run_date": date}, nil
	}
	if daily, _ := cmd.Flags().GetString("daily"); daily != "" {
		parts := strings.SplitN(daily, ":", 2)
		if len(parts) != 2 {
			return "", nil, fmt.Errorf(`invalid --daily %q, want "HH:MM"`, daily)
		}
		return schedule.TriggerCron, map[string]any{
			"minute": strings.TrimPrefix(parts[1], "0"),
			"hour":   strings.TrimPrefix(parts[0], "0"),
		}, nil
	}
	return "", nil, fmt.Errorf("a trigger is required: --cron, --interval, --date, or --daily")
}

// parseKwargs splits "k=v;k=v" into a kwargs map. Values stay strings; the
// plugin's validator decides what they mean.
func parseKwargs(raw string) map[string]any {
	kwargs := make(map[string]any)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		kwargs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return kwargs
}

func printJob(j *schedule.Job) {
	status := "enabled"
	if !j.IsEnabled {
		status = "paused"
	}
	fmt.Printf("[%d] %s -> %s  trigger=%s  %s\n",
		j.ID, j.PluginName, j.Description(), j.TriggerType, status)
	if j.LastRunAt != nil {
		fmt.Printf("  Last run: %s (%s, %d consecutive failures)\n",
			j.LastRunAt.Format(time.RFC3339), j.LastRunStatus, j.ConsecutiveFailures)
	}
}
