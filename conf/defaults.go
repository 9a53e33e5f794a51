package conf

import "github.com/spf13/viper"

// Cache backend modes.
const (
	CacheModeMemory = "MEMORY"
	CacheModeRedis  = "REDIS"
	CacheModeNone   = "NONE"
)

// SetDefaults applies the default configuration values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "zhenxun.db")
	v.SetDefault("log.json", false)

	v.SetDefault("SchedulerManager.all_groups_concurrency_limit", 5)
	v.SetDefault("SchedulerManager.default_jitter_seconds", 0)
	v.SetDefault("SchedulerManager.default_spread_seconds", 1.0)
	v.SetDefault("SchedulerManager.default_interval_seconds", 0)
	v.SetDefault("SchedulerManager.scheduler_timezone", "")

	v.SetDefault("hook.filter_bot", true)
	v.SetDefault("hook.check_notice_info_cd", 300)
	v.SetDefault("hook.ban_result", "才不会给你发消息.")

	v.SetDefault("cache.mode", CacheModeMemory)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
}
