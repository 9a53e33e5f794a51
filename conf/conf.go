// Package conf loads zhenxun-core configuration via Viper.
//
// Precedence: defaults < config file (zhenxun.toml) < ZHENXUN_* environment
// variables.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"SchedulerManager"`
	Hook      HookConfig      `mapstructure:"hook"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// DatabaseConfig locates the sqlite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig controls logger output.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// SchedulerConfig carries the SchedulerManager.* keys.
type SchedulerConfig struct {
	AllGroupsConcurrencyLimit int     `mapstructure:"all_groups_concurrency_limit"`
	DefaultJitterSeconds      int     `mapstructure:"default_jitter_seconds"`
	DefaultSpreadSeconds      float64 `mapstructure:"default_spread_seconds"`
	DefaultIntervalSeconds    int     `mapstructure:"default_interval_seconds"`
	Timezone                  string  `mapstructure:"scheduler_timezone"`
}

// Location resolves the configured scheduler timezone, falling back to the
// process-local zone when unset or invalid.
func (c SchedulerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// HookConfig carries the hook.* keys consumed by the authorization pipeline.
type HookConfig struct {
	FilterBot         bool   `mapstructure:"filter_bot"`
	CheckNoticeInfoCD int    `mapstructure:"check_notice_info_cd"`
	BanResult         string `mapstructure:"ban_result"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Mode          string `mapstructure:"mode"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the configuration, caching the result for the process lifetime.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	return initViper()
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("ZHENXUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path := findProjectConfig(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		// Best effort; defaults and env vars still apply when the file is
		// unreadable.
		_ = v.ReadInConfig()
	}

	viperInstance = v
	return v
}

// findProjectConfig searches for zhenxun.toml by walking up the directory tree.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "zhenxun.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
