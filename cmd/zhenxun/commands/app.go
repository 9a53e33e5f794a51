package commands

import (
	"database/sql"
	"fmt"

	"github.com/zhenxun-org/zhenxun-core/auth"
	"github.com/zhenxun-org/zhenxun-core/bot"
	"github.com/zhenxun-org/zhenxun-core/cache"
	"github.com/zhenxun-org/zhenxun-core/conf"
	"github.com/zhenxun-org/zhenxun-core/db"
	"github.com/zhenxun-org/zhenxun-core/logger"
	"github.com/zhenxun-org/zhenxun-core/plugin"
	"github.com/zhenxun-org/zhenxun-core/schedule"
	"github.com/zhenxun-org/zhenxun-core/settings"
	"github.com/zhenxun-org/zhenxun-core/tags"
)

// app holds the wired runtime components the commands operate on.
type app struct {
	cfg      *conf.Config
	database *sql.DB

	bots      *bot.Registry
	console   *auth.Console
	limits    *auth.LimitManager
	pipeline  *auth.Pipeline
	tags      *tags.Manager
	settings  *settings.Service
	scheduler *schedule.Manager
}

// newApp loads config, opens the database, and wires every component. The
// engine is not started; run does that.
func newApp() (*app, error) {
	cfg, err := conf.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}

	cacheManager := cache.NewManagerFromConfig(cfg.Cache)
	bots := bot.NewRegistry()

	console := auth.NewConsole(database, cacheManager)
	limits := auth.NewLimitManager(console, cfg.Scheduler.Location())
	pipeline := auth.NewPipeline(console, limits, bots, cfg.Hook)

	tagManager := tags.NewManager(tags.NewStore(database), tags.NewRuleRegistry(), cacheManager)
	settingsService := settings.NewService(settings.NewStore(database), cacheManager)

	store := schedule.NewStore(database)
	engine := schedule.NewEngine()
	executor := schedule.NewExecutor(store, bots, plugin.Default, tagManager, cfg.Scheduler,
		console.IsPluginAllowedInGroup)
	scheduler := schedule.NewManager(store, engine, executor, plugin.Default, cfg.Scheduler)

	return &app{
		cfg:       cfg,
		database:  database,
		bots:      bots,
		console:   console,
		limits:    limits,
		pipeline:  pipeline,
		tags:      tagManager,
		settings:  settingsService,
		scheduler: scheduler,
	}, nil
}

func (a *app) Close() {
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			logger.Warnw("Failed to close database", "error", err)
		}
	}
}
