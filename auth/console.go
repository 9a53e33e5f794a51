package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/zhenxun-org/zhenxun-core/cache"
	"github.com/zhenxun-org/zhenxun-core/errors"
)

// Cache namespaces for console reads.
const (
	userCacheNamespace   = "users"
	pluginCacheNamespace = "plugins"
)

// User is a console user record.
type User struct {
	UserID          string `json:"user_id"`
	PermissionLevel int    `json:"permission_level"`
	Gold            int    `json:"gold"`
	IsSuperuser     bool   `json:"is_superuser"`
}

// Group is a console group record.
type Group struct {
	GroupID string `json:"group_id"`
	Level   int    `json:"level"`
	Status  int    `json:"status"`
}

// Plugin block types.
const (
	BlockAll     = "ALL"
	BlockGroup   = "GROUP"
	BlockPrivate = "PRIVATE"
)

// PluginState is the console switch row for a plugin.
type PluginState struct {
	PluginName     string `json:"plugin_name"`
	Status         bool   `json:"status"`
	BlockType      string `json:"block_type"`
	AdminLevel     int    `json:"admin_level"`
	CostGold       int    `json:"cost_gold"`
	IgnoreProhibit bool   `json:"ignore_prohibit"`
}

// Limit kinds and scopes for PluginLimit.
const (
	LimitCD    = "cd"
	LimitCount = "count"
	LimitBlock = "block"
	LimitRate  = "rate"

	WatchUser  = "user"
	WatchGroup = "group"
	WatchAll   = "all"
)

// PluginLimit declares one usage limit for a plugin.
type PluginLimit struct {
	ID         int64  `json:"id"`
	PluginName string `json:"plugin_name"`
	LimitType  string `json:"limit_type"`
	WatchType  string `json:"watch_type"`
	Status     bool   `json:"status"`
	Result     string `json:"result"`
	CD         int    `json:"cd"`
	MaxCount   int    `json:"max_count"`
}

// Console fronts the console tables consumed by the pipeline checks, with
// read-through caching and negative caching for user and plugin rows.
type Console struct {
	db          *sql.DB
	userCache   *cache.Cache[*User]
	pluginCache *cache.Cache[*PluginState]
}

// NewConsole creates the console store.
func NewConsole(db *sql.DB, cacheManager *cache.Manager) *Console {
	cacheManager.RegisterNamespace(userCacheNamespace, "user_id")
	cacheManager.RegisterNamespace(pluginCacheNamespace, "plugin_name")
	return &Console{
		db:          db,
		userCache:   cache.NewCache[*User](cacheManager, userCacheNamespace),
		pluginCache: cache.NewCache[*PluginState](cacheManager, pluginCacheNamespace),
	}
}

// GetUser returns the user row, read through the cache. A missing row is
// negative-cached and returns ErrNotFound.
func (c *Console) GetUser(ctx context.Context, userID string) (*User, error) {
	fields := map[string]string{"user_id": userID}
	if cached, hit, err := c.userCache.Get(ctx, fields); err == nil {
		switch hit {
		case cache.HitValue:
			return cached, nil
		case cache.HitNull:
			return nil, errors.Wrapf(errors.ErrNotFound, "user %s", userID)
		}
	}

	var u User
	var superuser int
	err := c.db.QueryRowContext(ctx, `
		SELECT user_id, permission_level, gold, is_superuser FROM console_users WHERE user_id = ?`,
		userID).Scan(&u.UserID, &u.PermissionLevel, &u.Gold, &superuser)
	if err == sql.ErrNoRows {
		_ = c.userCache.SetNull(ctx, fields)
		return nil, errors.Wrapf(errors.ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get user %s", userID)
	}
	u.IsSuperuser = superuser != 0

	_ = c.userCache.Set(ctx, fields, &u, 0)
	return &u, nil
}

// UpsertUser writes a user row and invalidates its cache entry.
func (c *Console) UpsertUser(ctx context.Context, u *User) error {
	superuser := 0
	if u.IsSuperuser {
		superuser = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO console_users (user_id, permission_level, gold, is_superuser)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			permission_level = excluded.permission_level,
			gold = excluded.gold,
			is_superuser = excluded.is_superuser`,
		u.UserID, u.PermissionLevel, u.Gold, superuser)
	if err != nil {
		return errors.Wrapf(err, "upsert user %s", u.UserID)
	}
	return c.userCache.Delete(ctx, map[string]string{"user_id": u.UserID})
}

// DeductGold removes up to amount gold from the user, clamped at zero.
func (c *Console) DeductGold(ctx context.Context, userID string, amount int) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE console_users SET gold = MAX(0, gold - ?) WHERE user_id = ?`,
		amount, userID)
	if err != nil {
		return errors.Wrapf(err, "deduct gold from %s", userID)
	}
	return c.userCache.Delete(ctx, map[string]string{"user_id": userID})
}

// GetGroup returns the group row; ErrNotFound when absent.
func (c *Console) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	var g Group
	err := c.db.QueryRowContext(ctx, `
		SELECT group_id, level, status FROM console_groups WHERE group_id = ?`,
		groupID).Scan(&g.GroupID, &g.Level, &g.Status)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "group %s", groupID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get group %s", groupID)
	}
	return &g, nil
}

// UpsertGroup writes a group row.
func (c *Console) UpsertGroup(ctx context.Context, g *Group) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO console_groups (group_id, level, status) VALUES (?, ?, ?)
		ON CONFLICT (group_id) DO UPDATE SET level = excluded.level, status = excluded.status`,
		g.GroupID, g.Level, g.Status)
	if err != nil {
		return errors.Wrapf(err, "upsert group %s", g.GroupID)
	}
	return nil
}

// IsBanned reports whether the user or group holds an unexpired ban.
// Duration -1 is permanent.
func (c *Console) IsBanned(ctx context.Context, userID, groupID string) (bool, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT ban_time, duration FROM console_bans
		WHERE (user_id = ? AND user_id != '') OR (group_id = ? AND group_id != '')`,
		userID, groupID)
	if err != nil {
		return false, errors.Wrap(err, "query bans")
	}
	defer rows.Close()

	now := time.Now()
	for rows.Next() {
		var banTime string
		var duration int64
		if err := rows.Scan(&banTime, &duration); err != nil {
			return false, errors.Wrap(err, "scan ban")
		}
		if duration < 0 {
			return true, nil
		}
		start, err := time.Parse(time.RFC3339, banTime)
		if err != nil {
			return false, errors.Wrap(err, "parse ban_time")
		}
		if now.Before(start.Add(time.Duration(duration) * time.Second)) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Ban records a ban. Duration -1 is permanent.
func (c *Console) Ban(ctx context.Context, userID, groupID string, duration int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO console_bans (user_id, group_id, ban_time, duration) VALUES (?, ?, ?, ?)`,
		userID, groupID, time.Now().Format(time.RFC3339), duration)
	if err != nil {
		return errors.Wrap(err, "insert ban")
	}
	return nil
}

// GetPluginState returns the plugin switch row, read through the cache.
// A missing row is negative-cached and returns ErrNotFound.
func (c *Console) GetPluginState(ctx context.Context, pluginName string) (*PluginState, error) {
	fields := map[string]string{"plugin_name": pluginName}
	if cached, hit, err := c.pluginCache.Get(ctx, fields); err == nil {
		switch hit {
		case cache.HitValue:
			return cached, nil
		case cache.HitNull:
			return nil, errors.Wrapf(errors.ErrNotFound, "plugin %s", pluginName)
		}
	}

	var p PluginState
	var status, ignoreProhibit int
	var blockType sql.NullString
	err := c.db.QueryRowContext(ctx, `
		SELECT plugin_name, status, block_type, admin_level, cost_gold, ignore_prohibit
		FROM console_plugin_states WHERE plugin_name = ?`,
		pluginName).Scan(&p.PluginName, &status, &blockType, &p.AdminLevel, &p.CostGold, &ignoreProhibit)
	if err == sql.ErrNoRows {
		_ = c.pluginCache.SetNull(ctx, fields)
		return nil, errors.Wrapf(errors.ErrNotFound, "plugin %s", pluginName)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get plugin state %s", pluginName)
	}
	p.Status = status != 0
	p.IgnoreProhibit = ignoreProhibit != 0
	p.BlockType = blockType.String

	_ = c.pluginCache.Set(ctx, fields, &p, 0)
	return &p, nil
}

// UpsertPluginState writes a plugin switch row and invalidates its cache
// entry.
func (c *Console) UpsertPluginState(ctx context.Context, p *PluginState) error {
	status, ignoreProhibit := 0, 0
	if p.Status {
		status = 1
	}
	if p.IgnoreProhibit {
		ignoreProhibit = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO console_plugin_states (plugin_name, status, block_type, admin_level, cost_gold, ignore_prohibit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (plugin_name) DO UPDATE SET
			status = excluded.status,
			block_type = excluded.block_type,
			admin_level = excluded.admin_level,
			cost_gold = excluded.cost_gold,
			ignore_prohibit = excluded.ignore_prohibit`,
		p.PluginName, status, nullable(p.BlockType), p.AdminLevel, p.CostGold, ignoreProhibit)
	if err != nil {
		return errors.Wrapf(err, "upsert plugin state %s", p.PluginName)
	}
	return c.pluginCache.Delete(ctx, map[string]string{"plugin_name": p.PluginName})
}

// IsPluginBlockedInGroup reports a per-group disable.
func (c *Console) IsPluginBlockedInGroup(ctx context.Context, pluginName, groupID string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM console_plugin_group_blocks WHERE plugin_name = ? AND group_id = ?`,
		pluginName, groupID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query group blocks")
	}
	return n > 0, nil
}

// IsPluginAllowedInGroup is the scheduler-facing admission view of the
// group-block table: true when the plugin may run in the group.
func (c *Console) IsPluginAllowedInGroup(ctx context.Context, pluginName, groupID string) (bool, error) {
	blocked, err := c.IsPluginBlockedInGroup(ctx, pluginName, groupID)
	return !blocked, err
}

// SetPluginGroupBlock adds or removes a per-group disable.
func (c *Console) SetPluginGroupBlock(ctx context.Context, pluginName, groupID string, blocked bool) error {
	var err error
	if blocked {
		_, err = c.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO console_plugin_group_blocks (plugin_name, group_id) VALUES (?, ?)`,
			pluginName, groupID)
	} else {
		_, err = c.db.ExecContext(ctx, `
			DELETE FROM console_plugin_group_blocks WHERE plugin_name = ? AND group_id = ?`,
			pluginName, groupID)
	}
	if err != nil {
		return errors.Wrap(err, "set group block")
	}
	return nil
}

// IsPluginBlockedForBot reports a per-bot disable.
func (c *Console) IsPluginBlockedForBot(ctx context.Context, pluginName, botID string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM console_plugin_bot_blocks WHERE plugin_name = ? AND bot_id = ?`,
		pluginName, botID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query bot blocks")
	}
	return n > 0, nil
}

// SetPluginBotBlock adds or removes a per-bot disable.
func (c *Console) SetPluginBotBlock(ctx context.Context, pluginName, botID string, blocked bool) error {
	var err error
	if blocked {
		_, err = c.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO console_plugin_bot_blocks (plugin_name, bot_id) VALUES (?, ?)`,
			pluginName, botID)
	} else {
		_, err = c.db.ExecContext(ctx, `
			DELETE FROM console_plugin_bot_blocks WHERE plugin_name = ? AND bot_id = ?`,
			pluginName, botID)
	}
	if err != nil {
		return errors.Wrap(err, "set bot block")
	}
	return nil
}

// PluginLimits returns the enabled limits declared for a plugin.
func (c *Console) PluginLimits(ctx context.Context, pluginName string) ([]*PluginLimit, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, plugin_name, limit_type, watch_type, status, result, cd, max_count
		FROM console_plugin_limits WHERE plugin_name = ? AND status = 1`,
		pluginName)
	if err != nil {
		return nil, errors.Wrapf(err, "query limits for %s", pluginName)
	}
	defer rows.Close()

	var limits []*PluginLimit
	for rows.Next() {
		var l PluginLimit
		var status int
		var result sql.NullString
		if err := rows.Scan(&l.ID, &l.PluginName, &l.LimitType, &l.WatchType, &status, &result, &l.CD, &l.MaxCount); err != nil {
			return nil, errors.Wrap(err, "scan limit")
		}
		l.Status = status != 0
		l.Result = result.String
		limits = append(limits, &l)
	}
	return limits, rows.Err()
}

// AddPluginLimit declares a usage limit.
func (c *Console) AddPluginLimit(ctx context.Context, l *PluginLimit) error {
	status := 0
	if l.Status {
		status = 1
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO console_plugin_limits (plugin_name, limit_type, watch_type, status, result, cd, max_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.PluginName, l.LimitType, l.WatchType, status, nullable(l.Result), l.CD, l.MaxCount)
	if err != nil {
		return errors.Wrapf(err, "add limit for %s", l.PluginName)
	}
	l.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "last insert id")
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
