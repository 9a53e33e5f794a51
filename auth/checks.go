package auth

import (
	"context"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// Check names, used for breakers and timing diagnostics.
const (
	CheckBan    = "auth_ban"
	CheckBot    = "auth_bot"
	CheckGroup  = "auth_group"
	CheckAdmin  = "auth_admin"
	CheckPlugin = "auth_plugin"
	CheckLimit  = "auth_limit"
)

// checkState is the shared input to the step-4 checks: the session plus the
// plugin and user rows fetched in step 1.
type checkState struct {
	session *Session
	plugin  *PluginState
	user    *User
}

type checkFunc func(ctx context.Context, p *Pipeline, st *checkState) error

// checkOrder fixes the set of concurrent checks. Order carries no execution
// meaning; it only makes diagnostics stable.
var checkOrder = []string{CheckBan, CheckBot, CheckGroup, CheckAdmin, CheckPlugin, CheckLimit}

var checkFuncs = map[string]checkFunc{
	CheckBan:    checkBan,
	CheckBot:    checkBot,
	CheckGroup:  checkGroup,
	CheckAdmin:  checkAdmin,
	CheckPlugin: checkPlugin,
	CheckLimit:  checkLimit,
}

// checkBan skips when the user or group holds an unexpired ban. The skip
// message is the configured ban notice; the pipeline rate-limits its
// delivery.
func checkBan(ctx context.Context, p *Pipeline, st *checkState) error {
	if st.plugin != nil && st.plugin.IgnoreProhibit {
		return Exempt("插件 %s 无视封禁", st.session.PluginName)
	}
	banned, err := p.console.IsBanned(ctx, st.session.UserID, st.session.GroupID)
	if err != nil {
		return errors.Wrap(err, "ban lookup")
	}
	if banned {
		return Skip("%s", p.banResult)
	}
	return nil
}

// checkBot skips when this bot has the plugin disabled.
func checkBot(ctx context.Context, p *Pipeline, st *checkState) error {
	if st.session.BotID == "" {
		return nil
	}
	blocked, err := p.console.IsPluginBlockedForBot(ctx, st.session.PluginName, st.session.BotID)
	if err != nil {
		return errors.Wrap(err, "bot block lookup")
	}
	if blocked {
		return Skip("机器人 %s 未启用该功能", st.session.BotID)
	}
	return nil
}

// checkGroup enforces group admission: the group must be known and active,
// and must not have the plugin switched off.
func checkGroup(ctx context.Context, p *Pipeline, st *checkState) error {
	if st.session.GroupID == "" {
		return nil
	}
	group, err := p.console.GetGroup(ctx, st.session.GroupID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return Skip("群组 %s 未注册", st.session.GroupID)
		}
		return errors.Wrap(err, "group lookup")
	}
	if group.Status != 1 || group.Level < 0 {
		return Skip("群组 %s 未启用", st.session.GroupID)
	}
	blocked, err := p.console.IsPluginBlockedInGroup(ctx, st.session.PluginName, st.session.GroupID)
	if err != nil {
		return errors.Wrap(err, "group block lookup")
	}
	if blocked {
		return Skip("该群未开启此功能")
	}
	return nil
}

// checkAdmin enforces the plugin's admin level. Group level takes precedence
// over the user's own level when a group context exists.
func checkAdmin(ctx context.Context, p *Pipeline, st *checkState) error {
	if st.plugin == nil || st.plugin.AdminLevel <= 0 {
		return nil
	}
	if st.user != nil && st.user.IsSuperuser && !st.plugin.IgnoreProhibit {
		return &IsSuperuserError{}
	}
	level := 0
	if st.user != nil {
		level = st.user.PermissionLevel
	}
	if st.session.GroupID != "" {
		if group, err := p.console.GetGroup(ctx, st.session.GroupID); err == nil {
			level = group.Level
		}
	}
	if level < st.plugin.AdminLevel {
		return Skip("权限不足, 需要 %d 级权限", st.plugin.AdminLevel)
	}
	return nil
}

// checkPlugin enforces the plugin's global switch and block type.
func checkPlugin(ctx context.Context, p *Pipeline, st *checkState) error {
	if st.plugin == nil {
		return nil
	}
	if !st.plugin.Status {
		return Skip("该功能已关闭")
	}
	switch st.plugin.BlockType {
	case BlockAll:
		return Skip("该功能已被禁用")
	case BlockGroup:
		if st.session.GroupID != "" {
			return Skip("该功能在群聊中已被禁用")
		}
	case BlockPrivate:
		if st.session.GroupID == "" {
			return Skip("该功能在私聊中已被禁用")
		}
	}
	return nil
}

// checkLimit runs the plugin's declared usage limits.
func checkLimit(ctx context.Context, p *Pipeline, st *checkState) error {
	return p.limits.Check(ctx, st.session)
}
