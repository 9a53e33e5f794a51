package auth

import (
	"context"
	"sync"
	"time"

	"github.com/zhenxun-org/zhenxun-core/limiter"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// limitsMemoTTL bounds how long a plugin's declared limits are served from
// memory before re-reading the console table.
const limitsMemoTTL = 60 * time.Second

type limitsEntry struct {
	limits    []*PluginLimit
	fetchedAt time.Time
}

// LimitManager enforces the usage limits a plugin declares in the console:
// cooldowns, daily counts, and self-healing user blocks. Limiter state is
// process-local and created lazily per limit row.
type LimitManager struct {
	console *Console
	loc     *time.Location

	mu        sync.Mutex
	memo      map[string]limitsEntry
	cooldowns map[int64]*limiter.Cooldown
	counts    map[int64]*limiter.Count
	rates     map[int64]*limiter.Rate
	blocks    map[string]*limiter.UserBlock
	timeNow   func() time.Time
}

// NewLimitManager creates a limit manager. loc decides when daily counts
// roll over.
func NewLimitManager(console *Console, loc *time.Location) *LimitManager {
	if loc == nil {
		loc = time.Local
	}
	return &LimitManager{
		console:   console,
		loc:       loc,
		memo:      make(map[string]limitsEntry),
		cooldowns: make(map[int64]*limiter.Cooldown),
		counts:    make(map[int64]*limiter.Count),
		rates:     make(map[int64]*limiter.Rate),
		blocks:    make(map[string]*limiter.UserBlock),
		timeNow:   time.Now,
	}
}

// limitKey derives the limiter key from the limit's watch scope.
func limitKey(l *PluginLimit, s *Session) string {
	switch l.WatchType {
	case WatchGroup:
		if s.GroupID != "" {
			return s.GroupID
		}
		return s.UserID
	case WatchAll:
		return "global"
	default:
		return s.UserID
	}
}

func (m *LimitManager) pluginLimits(ctx context.Context, pluginName string) ([]*PluginLimit, error) {
	m.mu.Lock()
	entry, ok := m.memo[pluginName]
	m.mu.Unlock()
	if ok && m.timeNow().Sub(entry.fetchedAt) < limitsMemoTTL {
		return entry.limits, nil
	}

	limits, err := m.console.PluginLimits(ctx, pluginName)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.memo[pluginName] = limitsEntry{limits: limits, fetchedAt: m.timeNow()}
	m.mu.Unlock()
	return limits, nil
}

func (m *LimitManager) cooldownFor(l *PluginLimit) *limiter.Cooldown {
	m.mu.Lock()
	defer m.mu.Unlock()
	cd, ok := m.cooldowns[l.ID]
	if !ok {
		cd = limiter.NewCooldown(time.Duration(l.CD) * time.Second)
		m.cooldowns[l.ID] = cd
	}
	return cd
}

func (m *LimitManager) countFor(l *PluginLimit) *limiter.Count {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[l.ID]
	if !ok {
		c = limiter.NewCount(l.MaxCount, m.loc)
		m.counts[l.ID] = c
	}
	return c
}

func (m *LimitManager) rateFor(l *PluginLimit) *limiter.Rate {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rates[l.ID]
	if !ok {
		r = limiter.NewRate(l.MaxCount, time.Duration(l.CD)*time.Second)
		m.rates[l.ID] = r
	}
	return r
}

func (m *LimitManager) blockFor(pluginName string) *limiter.UserBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[pluginName]
	if !ok {
		b = limiter.NewUserBlock()
		m.blocks[pluginName] = b
	}
	return b
}

// Check evaluates every enabled limit for the plugin. The first exceeded
// limit skips the plugin; otherwise each limiter records the invocation
// (cooldown started, count bumped, block token taken).
func (m *LimitManager) Check(ctx context.Context, s *Session) error {
	limits, err := m.pluginLimits(ctx, s.PluginName)
	if err != nil {
		return err
	}

	for _, l := range limits {
		key := limitKey(l, s)
		switch l.LimitType {
		case LimitCD:
			cd := m.cooldownFor(l)
			if !cd.Check(key) {
				return Skip("%s", limitMessage(l, "操作过于频繁, 请稍后再试"))
			}
			cd.Start(key, 0)
		case LimitCount:
			c := m.countFor(l)
			if !c.Check(key) {
				return Skip("%s", limitMessage(l, "今日次数已用完"))
			}
			c.Increase(key, 1)
		case LimitRate:
			// max_count invocations per cd-second sliding window. A
			// successful check records the call.
			r := m.rateFor(l)
			if !r.Check(key) {
				return Skip("%s", limitMessage(l, "操作过于频繁, 请稍后再试"))
			}
		case LimitBlock:
			b := m.blockFor(s.PluginName)
			if !b.Check(key) {
				return Skip("%s", limitMessage(l, "正在处理上一条指令, 请稍等"))
			}
			b.SetTrue(key)
		default:
			logger.Warnw("Unknown limit type, skipping",
				"plugin", s.PluginName, "limit_type", l.LimitType)
		}
	}
	return nil
}

// Unblock releases any block token the plugin may hold for the session.
// Called on every pipeline exit path so later invocations are not stuck.
func (m *LimitManager) Unblock(s *Session) {
	m.mu.Lock()
	b, ok := m.blocks[s.PluginName]
	m.mu.Unlock()
	if !ok {
		return
	}
	b.SetFalse(s.UserID)
	if s.GroupID != "" {
		b.SetFalse(s.GroupID)
	}
	b.SetFalse("global")
}

func limitMessage(l *PluginLimit, fallback string) string {
	if l.Result != "" {
		return l.Result
	}
	return fallback
}
