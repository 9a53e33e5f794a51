package auth

import (
	"context"
	"time"

	"github.com/zhenxun-org/zhenxun-core/bot"
	"github.com/zhenxun-org/zhenxun-core/conf"
	"github.com/zhenxun-org/zhenxun-core/errors"
	"github.com/zhenxun-org/zhenxun-core/limiter"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// Pipeline defaults.
const (
	// DefaultCheckTimeout is the per-check budget T. The whole pipeline is
	// bounded by 2*T.
	DefaultCheckTimeout = 3 * time.Second
	// slowPipelineThreshold triggers the per-check timing diagnostic.
	slowPipelineThreshold = 500 * time.Millisecond
)

// Timing markers recorded for checks that never ran to completion.
const (
	MarkerBreakerSkip = "熔断跳过"
	MarkerTimeout     = "超时"
)

// Session identifies one incoming event to authorize.
type Session struct {
	UserID     string
	GroupID    string
	BotID      string
	PluginName string
	// IsPoke suppresses the ban notice for poke-type events.
	IsPoke bool
}

// CheckTiming records one check's duration, or the marker explaining why it
// did not complete.
type CheckTiming struct {
	Duration time.Duration
	Marker   string
}

// Result is the pipeline outcome. Ignored instructs the platform to suppress
// the handler; Exempted means the handler runs without cost.
type Result struct {
	Ignored  bool
	Exempted bool
	Message  string
	Timings  map[string]CheckTiming
	Elapsed  time.Duration
}

// Pipeline composes the authorization checks. It never returns an error to
// the caller; unexpected faults degrade to "continue".
type Pipeline struct {
	console *Console
	limits  *LimitManager
	bots    *bot.Registry

	filterBot bool
	banResult string
	noticeCD  *limiter.Cooldown

	checkTimeout time.Duration
	breakers     map[string]*Breaker
	timeNow      func() time.Time
}

// NewPipeline creates the pipeline with one circuit breaker per check.
func NewPipeline(console *Console, limits *LimitManager, bots *bot.Registry, hook conf.HookConfig) *Pipeline {
	breakers := make(map[string]*Breaker, len(checkOrder))
	for _, name := range checkOrder {
		breakers[name] = NewBreaker(name)
	}
	return &Pipeline{
		console:      console,
		limits:       limits,
		bots:         bots,
		filterBot:    hook.FilterBot,
		banResult:    hook.BanResult,
		noticeCD:     limiter.NewCooldown(time.Duration(hook.CheckNoticeInfoCD) * time.Second),
		checkTimeout: DefaultCheckTimeout,
		breakers:     breakers,
		timeNow:      time.Now,
	}
}

// SetCheckTimeout overrides the per-check budget T.
func (p *Pipeline) SetCheckTimeout(d time.Duration) {
	p.checkTimeout = d
}

// Breaker returns the named check's circuit breaker.
func (p *Pipeline) Breaker(name string) *Breaker {
	return p.breakers[name]
}

type checkOutcome struct {
	name     string
	err      error
	duration time.Duration
	marker   string
}

// Check runs the full authorization pipeline for one event. It always
// returns a result; any user-block token taken by the limit check is
// released before returning.
func (p *Pipeline) Check(ctx context.Context, b bot.Bot, s *Session) *Result {
	start := p.timeNow()
	res := &Result{Timings: make(map[string]CheckTiming, len(checkOrder))}
	defer func() {
		p.limits.Unblock(s)
		res.Elapsed = p.timeNow().Sub(start)
		if res.Elapsed > slowPipelineThreshold {
			p.logSlow(s, res)
		}
	}()

	st := p.fetchState(ctx, s)
	if st.plugin == nil || st.user == nil {
		// Unknown plugin or user short-circuits: the handler runs
		// without cost and no check is consulted.
		res.Exempted = true
		logger.Debugw("Authorization exemption",
			"plugin", s.PluginName, "user", s.UserID,
			"has_plugin", st.plugin != nil, "has_user", st.user != nil)
		return res
	}

	superuser := st.user.IsSuperuser && !st.plugin.IgnoreProhibit

	costGold := 0
	if !superuser {
		costGold = st.plugin.CostGold
		if costGold > 0 && st.user.Gold < costGold {
			res.Ignored = true
			res.Message = "金币不足"
			p.notify(ctx, b, s, res.Message)
			return res
		}
	}

	if p.filterBot && s.UserID != "" && s.UserID != s.BotID {
		for _, id := range p.bots.IDs() {
			if id == s.UserID {
				res.Ignored = true
				return res
			}
		}
	}

	if skipped, message := p.runChecks(ctx, st, res.Timings); skipped {
		res.Ignored = true
		res.Message = message
		p.notify(ctx, b, s, message)
		return res
	}

	if costGold > 0 {
		if err := p.console.DeductGold(ctx, s.UserID, costGold); err != nil {
			logger.Errorw("Failed to deduct gold", "user", s.UserID, "error", err)
		}
	}
	return res
}

// fetchState resolves the plugin and user rows in parallel. Lookup faults
// degrade to an absent row.
func (p *Pipeline) fetchState(ctx context.Context, s *Session) *checkState {
	st := &checkState{session: s}

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		plugin, err := p.console.GetPluginState(ctx, s.PluginName)
		if err == nil {
			st.plugin = plugin
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		user, err := p.console.GetUser(ctx, s.UserID)
		if err == nil {
			st.user = user
		}
	}()
	<-done
	<-done
	return st
}

// runChecks fans out the step-4 checks under the 2*T pipeline bound. A check
// that times out is abandoned and treated as no objection.
func (p *Pipeline) runChecks(ctx context.Context, st *checkState, timings map[string]CheckTiming) (bool, string) {
	outerCtx, cancel := context.WithTimeout(ctx, 2*p.checkTimeout)
	defer cancel()

	outcomes := make(chan checkOutcome, len(checkOrder))
	launched := 0
	for _, name := range checkOrder {
		if p.breakers[name].Open() {
			timings[name] = CheckTiming{Marker: MarkerBreakerSkip}
			continue
		}
		launched++
		go p.runOne(outerCtx, name, st, outcomes)
	}

	skipped := false
	message := ""
	for i := 0; i < launched; i++ {
		out := <-outcomes
		timings[out.name] = CheckTiming{Duration: out.duration, Marker: out.marker}

		if out.marker == MarkerTimeout {
			p.breakers[out.name].RecordTimeout()
			logger.Warnw("Authorization check timed out", "check", out.name)
			continue
		}
		p.breakers[out.name].RecordSuccess()

		if out.err == nil {
			continue
		}
		var skip *SkipPluginError
		var exempt *PermissionExemptionError
		var super *IsSuperuserError
		switch {
		case errors.As(out.err, &skip):
			if !skipped {
				skipped = true
				message = skip.Info
			}
		case errors.As(out.err, &exempt), errors.As(out.err, &super):
			// Expected control flow, the handler still runs.
		default:
			// Fail open on unexpected faults to preserve liveness.
			logger.Errorw("Authorization check failed, continuing",
				"check", out.name, "error", out.err)
		}
	}
	return skipped, message
}

func (p *Pipeline) runOne(ctx context.Context, name string, st *checkState, outcomes chan<- checkOutcome) {
	start := p.timeNow()
	checkCtx, cancel := context.WithTimeout(ctx, p.checkTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- checkFuncs[name](checkCtx, p, st)
	}()

	select {
	case err := <-done:
		outcomes <- checkOutcome{name: name, err: err, duration: p.timeNow().Sub(start)}
	case <-checkCtx.Done():
		outcomes <- checkOutcome{name: name, duration: p.timeNow().Sub(start), marker: MarkerTimeout}
	}
}

// notify delivers a skip message, rate-limited per (user, group) so a banned
// user cannot be spammed with notices. Poke events are always silent.
func (p *Pipeline) notify(ctx context.Context, b bot.Bot, s *Session, message string) {
	if message == "" || s.IsPoke || b == nil {
		return
	}
	key := s.UserID + "_" + s.GroupID
	if !p.noticeCD.Check(key) {
		return
	}
	p.noticeCD.Start(key, 0)
	bot.Send(ctx, b, s.GroupID, s.UserID, message)
}

func (p *Pipeline) logSlow(s *Session, res *Result) {
	fields := []any{
		"plugin", s.PluginName,
		"user", s.UserID,
		"elapsed", res.Elapsed.String(),
	}
	for name, t := range res.Timings {
		if t.Marker != "" {
			fields = append(fields, name, t.Marker)
		} else {
			fields = append(fields, name, t.Duration.String())
		}
	}
	logger.Warnw("Authorization pipeline slow", fields...)
}
