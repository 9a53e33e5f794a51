package tags

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/zhenxun-org/zhenxun-core/bot"
	"github.com/zhenxun-org/zhenxun-core/cache"
	"github.com/zhenxun-org/zhenxun-core/errors"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// CacheNamespace memoizes resolved tag sets, keyed (name, bot_id).
const CacheNamespace = "tag_resolution"

// resolveTTL is how long a resolved set stays memoized.
const resolveTTL = 300 * time.Second

// Resolve expands a tag name to the set of group ids it denotes, sorted.
//
// The special tag "@all" expands to every group the bot sees, or every group
// in the store when b is nil. STATIC tags expand to their link set, DYNAMIC
// tags evaluate their rule expression. A blacklist tag inverts the computed
// set against all known groups. When a bot is provided the final set is
// intersected with the bot's group list.
func (m *Manager) Resolve(ctx context.Context, name string, b bot.Bot) ([]string, error) {
	botID := ""
	var botGroups []string
	if b != nil {
		botID = b.ID()
		groups, err := b.GroupList(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "group list for bot %s", botID)
		}
		botGroups = make([]string, len(groups))
		for i, g := range groups {
			botGroups[i] = g.GroupID
		}
	}

	fields := map[string]string{"name": name, "bot_id": botID}
	if cached, hit, err := m.resolveCache.Get(ctx, fields); err == nil && hit == cache.HitValue {
		return cached, nil
	}

	resolved, err := m.resolveUncached(ctx, name, botGroups, b != nil)
	if err != nil {
		return nil, err
	}

	sort.Strings(resolved)
	if err := m.resolveCache.Set(ctx, fields, resolved, resolveTTL); err != nil {
		logger.Warnw("Failed to memoize tag resolution", "tag", name, "error", err)
	}
	return resolved, nil
}

func (m *Manager) resolveUncached(ctx context.Context, name string, botGroups []string, haveBot bool) ([]string, error) {
	if name == SpecialAll {
		if haveBot {
			return append([]string{}, botGroups...), nil
		}
		return m.store.AllGroupIDs(ctx)
	}

	tag, err := m.store.GetTagByName(ctx, name)
	if err != nil {
		return nil, err
	}

	var set []string
	switch tag.TagType {
	case TypeStatic:
		set, err = m.store.LinkedGroupIDs(ctx, tag.ID)
	case TypeDynamic:
		set, err = m.evaluateExpression(ctx, tag.DynamicRule, botGroups, haveBot)
	default:
		return nil, errors.Newf("tag %s has unknown type %s", name, tag.TagType)
	}
	if err != nil {
		return nil, err
	}

	if tag.IsBlacklist {
		var all []string
		if haveBot {
			all = botGroups
		} else {
			all, err = m.store.AllGroupIDs(ctx)
			if err != nil {
				return nil, err
			}
		}
		diff, _ := lo.Difference(all, set)
		set = diff
	}

	if haveBot {
		set = lo.Intersect(set, botGroups)
	}
	return lo.Uniq(set), nil
}

// evaluateExpression resolves a rule expression: a disjunction ("or") of
// conjunctions ("and") of atomic rules, no parentheses, "and" binding
// tighter than "or".
func (m *Manager) evaluateExpression(ctx context.Context, expression string, botGroups []string, haveBot bool) ([]string, error) {
	tokens := strings.Fields(expression)
	if len(tokens) == 0 {
		return nil, &RuleExecutionError{Rule: expression, Reason: "empty rule expression"}
	}

	clauses, err := splitExpression(tokens)
	if err != nil {
		return nil, err
	}

	rc := &RuleContext{Store: m.store}
	if haveBot {
		rc.BotGroupIDs = botGroups
	}

	var union []string
	for _, clause := range clauses {
		set, err := m.evaluateConjunction(ctx, rc, clause)
		if err != nil {
			return nil, err
		}
		union = lo.Union(union, set)
	}
	return union, nil
}

// evaluateConjunction intersects the results of one "and" clause. Query
// predicates are conjoined and evaluated in a single store query; explicit
// id sets intersect with the query result. A rule reporting ErrorResult
// empties the clause.
func (m *Manager) evaluateConjunction(ctx context.Context, rc *RuleContext, clause [][]string) ([]string, error) {
	var predicates []Predicate
	var idSets [][]string

	for _, atom := range clause {
		ruleName := atom[0]
		rule, ok := m.rules.Lookup(ruleName)
		if !ok {
			return nil, &RuleExecutionError{Rule: ruleName, Reason: "unknown rule"}
		}

		switch result := rule.Fn(ctx, rc, atom[1:]).(type) {
		case QueryResult:
			predicates = append(predicates, result.Predicate)
		case IDSetResult:
			idSets = append(idSets, result.IDs)
		case ErrorResult:
			logger.Warnw("Tag rule failed, clause yields no groups",
				"rule", ruleName, "message", result.Message)
			return nil, nil
		}
	}

	var fromSets []string
	haveSets := len(idSets) > 0
	if haveSets {
		fromSets = idSets[0]
		for _, set := range idSets[1:] {
			fromSets = lo.Intersect(fromSets, set)
		}
	}

	if len(predicates) == 0 {
		return fromSets, nil
	}

	fromQuery, err := evaluatePredicates(ctx, m.store, predicates)
	if err != nil {
		return nil, err
	}
	if !haveSets {
		return fromQuery, nil
	}
	return lo.Intersect(fromSets, fromQuery), nil
}

// splitExpression splits tokens into "or" clauses of "and"-joined atoms.
// Each atom is a rule name followed by its argument tokens.
func splitExpression(tokens []string) ([][][]string, error) {
	var clauses [][][]string
	var clause [][]string
	var atom []string

	flushAtom := func() error {
		if len(atom) == 0 {
			return &RuleExecutionError{Rule: strings.Join(tokens, " "), Reason: "malformed expression: dangling connector"}
		}
		clause = append(clause, atom)
		atom = nil
		return nil
	}

	for _, token := range tokens {
		switch token {
		case "and":
			if err := flushAtom(); err != nil {
				return nil, err
			}
		case "or":
			if err := flushAtom(); err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
			clause = nil
		default:
			atom = append(atom, token)
		}
	}
	if err := flushAtom(); err != nil {
		return nil, err
	}
	clauses = append(clauses, clause)
	return clauses, nil
}
