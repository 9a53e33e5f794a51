package tags

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// Result is the outcome of evaluating one atomic rule. Exactly one of the
// three shapes applies.
type Result interface{ isResult() }

// QueryResult is a predicate expressible as a store condition.
type QueryResult struct {
	Predicate Predicate
}

// IDSetResult is an explicit set of group ids.
type IDSetResult struct {
	IDs []string
}

// ErrorResult is a user-visible parse or evaluation failure.
type ErrorResult struct {
	Message string
}

func (QueryResult) isResult() {}
func (IDSetResult) isResult() {}
func (ErrorResult) isResult() {}

// Predicate is a conjoinable SQL condition over console_groups.
type Predicate struct {
	SQL  string
	Args []any
}

// RuleExecutionError reports a malformed or unknown rule with the expected
// syntax.
type RuleExecutionError struct {
	Rule           string
	Reason         string
	ExpectedFormat string
}

func (e *RuleExecutionError) Error() string {
	if e.ExpectedFormat != "" {
		return fmt.Sprintf("rule %q: %s (expected: %s)", e.Rule, e.Reason, e.ExpectedFormat)
	}
	return fmt.Sprintf("rule %q: %s", e.Rule, e.Reason)
}

// RuleContext gives rule handlers access to the store and the evaluating bot.
type RuleContext struct {
	Store *Store
	// BotGroupIDs is nil when no bot context was provided.
	BotGroupIDs []string
}

// RuleFunc evaluates one atomic rule given its argument tokens.
type RuleFunc func(ctx context.Context, rc *RuleContext, args []string) Result

// Rule is a named rule with its usage string for error messages.
type Rule struct {
	Name  string
	Usage string
	Fn    RuleFunc
}

// RuleRegistry maps rule names to handlers.
type RuleRegistry struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewRuleRegistry creates a registry preloaded with the built-in field rules.
func NewRuleRegistry() *RuleRegistry {
	r := &RuleRegistry{rules: make(map[string]*Rule)}
	r.RegisterFieldRule("level", "level")
	r.RegisterFieldRule("group_id", "group_id")
	r.RegisterFieldRule("status", "status")
	return r
}

// Register adds a custom rule.
func (r *RuleRegistry) Register(rule *Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Name] = rule
}

// Lookup finds a rule by name.
func (r *RuleRegistry) Lookup(name string) (*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[name]
	return rule, ok
}

// fieldOps are the operators a field rule accepts.
var fieldOps = map[string]string{
	"=":  "=",
	"!=": "!=",
	">":  ">",
	">=": ">=",
	"<":  "<",
	"<=": "<=",
}

// RegisterFieldRule generates a rule bound to a console_groups column with
// the syntax "<name> <op> <value>". Operators: = != > >= < <= contains in.
// "in" takes a comma-separated list; "contains" is a case-insensitive regex
// match evaluated against the column.
func (r *RuleRegistry) RegisterFieldRule(name, column string) {
	usage := fmt.Sprintf("%s <op> <value>, op: = != > >= < <= contains in", name)

	fn := func(ctx context.Context, rc *RuleContext, args []string) Result {
		if len(args) < 2 {
			return ErrorResult{Message: fmt.Sprintf("rule %q needs an operator and a value (expected: %s)", name, usage)}
		}
		op := args[0]
		value := strings.Join(args[1:], " ")

		if sqlOp, ok := fieldOps[op]; ok {
			return QueryResult{Predicate: Predicate{
				SQL:  fmt.Sprintf("%s %s ?", column, sqlOp),
				Args: []any{value},
			}}
		}

		switch op {
		case "in":
			items := strings.Split(value, ",")
			placeholders := make([]string, len(items))
			sqlArgs := make([]any, len(items))
			for i, item := range items {
				placeholders[i] = "?"
				sqlArgs[i] = strings.TrimSpace(item)
			}
			return QueryResult{Predicate: Predicate{
				SQL:  fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")),
				Args: sqlArgs,
			}}
		case "contains":
			// Regex semantics cannot be pushed into sqlite; match in process.
			re, err := regexp.Compile("(?i)" + value)
			if err != nil {
				return ErrorResult{Message: fmt.Sprintf("rule %q: invalid pattern %q", name, value)}
			}
			ids, err := matchColumn(ctx, rc.Store, column, re)
			if err != nil {
				return ErrorResult{Message: fmt.Sprintf("rule %q: %v", name, err)}
			}
			return IDSetResult{IDs: ids}
		default:
			return ErrorResult{Message: fmt.Sprintf("rule %q does not support operator %q (expected: %s)", name, op, usage)}
		}
	}

	r.Register(&Rule{Name: name, Usage: usage, Fn: fn})
}

// matchColumn scans console_groups and returns the group ids whose column
// value matches the pattern.
func matchColumn(ctx context.Context, store *Store, column string, re *regexp.Regexp) ([]string, error) {
	rows, err := store.db.QueryContext(ctx,
		fmt.Sprintf("SELECT group_id, CAST(%s AS TEXT) FROM console_groups", column))
	if err != nil {
		return nil, errors.Wrap(err, "query groups")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, errors.Wrap(err, "scan group")
		}
		if re.MatchString(value) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// evaluatePredicates conjoins predicates and runs them against the store.
func evaluatePredicates(ctx context.Context, store *Store, predicates []Predicate) ([]string, error) {
	if len(predicates) == 0 {
		return nil, nil
	}

	clauses := make([]string, len(predicates))
	var args []any
	for i, p := range predicates {
		clauses[i] = "(" + p.SQL + ")"
		args = append(args, p.Args...)
	}

	query := "SELECT group_id FROM console_groups WHERE " + strings.Join(clauses, " AND ")
	rows, err := store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate rule predicates")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan group")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
