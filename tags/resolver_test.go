package tags

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenxun-org/zhenxun-core/bot"
	"github.com/zhenxun-org/zhenxun-core/cache"
	zxtesting "github.com/zhenxun-org/zhenxun-core/internal/testing"
)

func newTestManager(t *testing.T) (*Manager, *sql.DB) {
	t.Helper()
	database := zxtesting.CreateTestDB(t)
	cm := cache.NewManager(cache.NewMemoryBackend(cache.DefaultTTL))
	return NewManager(NewStore(database), NewRuleRegistry(), cm), database
}

func seedGroups(t *testing.T, database *sql.DB, groups map[string]int) {
	t.Helper()
	for id, level := range groups {
		_, err := database.Exec(
			"INSERT INTO console_groups (group_id, level, status) VALUES (?, ?, 1)", id, level)
		require.NoError(t, err)
	}
}

func TestResolveStaticTag(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.CreateTag(ctx, &Tag{Name: "vip"}))
	require.NoError(t, m.SetGroups(ctx, "vip", []string{"2", "1"}))

	got, err := m.Resolve(ctx, "vip", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, got)

	// With a bot, the result is clipped to the bot's groups.
	b := bot.NewFake("bot1", "1", "3")
	got, err = m.Resolve(ctx, "vip", b)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, got)
}

func TestResolveBlacklistInversion(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	b := bot.NewFake("bot1", "1", "2", "3", "4")

	require.NoError(t, m.CreateTag(ctx, &Tag{Name: "vip"}))
	require.NoError(t, m.SetGroups(ctx, "vip", []string{"1", "2"}))

	got, err := m.Resolve(ctx, "vip", b)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, got)

	flag := true
	require.NoError(t, m.UpdateTag(ctx, "vip", TagUpdate{IsBlacklist: &flag}))
	got, err = m.Resolve(ctx, "vip", b)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, got)

	// Toggling back restores the original set (involution).
	flag = false
	require.NoError(t, m.UpdateTag(ctx, "vip", TagUpdate{IsBlacklist: &flag}))
	got, err = m.Resolve(ctx, "vip", b)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestResolveAllTag(t *testing.T) {
	ctx := context.Background()
	m, database := newTestManager(t)
	seedGroups(t, database, map[string]int{"10": 5, "11": 5})

	got, err := m.Resolve(ctx, SpecialAll, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11"}, got)

	b := bot.NewFake("bot1", "20", "21")
	got, err = m.Resolve(ctx, SpecialAll, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"20", "21"}, got)
}

func TestResolveDynamicExpression(t *testing.T) {
	ctx := context.Background()
	m, database := newTestManager(t)
	seedGroups(t, database, map[string]int{"1": 3, "2": 5, "3": 7, "4": 9})

	require.NoError(t, m.CreateTag(ctx, &Tag{
		Name: "mid", TagType: TypeDynamic, DynamicRule: "level > 3 and level < 9",
	}))
	got, err := m.Resolve(ctx, "mid", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, got)

	// "or" unions conjunctions, with "and" binding tighter.
	require.NoError(t, m.CreateTag(ctx, &Tag{
		Name: "edges", TagType: TypeDynamic, DynamicRule: "level <= 3 or level >= 9",
	}))
	got, err = m.Resolve(ctx, "edges", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4"}, got)

	// "in" takes a comma-separated list.
	require.NoError(t, m.CreateTag(ctx, &Tag{
		Name: "picked", TagType: TypeDynamic, DynamicRule: "group_id in 1,4",
	}))
	got, err = m.Resolve(ctx, "picked", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4"}, got)

	// "contains" is a case-insensitive regex over the column.
	require.NoError(t, m.CreateTag(ctx, &Tag{
		Name: "re", TagType: TypeDynamic, DynamicRule: "group_id contains ^[12]$",
	}))
	got, err = m.Resolve(ctx, "re", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestResolveExpressionFailures(t *testing.T) {
	ctx := context.Background()
	m, database := newTestManager(t)
	seedGroups(t, database, map[string]int{"1": 3, "2": 5})

	// Unknown rule name fails the resolution.
	require.NoError(t, m.CreateTag(ctx, &Tag{
		Name: "bad", TagType: TypeDynamic, DynamicRule: "nosuchrule = 1",
	}))
	_, err := m.Resolve(ctx, "bad", nil)
	var ruleErr *RuleExecutionError
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, "nosuchrule", ruleErr.Rule)

	// Dangling connector is malformed syntax.
	require.NoError(t, m.CreateTag(ctx, &Tag{
		Name: "dangling", TagType: TypeDynamic, DynamicRule: "level > 1 and",
	}))
	_, err = m.Resolve(ctx, "dangling", nil)
	assert.ErrorAs(t, err, &ruleErr)

	// An unsupported operator empties its conjunction but the disjunction
	// still yields the other clause.
	require.NoError(t, m.CreateTag(ctx, &Tag{
		Name: "partial", TagType: TypeDynamic, DynamicRule: "level ~ 1 or level > 4",
	}))
	got, err := m.Resolve(ctx, "partial", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, got)
}

func TestResolveCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.CreateTag(ctx, &Tag{Name: "vip"}))
	require.NoError(t, m.SetGroups(ctx, "vip", []string{"1"}))

	got, err := m.Resolve(ctx, "vip", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, got)

	// A link write must be visible on the next resolve.
	require.NoError(t, m.AddGroups(ctx, "vip", []string{"2"}))
	got, err = m.Resolve(ctx, "vip", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, got)
}
