package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenxun-org/zhenxun-core/cache"
	zxtesting "github.com/zhenxun-org/zhenxun-core/internal/testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := NewStore(zxtesting.CreateTestDB(t))
	return NewService(store, cache.NewManager(cache.NewMemoryBackend(cache.DefaultTTL)))
}

func TestEffectiveConfigOverlay(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.RegisterDefaults("greet", map[string]any{"text": "hello", "times": float64(1)})

	// No overrides: pure defaults.
	got, err := svc.GetAllForPlugin(ctx, "g1", "greet")
	require.NoError(t, err)
	assert.Equal(t, "hello", got["text"])

	// Override wins per key; untouched keys keep defaults.
	require.NoError(t, svc.SetKey(ctx, "g1", "greet", "text", "hi"))
	got, err = svc.GetAllForPlugin(ctx, "g1", "greet")
	require.NoError(t, err)
	assert.Equal(t, "hi", got["text"])
	assert.Equal(t, float64(1), got["times"])

	// Other groups are unaffected.
	got, err = svc.GetAllForPlugin(ctx, "g2", "greet")
	require.NoError(t, err)
	assert.Equal(t, "hello", got["text"])
}

func TestResetKeyDeletesEmptyRow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.SetKey(ctx, "g1", "greet", "text", "hi"))
	require.NoError(t, svc.ResetKey(ctx, "g1", "greet", "text"))

	blob, err := svc.store.Get(ctx, "g1", "greet")
	require.NoError(t, err)
	assert.Empty(t, blob)

	var rowCount int
	// The row itself must be gone, not just emptied.
	err = svc.store.db.QueryRow(
		"SELECT COUNT(*) FROM group_plugin_settings WHERE group_id = 'g1'").Scan(&rowCount)
	require.NoError(t, err)
	assert.Zero(t, rowCount)
}

func TestSetFullConfigAndResetAll(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.RegisterDefaults("greet", map[string]any{"text": "hello"})

	require.NoError(t, svc.SetFullConfig(ctx, "g1", "greet", map[string]any{"text": "yo", "loud": true}))
	got, err := svc.GetAllForPlugin(ctx, "g1", "greet")
	require.NoError(t, err)
	assert.Equal(t, "yo", got["text"])
	assert.Equal(t, true, got["loud"])

	require.NoError(t, svc.ResetAll(ctx, "g1", "greet"))
	got, err = svc.GetAllForPlugin(ctx, "g1", "greet")
	require.NoError(t, err)
	assert.Equal(t, "hello", got["text"])
	_, hasLoud := got["loud"]
	assert.False(t, hasLoud)
}

func TestCacheCoherenceOnMutation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.SetKey(ctx, "g1", "greet", "v", float64(1)))
	got, err := svc.GetAllForPlugin(ctx, "g1", "greet")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got["v"])

	// The cached effective config must be dropped on write.
	require.NoError(t, svc.SetKey(ctx, "g1", "greet", "v", float64(2)))
	got, err = svc.GetAllForPlugin(ctx, "g1", "greet")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got["v"])
}

type greetConfig struct {
	Text  string `json:"text"`
	Times int    `json:"times"`
}

func TestGetParsed(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.RegisterDefaults("greet", map[string]any{"text": "hello", "times": 2})

	cfg, err := GetParsed[greetConfig](ctx, svc, "g1", "greet")
	require.NoError(t, err)
	assert.Equal(t, "hello", cfg.Text)
	assert.Equal(t, 2, cfg.Times)

	// A blob that does not match the schema falls back to the zero model.
	require.NoError(t, svc.SetKey(ctx, "g1", "greet", "times", "not-a-number"))
	cfg, err = GetParsed[greetConfig](ctx, svc, "g1", "greet")
	require.NoError(t, err)
	assert.Equal(t, greetConfig{}, cfg)
}
