package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenxun-org/zhenxun-core/bot"
	"github.com/zhenxun-org/zhenxun-core/errors"
)

func noopHandler(context.Context, bot.Bot, *Invocation) error { return nil }

func TestRegisterLookupDeregister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&Registration{Name: "greet", Handler: noopHandler}))

	reg, ok := r.Lookup("greet")
	require.True(t, ok)
	assert.Equal(t, "greet", reg.Name)

	// Overwrite is allowed.
	require.NoError(t, r.Register(&Registration{Name: "greet", Handler: noopHandler, CLIUsage: "v2"}))
	reg, _ = r.Lookup("greet")
	assert.Equal(t, "v2", reg.CLIUsage)

	r.Deregister("greet")
	_, ok = r.Lookup("greet")
	assert.False(t, ok)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Registration{Name: ""}))
	assert.Error(t, r.Register(&Registration{Name: "x"}))
}

func TestNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(&Registration{Name: name, Handler: noopHandler}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Registration{
		Name:    "greet",
		Handler: noopHandler,
		ValidateKwargs: func(kwargs map[string]any) error {
			if _, ok := kwargs["text"].(string); !ok {
				return errors.New("text: required string")
			}
			return nil
		},
	}))

	assert.NoError(t, r.Validate("greet", map[string]any{"text": "hi"}))

	err := r.Validate("greet", map[string]any{})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	err = r.Validate("missing", nil)
	assert.ErrorIs(t, err, errors.ErrPluginNotRegistered)
}
